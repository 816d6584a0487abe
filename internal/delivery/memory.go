package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errLostReply = errors.New("connection reset reading transfer reply")

// Memory is an in-process settlement service. Every transfer gets its own
// operation, starting in StatePending.
type Memory struct {
	mu     sync.Mutex
	seq    int
	ops    map[string]State
	sent   map[string][]uint64
	failOn error
	lost   bool
	calls  int
}

func NewMemory() *Memory {
	return &Memory{ops: map[string]State{}, sent: map[string][]uint64{}}
}

func (m *Memory) Transfer(_ context.Context, itemIDs []uint64, destination string) (map[uint64]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn != nil {
		return nil, m.failOn
	}
	out := make(map[uint64]string, len(itemIDs))
	for _, id := range itemIDs {
		m.seq++
		op := fmt.Sprintf("op-%d", m.seq)
		m.ops[op] = StatePending
		out[id] = op
	}
	m.sent[destination] = append(m.sent[destination], itemIDs...)
	if m.lost {
		return nil, errLostReply
	}
	return out, nil
}

func (m *Memory) OperationState(_ context.Context, operationID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.ops[operationID]
	if !ok {
		return StateUnknown, nil
	}
	return s, nil
}

// SetState moves an operation, as the chain would.
func (m *Memory) SetState(operationID string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[operationID] = s
}

// SetFailure makes every following Transfer fail with err; nil clears it.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = err
}

// SetLostReply makes following transfers go through while the caller gets an
// error instead of the operation ids.
func (m *Memory) SetLostReply(lost bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = lost
}

// Calls counts Transfer requests, failed ones included.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Sent returns the item ids transferred to destination so far.
func (m *Memory) Sent(destination string) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.sent[destination]...)
}
