package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"nftstore/internal/model"

	"github.com/stretchr/testify/require"
)

func TestToDeliveryStatus(t *testing.T) {
	tests := []struct {
		state State
		want  model.DeliveryStatus
	}{
		{StatePending, model.DeliveryInitiating},
		{StateProcessing, model.DeliveryDelivering},
		{StateWaiting, model.DeliveryDelivering},
		{StateConfirmed, model.DeliveryDelivered},
		{StateUnknown, model.DeliveryUnknown},
		{StateRejected, model.DeliveryUnknown},
		{StateFailed, model.DeliveryUnknown},
		{StateLost, model.DeliveryUnknown},
		{StateCanary, model.DeliveryUnknown},
	}
	for _, tt := range tests {
		got, err := ToDeliveryStatus(tt.state)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, tt.state)
	}

	_, err := ToDeliveryStatus("exploded")
	require.Error(t, err)
}

func TestMemoryTransfer(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ops, err := m.Transfer(ctx, []uint64{7, 9}, "tz1dest")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.NotEqual(t, ops[7], ops[9])

	s, err := m.OperationState(ctx, ops[7])
	require.NoError(t, err)
	require.Equal(t, StatePending, s)

	m.SetState(ops[7], StateConfirmed)
	s, err = m.OperationState(ctx, ops[7])
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, s)
	require.Equal(t, []uint64{7, 9}, m.Sent("tz1dest"))
}

func TestHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transfers":
			var req struct {
				Destination string   `json:"destination"`
				ItemIDs     []uint64 `json:"item_ids"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "tz1dest", req.Destination)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"operations": map[string]string{"3": "op-a", "4": "op-b"},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/operations/op-a":
			_ = json.NewEncoder(w).Encode(map[string]string{"state": "waiting"})
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/")
	ctx := context.Background()

	ops, err := c.Transfer(ctx, []uint64{3, 4}, "tz1dest")
	require.NoError(t, err)
	require.Equal(t, map[uint64]string{3: "op-a", 4: "op-b"}, ops)

	s, err := c.OperationState(ctx, "op-a")
	require.NoError(t, err)
	require.Equal(t, StateWaiting, s)

	_, err = c.OperationState(ctx, "missing")
	require.Error(t, err)
}

func TestHTTPClientTransferFailures(t *testing.T) {
	refuse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer refuse.Close()
	garbled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"operations":`))
	}))
	defer garbled.Close()
	ctx := context.Background()

	_, err := NewHTTPClient(refuse.URL).Transfer(ctx, []uint64{1}, "tz1dest")
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "status=503")

	// a 2xx reply that cannot be read may still have started the transfer
	_, err = NewHTTPClient(garbled.URL).Transfer(ctx, []uint64{1}, "tz1dest")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRejected)
}
