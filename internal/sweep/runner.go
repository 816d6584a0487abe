// Package sweep runs the periodic background jobs. Every job runs under a
// Redis lock so that only one instance of the service works on it at a time.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rediskey "nftstore/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// Sweep is one named periodic job.
type Sweep struct {
	Name string
	Run  func(ctx context.Context) error
}

type Runner struct {
	rdb      *rd.Client
	interval time.Duration
	lockTTL  time.Duration
}

// NewRunner ticks every interval. A job's lock outlives one interval so a
// slow run is not joined by a second instance.
func NewRunner(rdb *rd.Client, interval time.Duration) *Runner {
	return &Runner{rdb: rdb, interval: interval, lockTTL: 5 * interval}
}

// RunOnce runs s unless another instance holds its lock. ran reports whether
// it did. The lock is renewed while s runs; if a renewal fails, the context
// handed to s is canceled.
func (r *Runner) RunOnce(ctx context.Context, s Sweep) (ran bool, err error) {
	key := rediskey.SweepLockKey(s.Name)
	token, ok, err := rediskey.TryLock(ctx, r.rdb, key, r.lockTTL)
	if err != nil {
		return false, fmt.Errorf("lock sweep %s: %w", s.Name, err)
	}
	if !ok {
		slog.DebugContext(ctx, "sweep locked elsewhere, skipping", "sweep", s.Name)
		return false, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.keepLock(runCtx, cancel, s.Name, key, token)
	}()
	defer func() {
		cancel()
		<-done
		if err := rediskey.Unlock(context.WithoutCancel(ctx), r.rdb, key, token); err != nil {
			slog.WarnContext(ctx, "failed to release sweep lock", "sweep", s.Name, "error", err)
		}
	}()
	return true, s.Run(runCtx)
}

// keepLock renews the lease every third of its TTL until ctx ends. A lost
// lease cancels the run.
func (r *Runner) keepLock(ctx context.Context, cancel context.CancelFunc, name, key, token string) {
	t := time.NewTicker(r.lockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ok, err := rediskey.Renew(ctx, r.rdb, key, token, r.lockTTL)
			if ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				slog.ErrorContext(ctx, "lost sweep lock, stopping run", "sweep", name, "error", err)
				cancel()
				return
			}
		}
	}
}

// Start runs every sweep on its own ticker until ctx is done, then waits for
// the running jobs to return.
func (r *Runner) Start(ctx context.Context, sweeps ...Sweep) {
	var wg sync.WaitGroup
	for _, s := range sweeps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.NewTicker(r.interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if _, err := r.RunOnce(ctx, s); err != nil {
						slog.ErrorContext(ctx, "sweep failed", "sweep", s.Name, "error", err)
					}
				}
			}
		}()
	}
	wg.Wait()
}
