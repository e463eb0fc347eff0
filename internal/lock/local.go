package lock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Local is an in-process Coordinator for single-instance deployments.
//
// Each key maps to an entry that lives only while it has a holder or
// waiters. An entry whose holder outlived its TTL is handed to the next
// caller, and the superseded holder's Release becomes a no-op because its
// token no longer matches.
type Local struct {
	opts Options

	mu      sync.Mutex
	entries map[string]*entry

	fence atomic.Int64
}

type entry struct {
	token     string
	expiresAt time.Time
	waiters   int
	released  chan struct{}
}

var _ Coordinator = (*Local)(nil)

func NewLocal(opts Options) *Local {
	l := &Local{
		opts:    opts,
		entries: make(map[string]*entry),
	}
	l.fence.Store(FenceFloor(time.Now()))

	return l
}

func (l *Local) Acquire(ctx context.Context, key string) (*Lease, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}

	deadline := time.NewTimer(l.opts.Wait)
	defer deadline.Stop()

	l.mu.Lock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}

	e.waiters++

	for {
		now := time.Now()
		if e.token == "" || !now.Before(e.expiresAt) {
			lease := l.grant(key, e, now)
			e.waiters--
			l.mu.Unlock()

			return lease, nil
		}

		wake := e.released
		expiry := time.NewTimer(e.expiresAt.Sub(now))
		l.mu.Unlock()

		var err error

		select {
		case <-wake:
		case <-expiry.C:
		case <-deadline.C:
			err = ErrTimeout
		case <-ctx.Done():
			err = ctx.Err()
		}

		expiry.Stop()
		l.mu.Lock()

		if err != nil {
			e.waiters--
			l.prune(key, e)
			l.mu.Unlock()

			return nil, err
		}
	}
}

// Release frees the lease if it is still the current holder of its key.
func (l *Local) Release(_ context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[lease.Key]
	if !ok || e.token == "" || e.token != lease.Token {
		return nil
	}

	e.token = ""
	close(e.released)
	e.released = nil
	l.prune(lease.Key, e)

	return nil
}

// must hold l.mu
func (l *Local) grant(key string, e *entry, now time.Time) *Lease {
	e.token = uuid.NewString()
	e.expiresAt = now.Add(l.opts.TTL)
	e.released = make(chan struct{})

	return &Lease{
		Key:       key,
		Token:     e.token,
		Fence:     l.fence.Add(1),
		ExpiresAt: e.expiresAt,
	}
}

// must hold l.mu
func (l *Local) prune(key string, e *entry) {
	if e.token == "" && e.waiters == 0 {
		delete(l.entries, key)
	}
}
