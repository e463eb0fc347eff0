// Package redislock implements lock.Coordinator on Redis with redsync, so
// every instance of the service pointing at the same Redis shares one set
// of account leases.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"

	"github.com/MrJamesThe3rd/ledger/internal/lock"
)

const fencePrefix = "fence:"

type Coordinator struct {
	client goredislib.UniversalClient
	rs     *redsync.Redsync
	opts   lock.Options
	logger *slog.Logger
	now    func() time.Time
}

var _ lock.Coordinator = (*Coordinator)(nil)

func New(client goredislib.UniversalClient, opts lock.Options, logger *slog.Logger) *Coordinator {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = lock.DefaultOptions().RetryDelay
	}

	return &Coordinator{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the clock used to seed fence counters.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// tries converts the wait bound into redsync attempts.
func (c *Coordinator) tries() int {
	return int(c.opts.Wait/c.opts.RetryDelay) + 1
}

func (c *Coordinator) Acquire(ctx context.Context, key string) (*lock.Lease, error) {
	if strings.TrimSpace(key) == "" {
		return nil, lock.ErrEmptyKey
	}

	mutex := c.rs.NewMutex(key,
		redsync.WithExpiry(c.opts.TTL),
		redsync.WithTries(c.tries()),
		redsync.WithRetryDelay(c.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if isContention(err) {
			c.logger.WarnContext(ctx, "lock wait exceeded", "lock_key", key, "wait", c.opts.Wait)
			return nil, lock.ErrTimeout
		}

		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}

	fence, err := c.nextFence(ctx, key)
	if err != nil {
		if _, unlockErr := mutex.UnlockContext(context.WithoutCancel(ctx)); unlockErr != nil {
			c.logger.ErrorContext(ctx, "failed to release lock after fence error", "lock_key", key, "error", unlockErr)
		}

		return nil, fmt.Errorf("issuing fence for %s: %w", key, err)
	}

	c.logger.DebugContext(ctx, "lock acquired", "lock_key", key, "fence", fence)

	return &lock.Lease{
		Key:       key,
		Token:     mutex.Value(),
		Fence:     fence,
		ExpiresAt: mutex.Until(),
	}, nil
}

// nextFence increments the per-key counter, seeding a missing counter at
// lock.FenceFloor so a flushed or evicted key never restarts below fences
// that accounts have already recorded.
func (c *Coordinator) nextFence(ctx context.Context, key string) (int64, error) {
	var incr *goredislib.IntCmd

	_, err := c.client.TxPipelined(ctx, func(pipe goredislib.Pipeliner) error {
		pipe.SetNX(ctx, fencePrefix+key, lock.FenceFloor(c.now()), 0)
		incr = pipe.Incr(ctx, fencePrefix+key)

		return nil
	})
	if err != nil {
		return 0, err
	}

	return incr.Val(), nil
}

// Release deletes the key only while it still holds the lease token, so an
// expired lease never frees a lock that another instance has since taken.
func (c *Coordinator) Release(ctx context.Context, lease *lock.Lease) error {
	if lease == nil || lease.Token == "" {
		return nil
	}

	mutex := c.rs.NewMutex(lease.Key,
		redsync.WithValue(lease.Token),
		redsync.WithExpiry(c.opts.TTL),
	)

	ok, err := mutex.UnlockContext(ctx)
	if err != nil {
		if isContention(err) {
			c.logger.DebugContext(ctx, "lease already expired or superseded", "lock_key", lease.Key, "fence", lease.Fence)
			return nil
		}

		return fmt.Errorf("releasing lock %s: %w", lease.Key, err)
	}

	if !ok {
		c.logger.DebugContext(ctx, "lease was not held", "lock_key", lease.Key, "fence", lease.Fence)
	}

	return nil
}

// Ping checks connectivity to the Redis backing.
func (c *Coordinator) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return c.client.Ping(ctx).Err()
}

func isContention(err error) bool {
	var (
		taken     *redsync.ErrTaken
		nodeTaken *redsync.ErrNodeTaken
	)

	return errors.Is(err, redsync.ErrFailed) ||
		errors.Is(err, redsync.ErrLockAlreadyExpired) ||
		errors.As(err, &taken) ||
		errors.As(err, &nodeTaken) ||
		strings.Contains(err.Error(), "lock already taken")
}
