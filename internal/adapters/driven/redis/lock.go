package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

// DefaultLockPrefix keeps lock keys apart from the task queue streams.
const DefaultLockPrefix = "docintel:lock:"

// Lock is a single-key Redis lock (SET NX PX). The value is the owner ID,
// and release and extend run as Lua scripts that compare it, so an
// instance whose lock expired mid-upload cannot drop the new holder's lock.
type Lock struct {
	client  redis.UniversalClient
	prefix  string
	ownerID string
}

type LockOption func(*Lock)

func WithPrefix(prefix string) LockOption {
	return func(l *Lock) { l.prefix = prefix }
}

// WithOwnerID pins the owner, e.g. to a pod name, for easier debugging.
func WithOwnerID(id string) LockOption {
	return func(l *Lock) { l.ownerID = id }
}

func NewLock(client redis.UniversalClient, opts ...LockOption) *Lock {
	l := &Lock{
		client:  client,
		prefix:  DefaultLockPrefix,
		ownerID: generateOwnerID(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// generateOwnerID returns hostname:pid:uuid.
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString())
}

func (l *Lock) key(name string) string {
	return l.prefix + name
}

// Acquire reports false while anyone holds the key, this instance included:
// a second upload of the same address in one process must wait too.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	result, err := l.client.SetNX(ctx, l.key(name), l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return result, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (l *Lock) Release(ctx context.Context, name string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Extend fails with domain.ErrConflict when the key expired or changed owner.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if result == 0 {
		return fmt.Errorf("lock %s not held by %s: %w", name, l.ownerID, domain.ErrConflict)
	}
	return nil
}

func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Lock) OwnerID() string {
	return l.ownerID
}
