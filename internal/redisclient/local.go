package redisclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Local provides the lock and idempotency-key operations of Client inside one process.
// It is used when Redis is disabled and in tests.
type Local struct {
	mu   sync.Mutex
	keys map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	value     string
	expiresAt time.Time
}

func NewLocal() *Local {
	return &Local{keys: map[string]localEntry{}, now: time.Now}
}

func (l *Local) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys["idempotency:"+key] = localEntry{value: "1", expiresAt: l.now().Add(ttl)}
	return nil
}

func (l *Local) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.get("idempotency:" + key)
	return ok, nil
}

func (l *Local) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := "lock:" + lockKey
	if _, held := l.get(key); held {
		return "", false, nil
	}
	token := uuid.New().String()
	l.keys[key] = localEntry{value: token, expiresAt: l.now().Add(ttl)}
	return token, true, nil
}

func (l *Local) ReleaseLock(ctx context.Context, lockKey, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := "lock:" + lockKey
	if e, ok := l.get(key); ok && e.value == token {
		delete(l.keys, key)
	}
	return nil
}

func (l *Local) Ping(ctx context.Context) error { return nil }

func (l *Local) get(key string) (localEntry, bool) {
	e, ok := l.keys[key]
	if !ok {
		return localEntry{}, false
	}
	if !e.expiresAt.After(l.now()) {
		delete(l.keys, key)
		return localEntry{}, false
	}
	return e, true
}
