package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker serialises turns of the same session so that the load, modify
// and save cycle of one turn cannot interleave with another.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

// KeyedLocker is an in-process Locker with one mutex per session id.
// Entries are removed once no goroutine holds or waits for them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLocker creates an empty in-process locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until the session lock is acquired or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[sessionID]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		l.locks[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(sessionID, e)
		})
	}, nil
}

func (l *KeyedLocker) release(sessionID string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, sessionID)
	}
}

// Len returns the number of sessions currently locked or awaited.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLockNotAcquired is returned when a distributed lock cannot be taken
// before the context expires.
var ErrLockNotAcquired = errors.New("session lock not acquired")

// RedisLocker is a Locker shared by every instance connected to the same
// Redis. The lock expires after ttl so a crashed holder cannot block a
// session forever.
type RedisLocker struct {
	client   *redis.Client
	ttl      time.Duration
	prefix   string
	pollWait time.Duration
}

// NewRedisLocker creates a distributed locker on client.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisLocker{
		client:   client,
		ttl:      ttl,
		prefix:   "animalcare:session-lock:",
		pollWait: 50 * time.Millisecond,
	}
}

// Lock polls until the session key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := l.prefix + sessionID
	token := uuid.NewString()

	wait := l.pollWait
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
		case <-time.After(wait):
		}
		if wait < time.Second {
			wait *= 2
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The turn context may already be cancelled when unlocking.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = unlockScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

var (
	_ Locker = (*KeyedLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
