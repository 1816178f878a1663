package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cpay-gateway/pkg/apperror"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionLock implements ports.SessionLocker with SET NX PX and a
// token-checked release.
type SessionLock struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	log    zerolog.Logger
}

// NewSessionLock creates a lock with the given TTL. Callers wait at most one
// TTL to acquire it.
func NewSessionLock(client goredis.UniversalClient, ttl time.Duration, log zerolog.Logger) *SessionLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &SessionLock{
		client: client,
		prefix: "cpay:lock:",
		ttl:    ttl,
		wait:   ttl,
		retry:  50 * time.Millisecond,
		log:    log,
	}
}

// WithLock runs fn while holding the lock for key.
func (l *SessionLock) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := l.prefix + key
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}
	defer func() {
		// Release on a fresh context so a cancelled request still frees the key.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("session lock release failed; it expires with its TTL")
		}
	}()

	return fn(ctx)
}

func (l *SessionLock) acquire(ctx context.Context, redisKey, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return apperror.ErrDatabaseError(fmt.Errorf("redis lock acquire: %w", err))
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return apperror.ErrLockTimeout(errors.New("lock held: " + redisKey))
		}

		select {
		case <-ctx.Done():
			return apperror.ErrLockTimeout(ctx.Err())
		case <-time.After(l.retry):
		}
	}
}
