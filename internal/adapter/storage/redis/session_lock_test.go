package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cpay-gateway/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T, ttl time.Duration) (*SessionLock, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	lock := NewSessionLock(client, ttl, zerolog.Nop())
	lock.retry = 5 * time.Millisecond
	return lock, mr
}

func TestSessionLock_RunsAndReleases(t *testing.T) {
	lock, mr := newTestLock(t, time.Second)
	ctx := context.Background()

	err := lock.WithLock(ctx, "session:ps_1", func(ctx context.Context) error {
		assert.True(t, mr.Exists("cpay:lock:session:ps_1"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("cpay:lock:session:ps_1"))
}

func TestSessionLock_PropagatesError(t *testing.T) {
	lock, mr := newTestLock(t, time.Second)
	want := errors.New("transition rejected")

	err := lock.WithLock(context.Background(), "session:ps_1", func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
	assert.False(t, mr.Exists("cpay:lock:session:ps_1"), "lock is released on error")
}

func TestSessionLock_TimesOutWhileHeld(t *testing.T) {
	lock, mr := newTestLock(t, time.Second)
	lock.wait = 30 * time.Millisecond
	require.NoError(t, mr.Set("cpay:lock:session:ps_1", "someone-else"))

	called := false
	err := lock.WithLock(context.Background(), "session:ps_1", func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, apperror.HasCode(err, "SYS_002"))

	got, _ := mr.Get("cpay:lock:session:ps_1")
	assert.Equal(t, "someone-else", got, "a foreign lock is never released")
}

func TestSessionLock_ContextCancelled(t *testing.T) {
	lock, mr := newTestLock(t, time.Second)
	require.NoError(t, mr.Set("cpay:lock:session:ps_1", "someone-else"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := lock.WithLock(ctx, "session:ps_1", func(context.Context) error { return nil })
	assert.True(t, apperror.HasCode(err, "SYS_002"))
}

func TestSessionLock_SerializesHolders(t *testing.T) {
	lock, _ := newTestLock(t, time.Second)
	ctx := context.Background()

	var (
		inside  int32
		overlap int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lock.WithLock(ctx, "session:ps_1", func(context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(0), atomic.LoadInt32(&overlap))
}

func TestSessionLock_DefaultTTL(t *testing.T) {
	lock := NewSessionLock(nil, 0, zerolog.Nop())
	assert.Equal(t, 10*time.Second, lock.ttl)
}
