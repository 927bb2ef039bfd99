package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NikoleTW/VPNBot/internal/cache"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain plays the bot loop: it runs requests until ctx ends.
func drain(ctx context.Context, b *Bridge) {
	b.Publish()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.Requests():
			req.Run()
		}
	}
}

func TestCallRunsOnLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(Options{Timeout: time.Second})
	go drain(ctx, b)

	ok, err := b.Call(ctx, "noop", func(context.Context) (bool, error) { return true, nil }, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCallNotReady(t *testing.T) {
	b := New(Options{ReadyWait: 30 * time.Millisecond})

	start := time.Now()
	_, err := b.Call(context.Background(), "noop", func(context.Context) (bool, error) { return true, nil }, 0)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestCallWaitsForLateLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(Options{ReadyWait: 2 * time.Second, Timeout: time.Second})

	go func() {
		time.Sleep(20 * time.Millisecond)
		drain(ctx, b)
	}()

	ok, err := b.Call(ctx, "noop", func(context.Context) (bool, error) { return true, nil }, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCallTimesOutWhenLoopIsBusy(t *testing.T) {
	b := New(Options{})
	b.Publish()

	_, err := b.Call(context.Background(), "noop", func(context.Context) (bool, error) { return true, nil }, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCallTimesOutOnSlowOp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(Options{})
	go drain(ctx, b)

	release := make(chan struct{})
	_, err := b.Call(ctx, "slow", func(context.Context) (bool, error) {
		<-release
		return true, nil
	}, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	// the loop must not get stuck handing back a result nobody reads
	close(release)
	ok, err := b.Call(ctx, "after", func(context.Context) (bool, error) { return true, nil }, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCallPropagatesOpFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(Options{Timeout: time.Second})
	go drain(ctx, b)

	boom := errors.New("boom")
	_, err := b.Call(ctx, "fails", func(context.Context) (bool, error) { return false, boom }, 0)
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "fails", opErr.Op)
	assert.ErrorIs(t, err, boom)

	_, err = b.Call(ctx, "panics", func(context.Context) (bool, error) { panic("kaboom") }, 0)
	require.ErrorAs(t, err, &opErr)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestPublishIsIdempotent(t *testing.T) {
	b := New(Options{})
	assert.False(t, b.Ready())
	b.Publish()
	b.Publish()
	assert.True(t, b.Ready())
}

func TestInvalidatorDropsEntryInsideLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New(Options{Timeout: time.Second})
	caches := cache.NewSet(time.Hour)
	caches.Credentials.Put(77, []domain.Credential{{ID: 1}})
	go drain(ctx, b)

	inv := NewInvalidator(b, caches, nil)
	require.NoError(t, inv.Invalidate(ctx, cache.CredentialsOf(77)))

	// read back on the loop, the only goroutine allowed to touch the caches
	present, err := b.Call(ctx, "probe", func(context.Context) (bool, error) {
		_, ok := caches.Credentials.Get(77)
		return ok, nil
	}, 0)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestInvalidatorSwallowsNotReady(t *testing.T) {
	b := New(Options{ReadyWait: 10 * time.Millisecond})
	inv := NewInvalidator(b, cache.NewSet(time.Hour), nil)

	assert.NoError(t, inv.Invalidate(context.Background(), cache.Catalog()))
}
