package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/NikoleTW/VPNBot/internal/bridge"
	"github.com/NikoleTW/VPNBot/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSender struct {
	mu      sync.Mutex
	replies []Reply
	got     chan struct{}
}

func (s *chanSender) Send(_ context.Context, r Reply) error {
	s.mu.Lock()
	s.replies = append(s.replies, r)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func TestLoopServesActionsAndBridgeRequests(t *testing.T) {
	shop := newMemShop()
	caches := cache.NewSet(time.Minute)
	flow := NewFlow(shop, nil, caches, nil)
	b := bridge.New(bridge.Options{Timeout: time.Second, ReadyWait: time.Second})

	actions := make(chan Action)
	sender := &chanSender{got: make(chan struct{}, 8)}
	loop := NewLoop(flow, b, actions, sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	actions <- act(ActionBrowse, 0)
	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply sent")
	}
	sender.mu.Lock()
	require.Len(t, sender.replies, 1)
	assert.Equal(t, alice.TelegramID, sender.replies[0].ChatID)
	assert.Equal(t, ScreenCatalog, sender.replies[0].Screen)
	sender.mu.Unlock()

	// An admin-side invalidation runs on the loop goroutine.
	inv := bridge.NewInvalidator(b, caches, nil)
	require.NoError(t, inv.Invalidate(context.Background(), cache.Catalog()))

	actions <- act(ActionBrowse, 0)
	<-sender.got
	assert.Equal(t, 2, shop.catalogReads)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}
