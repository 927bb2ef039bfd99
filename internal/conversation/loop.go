package conversation

import (
	"context"
	"log/slog"

	"github.com/NikoleTW/VPNBot/internal/bridge"
	"golang.org/x/sync/errgroup"
)

// Sender delivers a rendered reply to the chat transport.
type Sender interface {
	Send(ctx context.Context, r Reply) error
}

// Loop is the single goroutine that owns the dialogue sessions and the
// caches. Buyer actions and bridge requests are handled one at a time, so
// actions from one buyer are processed strictly in arrival order.
type Loop struct {
	flow    *Flow
	bridge  *bridge.Bridge
	actions <-chan Action
	sender  Sender
	logger  *slog.Logger
	outbox  int
}

func NewLoop(flow *Flow, b *bridge.Bridge, actions <-chan Action, sender Sender, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{flow: flow, bridge: b, actions: actions, sender: sender, logger: logger, outbox: 64}
}

// Run publishes the bridge and serves until ctx ends or the action channel
// closes. Replies are delivered on a separate goroutine so a slow transport
// never stalls cache invalidations.
func (l *Loop) Run(ctx context.Context) error {
	out := make(chan Reply, l.outbox)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for r := range out {
			if err := l.sender.Send(gctx, r); err != nil {
				l.logger.Warn("send reply", "chat_id", r.ChatID, "screen", r.Screen.String(), "error", err)
			}
		}
		return nil
	})

	g.Go(func() error {
		defer close(out)
		l.bridge.Publish()
		l.logger.Info("bot loop started")
		for {
			select {
			case <-ctx.Done():
				l.logger.Info("bot loop stopped")
				return nil
			case req := <-l.bridge.Requests():
				req.Run()
			case a, ok := <-l.actions:
				if !ok {
					l.logger.Info("action stream closed")
					return nil
				}
				for _, r := range l.flow.Handle(ctx, a) {
					if r.ChatID == 0 {
						r.ChatID = a.ChatID
					}
					select {
					case out <- r:
					case <-ctx.Done():
						return nil
					}
				}
			}
		}
	})

	return g.Wait()
}
