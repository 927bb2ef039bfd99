package bridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/NikoleTW/VPNBot/internal/cache"
)

// Invalidator drops cache entries from outside the bot loop. NotReady and
// Timeout are logged and swallowed; the entry then expires on its own.
type Invalidator struct {
	bridge *Bridge
	caches *cache.Set
	logger *slog.Logger
}

func NewInvalidator(b *Bridge, caches *cache.Set, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{bridge: b, caches: caches, logger: logger}
}

func (i *Invalidator) Invalidate(ctx context.Context, target cache.Target) error {
	caches := i.caches
	removed, err := i.bridge.Call(ctx, "invalidate "+target.String(), func(context.Context) (bool, error) {
		return caches.Apply(target), nil
	}, 0)
	switch {
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrTimeout):
		i.logger.Warn("cache invalidation skipped", "target", target.String(), "error", err)
		return nil
	case err != nil:
		i.logger.Error("cache invalidation failed", "target", target.String(), "error", err)
		return err
	}
	i.logger.Debug("cache invalidated", "target", target.String(), "removed", removed)
	return nil
}
