package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
)

const catalogKey = "active"

type Kind int

const (
	KindCatalog Kind = iota + 1
	KindCredentials
	KindBlocked
	KindAll
)

func (k Kind) String() string {
	switch k {
	case KindCatalog:
		return "catalog"
	case KindCredentials:
		return "credentials"
	case KindBlocked:
		return "blocked"
	case KindAll:
		return "all"
	}
	return "unknown"
}

// Target names the cache entry a mutation made stale.
type Target struct {
	Kind       Kind
	TelegramID int64
}

func Catalog() Target { return Target{Kind: KindCatalog} }
func CredentialsOf(telegramID int64) Target { return Target{Kind: KindCredentials, TelegramID: telegramID} }
func BlockedFlagOf(telegramID int64) Target { return Target{Kind: KindBlocked, TelegramID: telegramID} }
func All() Target { return Target{Kind: KindAll} }

func (t Target) String() string {
	switch t.Kind {
	case KindCredentials, KindBlocked:
		return fmt.Sprintf("%s:%d", t.Kind, t.TelegramID)
	}
	return t.Kind.String()
}

// Set groups the three caches the conversation reads through. One Set is
// built at startup and shared by reference.
type Set struct {
	Blocked     *TTL[int64, bool]
	Catalog     *TTL[string, []domain.CatalogItem]
	Credentials *TTL[int64, []domain.Credential]
}

func NewSet(ttl time.Duration) *Set {
	return &Set{
		Blocked:     New[int64, bool](ttl),
		Catalog:     New[string, []domain.CatalogItem](ttl),
		Credentials: New[int64, []domain.Credential](ttl),
	}
}

func (s *Set) WithClock(now func() time.Time) *Set {
	s.Blocked.WithClock(now)
	s.Catalog.WithClock(now)
	s.Credentials.WithClock(now)
	return s
}

func (s *Set) ActiveCatalog() ([]domain.CatalogItem, bool) {
	return s.Catalog.Get(catalogKey)
}

func (s *Set) PutActiveCatalog(items []domain.CatalogItem) {
	s.Catalog.Put(catalogKey, items)
}

// Apply drops the entry named by t and reports whether anything was removed.
func (s *Set) Apply(t Target) bool {
	switch t.Kind {
	case KindCatalog:
		return s.Catalog.Invalidate(catalogKey)
	case KindCredentials:
		return s.Credentials.Invalidate(t.TelegramID)
	case KindBlocked:
		return s.Blocked.Invalidate(t.TelegramID)
	case KindAll:
		n := s.Catalog.Clear() + s.Credentials.Clear() + s.Blocked.Clear()
		return n > 0
	}
	return false
}

// Invalidate applies t directly. Only the goroutine that owns the Set may
// call it; everyone else goes through the bridge.
func (s *Set) Invalidate(_ context.Context, t Target) error {
	s.Apply(t)
	return nil
}
