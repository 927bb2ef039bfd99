package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/NikoleTW/VPNBot/internal/cache"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/go-playground/validator/v10"
)

// Invalidator drops cached entries after a committed mutation. The bot loop
// applies targets directly; admin callers go through the bridge.
type Invalidator interface {
	Invalidate(ctx context.Context, target cache.Target) error
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, cache.Target) error { return nil }

type Service struct {
	repo        domain.Store
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

type CatalogItemInput struct {
	Name         string `json:"name" yaml:"name" validate:"required,max=120"`
	Description  string `json:"description" yaml:"description" validate:"max=2000"`
	Price        int64  `json:"price" yaml:"price" validate:"gte=0"`
	DurationDays int    `json:"duration_days" yaml:"duration_days" validate:"gte=1,lte=3650"`
	Protocol     string `json:"protocol" yaml:"protocol" validate:"required,oneof=vmess vless trojan"`
	IsActive     bool   `json:"is_active" yaml:"is_active"`
}

type PaymentMethodInput struct {
	Name         string `json:"name" yaml:"name" validate:"required,max=120"`
	Description  string `json:"description" yaml:"description" validate:"max=2000"`
	Instructions string `json:"instructions" yaml:"instructions" validate:"required,max=4000"`
	IsActive     bool   `json:"is_active" yaml:"is_active"`
}

func NewService(repo domain.Store, invalidator Invalidator, logger *slog.Logger) *Service {
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Service{
		repo:        repo,
		invalidator: invalidator,
		validate:    v,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithInvalidator returns a copy of s that reports cache changes to inv.
func (s *Service) WithInvalidator(inv Invalidator) *Service {
	cp := *s
	cp.invalidator = inv
	return &cp
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, target cache.Target) {
	if err := s.invalidator.Invalidate(ctx, target); err != nil {
		s.logger.Warn("cache invalidation failed", "target", target.String(), "error", err)
	}
}

func (s *Service) CreateCatalogItem(ctx context.Context, in CatalogItemInput) (domain.CatalogItem, error) {
	if err := s.check(in); err != nil {
		return domain.CatalogItem{}, err
	}
	protocol, _ := domain.ParseProtocol(in.Protocol)
	item, err := s.repo.CreateCatalogItem(ctx, domain.CatalogItem{
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Price:        in.Price,
		DurationDays: in.DurationDays,
		Protocol:     protocol,
		IsActive:     in.IsActive,
	})
	if err != nil {
		return domain.CatalogItem{}, err
	}
	s.invalidate(ctx, cache.Catalog())
	return item, nil
}

func (s *Service) UpdateCatalogItem(ctx context.Context, id uint, in CatalogItemInput) (domain.CatalogItem, error) {
	if id == 0 {
		return domain.CatalogItem{}, invalid("catalog item id is required")
	}
	if err := s.check(in); err != nil {
		return domain.CatalogItem{}, err
	}
	current, err := s.repo.GetCatalogItem(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	protocol, _ := domain.ParseProtocol(in.Protocol)
	current.Name = strings.TrimSpace(in.Name)
	current.Description = in.Description
	current.Price = in.Price
	current.DurationDays = in.DurationDays
	current.Protocol = protocol
	current.IsActive = in.IsActive

	item, err := s.repo.UpdateCatalogItem(ctx, current)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	s.invalidate(ctx, cache.Catalog())
	return item, nil
}

func (s *Service) SetCatalogItemActive(ctx context.Context, id uint, active bool) (domain.CatalogItem, error) {
	current, err := s.repo.GetCatalogItem(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	current.IsActive = active
	item, err := s.repo.UpdateCatalogItem(ctx, current)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	s.invalidate(ctx, cache.Catalog())
	return item, nil
}

func (s *Service) ListCatalogItems(ctx context.Context, activeOnly bool) ([]domain.CatalogItem, error) {
	return s.repo.ListCatalogItems(ctx, activeOnly)
}

func (s *Service) CatalogItem(ctx context.Context, id uint) (domain.CatalogItem, error) {
	return s.repo.GetCatalogItem(ctx, id)
}

func (s *Service) CreatePaymentMethod(ctx context.Context, in PaymentMethodInput) (domain.PaymentMethod, error) {
	if err := s.check(in); err != nil {
		return domain.PaymentMethod{}, err
	}
	return s.repo.CreatePaymentMethod(ctx, domain.PaymentMethod{
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Instructions: in.Instructions,
		IsActive:     in.IsActive,
	})
}

func (s *Service) UpdatePaymentMethod(ctx context.Context, id uint, in PaymentMethodInput) (domain.PaymentMethod, error) {
	if id == 0 {
		return domain.PaymentMethod{}, invalid("payment method id is required")
	}
	if err := s.check(in); err != nil {
		return domain.PaymentMethod{}, err
	}
	current, err := s.repo.GetPaymentMethod(ctx, id)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	current.Name = strings.TrimSpace(in.Name)
	current.Description = in.Description
	current.Instructions = in.Instructions
	current.IsActive = in.IsActive
	return s.repo.UpdatePaymentMethod(ctx, current)
}

func (s *Service) ListPaymentMethods(ctx context.Context, activeOnly bool) ([]domain.PaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx, activeOnly)
}

func (s *Service) PaymentMethod(ctx context.Context, id uint) (domain.PaymentMethod, error) {
	return s.repo.GetPaymentMethod(ctx, id)
}

func (s *Service) ListBuyers(ctx context.Context, query string, limit int) ([]domain.Buyer, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	return s.repo.ListBuyers(ctx, query, limit)
}

func (s *Service) SetBuyerBlocked(ctx context.Context, id uint, blocked bool) (domain.Buyer, error) {
	if id == 0 {
		return domain.Buyer{}, invalid("buyer id is required")
	}
	buyer, err := s.repo.SetBuyerBlocked(ctx, id, blocked)
	if err != nil {
		return domain.Buyer{}, err
	}
	s.invalidate(ctx, cache.BlockedFlagOf(buyer.TelegramID))
	return buyer, nil
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderSummary, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.repo.ListOrders(ctx, filter)
}

func (s *Service) GetOrder(ctx context.Context, id uint) (domain.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) ListCredentials(ctx context.Context, filter domain.CredentialFilter) ([]domain.Credential, error) {
	return s.repo.ListCredentials(ctx, filter)
}

func (s *Service) ListSettings(ctx context.Context) (map[string]string, error) {
	return s.repo.ListSettings(ctx)
}

func (s *Service) SetSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return invalid("setting key is required")
	}
	return s.repo.SetSetting(ctx, key, value)
}

// Setting returns the stored value for key, or fallback when the key is
// missing or the store cannot be read.
func (s *Service) Setting(ctx context.Context, key, fallback string) string {
	value, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("read setting", "key", key, "error", err)
		}
		return fallback
	}
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func (s *Service) Stats(ctx context.Context) (domain.ShopStats, error) {
	var (
		stats domain.ShopStats
		err   error
	)
	if stats.Buyers, err = s.repo.CountBuyers(ctx, false); err != nil {
		return stats, fmt.Errorf("count buyers: %w", err)
	}
	if stats.BlockedBuyers, err = s.repo.CountBuyers(ctx, true); err != nil {
		return stats, fmt.Errorf("count blocked buyers: %w", err)
	}
	if stats.ActiveCredentials, err = s.repo.CountActiveCredentials(ctx, s.now()); err != nil {
		return stats, fmt.Errorf("count credentials: %w", err)
	}
	if stats.PendingOrders, err = s.repo.CountOrders(ctx, domain.OrderPending); err != nil {
		return stats, fmt.Errorf("count orders: %w", err)
	}
	if stats.AwaitingOrders, err = s.repo.CountOrders(ctx, domain.OrderAwaitingConfirmation); err != nil {
		return stats, fmt.Errorf("count orders: %w", err)
	}
	if stats.CompletedOrders, err = s.repo.CountOrders(ctx, domain.OrderCompleted); err != nil {
		return stats, fmt.Errorf("count orders: %w", err)
	}
	if stats.Revenue, err = s.repo.SumOrderAmounts(ctx, domain.OrderCompleted); err != nil {
		return stats, fmt.Errorf("sum revenue: %w", err)
	}
	return stats, nil
}

// ClearCaches drops every cached entry held by the bot loop.
func (s *Service) ClearCaches(ctx context.Context) error {
	return s.invalidator.Invalidate(ctx, cache.All())
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) WriteAudit(ctx context.Context, actorUserID *uint, action, targetType string, targetID *uint, metadata string) {
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUserID: actorUserID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Metadata:    metadata,
	}); err != nil {
		s.logger.Warn("write audit log", "action", action, "error", err)
	}
}
