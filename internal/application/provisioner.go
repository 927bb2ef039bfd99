package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/NikoleTW/VPNBot/internal/cache"
	"github.com/NikoleTW/VPNBot/internal/descriptor"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultPanelTimeout = 15 * time.Second

var tracer = otel.Tracer("github.com/NikoleTW/VPNBot/internal/application")

// Notifier tells a buyer their credential is ready.
type Notifier interface {
	CredentialReady(ctx context.Context, telegramID int64, credential domain.Credential) error
}

type ProvisionerOptions struct {
	Invalidator  Invalidator
	Notifier     Notifier
	Logger       *slog.Logger
	PanelTimeout time.Duration
	Now          func() time.Time
}

// Provisioner turns confirmed payments into panel clients and stored
// credentials, and keeps the panel in step with later credential edits.
type Provisioner struct {
	repo         domain.Store
	panel        domain.Panel
	invalidator  Invalidator
	notifier     Notifier
	logger       *slog.Logger
	panelTimeout time.Duration
	now          func() time.Time
	inflight     *inflight
}

type inflight struct {
	mu     sync.Mutex
	orders map[uint]struct{}
}

func (f *inflight) acquire(id uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.orders[id]; busy {
		return false
	}
	f.orders[id] = struct{}{}
	return true
}

func (f *inflight) release(id uint) {
	f.mu.Lock()
	delete(f.orders, id)
	f.mu.Unlock()
}

func NewProvisioner(repo domain.Store, panel domain.Panel, opts ProvisionerOptions) *Provisioner {
	p := &Provisioner{
		repo:         repo,
		panel:        panel,
		invalidator:  opts.Invalidator,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		panelTimeout: opts.PanelTimeout,
		now:          opts.Now,
		inflight:     &inflight{orders: make(map[uint]struct{})},
	}
	if p.invalidator == nil {
		p.invalidator = noopInvalidator{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.panelTimeout <= 0 {
		p.panelTimeout = DefaultPanelTimeout
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// WithInvalidator returns a Provisioner that reports cache changes to inv
// and shares the in-flight guard with p.
func (p *Provisioner) WithInvalidator(inv Invalidator) *Provisioner {
	cp := *p
	cp.invalidator = inv
	return &cp
}

// SetNotifier installs the buyer notifier. Call before serving.
func (p *Provisioner) SetNotifier(n Notifier) {
	p.notifier = n
}

// ConfirmOrder provisions a panel client for an order awaiting confirmation,
// stores the credential and completes the order. When the store step fails
// the panel client is removed again and the order stays awaiting.
func (p *Provisioner) ConfirmOrder(ctx context.Context, orderID uint) (domain.Order, domain.Credential, error) {
	ctx, span := tracer.Start(ctx, "provisioner.confirm_order", trace.WithAttributes(attribute.Int64("order.id", int64(orderID))))
	defer span.End()

	order, cred, err := p.confirm(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("order confirmation failed", "order_id", orderID, "error", err)
		return domain.Order{}, domain.Credential{}, err
	}
	return order, cred, nil
}

func (p *Provisioner) confirm(ctx context.Context, orderID uint) (domain.Order, domain.Credential, error) {
	if !p.inflight.acquire(orderID) {
		return domain.Order{}, domain.Credential{}, &StateConflictError{Op: "confirm", OrderID: orderID, Status: domain.OrderAwaitingConfirmation, Reason: "confirmation already in progress"}
	}
	defer p.inflight.release(orderID)

	order, err := p.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, domain.Credential{}, fmt.Errorf("load order: %w", err)
	}
	if order.Status != domain.OrderAwaitingConfirmation {
		return domain.Order{}, domain.Credential{}, &StateConflictError{Op: "confirm", OrderID: orderID, Status: order.Status}
	}
	buyer, err := p.repo.GetBuyerByID(ctx, order.BuyerID)
	if err != nil {
		return domain.Order{}, domain.Credential{}, fmt.Errorf("load buyer: %w", err)
	}

	protocol, duration, itemName := order.Protocol, order.DurationDays, order.ItemName
	if protocol == "" {
		item, err := p.repo.GetCatalogItem(ctx, order.CatalogItemID)
		if err != nil {
			return domain.Order{}, domain.Credential{}, fmt.Errorf("load catalog item: %w", err)
		}
		protocol, duration, itemName = item.Protocol, item.DurationDays, item.Name
	}

	inbound, err := p.inboundFor(ctx, protocol)
	if err != nil {
		return domain.Order{}, domain.Credential{}, err
	}

	now := p.now()
	identifier := fmt.Sprintf("tguser_%d_%d_%s", buyer.TelegramID, order.ID, now.Format("20060102150405"))

	pctx, cancel := context.WithTimeout(ctx, p.panelTimeout)
	client, err := p.panel.CreateClient(pctx, inbound.ID, identifier, protocol, duration)
	cancel()
	if err != nil {
		return domain.Order{}, domain.Credential{}, &AdapterError{Op: "create client", Err: err}
	}

	name := fmt.Sprintf("%s %s", itemName, now.Format("02-01-2006"))
	address, port := p.endpoint(ctx, inbound)
	d, err := descriptor.New(protocol, client.Secret, address, port, name)
	if err != nil {
		p.compensate(ctx, inbound.ID, identifier)
		return domain.Order{}, domain.Credential{}, err
	}
	payload, err := descriptor.Marshal(d)
	if err != nil {
		p.compensate(ctx, inbound.ID, identifier)
		return domain.Order{}, domain.Credential{}, err
	}

	ref := client.Identifier
	if ref == "" {
		ref = identifier
	}
	inboundID := inbound.ID
	completed, stored, err := p.repo.CompleteOrder(ctx, orderID, domain.Credential{
		BuyerID:    buyer.ID,
		Protocol:   protocol,
		RemoteRef:  &ref,
		InboundID:  &inboundID,
		Name:       name,
		Payload:    payload,
		ValidUntil: now.AddDate(0, 0, duration),
		IsActive:   true,
	}, now)
	if err != nil {
		p.compensate(ctx, inbound.ID, ref)
		if errors.Is(err, domain.ErrStatusMismatch) {
			return domain.Order{}, domain.Credential{}, conflict(ctx, p.repo, "confirm", orderID)
		}
		return domain.Order{}, domain.Credential{}, fmt.Errorf("complete order: %w", err)
	}

	p.logger.Info("order completed", "order_id", orderID, "buyer_id", buyer.ID, "credential_id", stored.ID, "protocol", string(protocol))
	p.invalidate(ctx, cache.CredentialsOf(buyer.TelegramID))
	if p.notifier != nil {
		if err := p.notifier.CredentialReady(ctx, buyer.TelegramID, stored); err != nil {
			p.logger.Warn("notify buyer", "order_id", orderID, "telegram_id", buyer.TelegramID, "error", err)
		}
	}
	return completed, stored, nil
}

// ExtendCredential adds days to a credential, counting from its expiry or
// from now when it already lapsed, and re-enables it.
func (p *Provisioner) ExtendCredential(ctx context.Context, id uint, days int) (domain.Credential, error) {
	ctx, span := tracer.Start(ctx, "provisioner.extend_credential", trace.WithAttributes(attribute.Int64("credential.id", int64(id))))
	defer span.End()

	if days < 1 {
		return domain.Credential{}, invalid("days must be positive")
	}
	cred, err := p.repo.GetCredential(ctx, id)
	if err != nil {
		return domain.Credential{}, err
	}

	anchor := p.now()
	if cred.ValidUntil.After(anchor) {
		anchor = cred.ValidUntil
	}
	until := anchor.AddDate(0, 0, days)
	enabled := true
	if err := p.syncPanel(ctx, "extend client", cred, domain.ClientUpdate{ExpiresAt: &until, Enabled: &enabled}); err != nil {
		span.RecordError(err)
		return domain.Credential{}, err
	}

	updated, err := p.repo.UpdateCredentialState(ctx, id, until, true)
	if err != nil {
		return domain.Credential{}, err
	}
	p.logger.Info("credential extended", "credential_id", id, "days", days, "valid_until", until)
	p.invalidateOwner(ctx, updated.BuyerID)
	return updated, nil
}

// ToggleCredential flips the active flag on the panel first, then locally.
func (p *Provisioner) ToggleCredential(ctx context.Context, id uint) (domain.Credential, error) {
	ctx, span := tracer.Start(ctx, "provisioner.toggle_credential", trace.WithAttributes(attribute.Int64("credential.id", int64(id))))
	defer span.End()

	cred, err := p.repo.GetCredential(ctx, id)
	if err != nil {
		return domain.Credential{}, err
	}
	active := !cred.IsActive
	if err := p.syncPanel(ctx, "toggle client", cred, domain.ClientUpdate{Enabled: &active}); err != nil {
		span.RecordError(err)
		return domain.Credential{}, err
	}

	updated, err := p.repo.UpdateCredentialState(ctx, id, cred.ValidUntil, active)
	if err != nil {
		return domain.Credential{}, err
	}
	p.logger.Info("credential toggled", "credential_id", id, "active", active)
	p.invalidateOwner(ctx, updated.BuyerID)
	return updated, nil
}

// CancelOrder is the operator cancel. Unlike the buyer's, it also applies to
// orders already reported paid.
func (p *Provisioner) CancelOrder(ctx context.Context, id uint) (domain.Order, error) {
	order, err := p.repo.TransitionOrder(ctx, id, []domain.OrderStatus{domain.OrderPending, domain.OrderAwaitingConfirmation}, domain.OrderCancelled, p.now())
	if errors.Is(err, domain.ErrStatusMismatch) {
		return domain.Order{}, conflict(ctx, p.repo, "cancel", id)
	}
	if err != nil {
		return domain.Order{}, err
	}
	p.logger.Info("order cancelled by operator", "order_id", id)
	return order, nil
}

func (p *Provisioner) PanelStats(ctx context.Context) ([]byte, error) {
	pctx, cancel := context.WithTimeout(ctx, p.panelTimeout)
	defer cancel()
	raw, err := p.panel.Stats(pctx)
	if err != nil {
		return nil, &AdapterError{Op: "stats", Err: err}
	}
	return raw, nil
}

func (p *Provisioner) inboundFor(ctx context.Context, protocol domain.Protocol) (domain.Inbound, error) {
	pctx, cancel := context.WithTimeout(ctx, p.panelTimeout)
	defer cancel()
	inbounds, err := p.panel.ListInbounds(pctx)
	if err != nil {
		return domain.Inbound{}, &AdapterError{Op: "list inbounds", Err: err}
	}
	for _, in := range inbounds {
		if in.Enabled && in.Protocol == protocol {
			return in, nil
		}
	}
	return domain.Inbound{}, &AdapterError{Op: "list inbounds", Err: fmt.Errorf("no enabled inbound for %s", protocol)}
}

// endpoint prefers what the panel reports and falls back to the shop settings.
func (p *Provisioner) endpoint(ctx context.Context, in domain.Inbound) (string, int) {
	address, port := in.Address, in.Port
	if address == "" {
		if v, err := p.repo.GetSetting(ctx, domain.SettingServerAddress); err == nil {
			address = v
		}
	}
	if port <= 0 {
		port = 443
		if v, err := p.repo.GetSetting(ctx, domain.SettingServerPort); err == nil {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				port = n
			}
		}
	}
	return address, port
}

func (p *Provisioner) syncPanel(ctx context.Context, op string, cred domain.Credential, update domain.ClientUpdate) error {
	if cred.RemoteRef == nil || cred.InboundID == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, p.panelTimeout)
	defer cancel()
	if err := p.panel.UpdateClient(pctx, *cred.InboundID, *cred.RemoteRef, update); err != nil {
		return &AdapterError{Op: op, Err: err}
	}
	return nil
}

func (p *Provisioner) compensate(ctx context.Context, inboundID int, identifier string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.panelTimeout)
	defer cancel()
	if err := p.panel.RemoveClient(cctx, inboundID, identifier); err != nil {
		p.logger.Error("remove orphaned panel client", "inbound_id", inboundID, "client", identifier, "error", err)
		return
	}
	p.logger.Info("removed orphaned panel client", "inbound_id", inboundID, "client", identifier)
}

func (p *Provisioner) invalidateOwner(ctx context.Context, buyerID uint) {
	buyer, err := p.repo.GetBuyerByID(ctx, buyerID)
	if err != nil {
		p.logger.Warn("load credential owner", "buyer_id", buyerID, "error", err)
		return
	}
	p.invalidate(ctx, cache.CredentialsOf(buyer.TelegramID))
}

func (p *Provisioner) invalidate(ctx context.Context, target cache.Target) {
	if err := p.invalidator.Invalidate(ctx, target); err != nil {
		p.logger.Warn("cache invalidation failed", "target", target.String(), "error", err)
	}
}
