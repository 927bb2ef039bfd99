package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/NikoleTW/VPNBot/internal/domain"
)

// RegisterBuyer records a chat user on first contact and refreshes the
// profile fields on later ones.
func (s *Service) RegisterBuyer(ctx context.Context, buyer domain.Buyer) (domain.Buyer, error) {
	if buyer.TelegramID == 0 {
		return domain.Buyer{}, invalid("telegram id is required")
	}
	buyer.Username = strings.TrimPrefix(strings.TrimSpace(buyer.Username), "@")
	return s.repo.UpsertBuyer(ctx, buyer)
}

func (s *Service) BuyerByTelegramID(ctx context.Context, telegramID int64) (domain.Buyer, error) {
	return s.repo.GetBuyerByTelegramID(ctx, telegramID)
}

// IsBlocked reports the stored block flag. Unknown users are not blocked.
func (s *Service) IsBlocked(ctx context.Context, telegramID int64) (bool, error) {
	buyer, err := s.repo.GetBuyerByTelegramID(ctx, telegramID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return buyer.IsBlocked, nil
}

func (s *Service) ActiveCredentials(ctx context.Context, buyerID uint) ([]domain.Credential, error) {
	return s.repo.ListCredentials(ctx, domain.CredentialFilter{BuyerID: &buyerID, ActiveOnly: true})
}

func (s *Service) Credential(ctx context.Context, id uint) (domain.Credential, error) {
	return s.repo.GetCredential(ctx, id)
}

// PlaceOrder creates a pending order priced from the item snapshot the buyer
// was shown, not from the current catalog row.
func (s *Service) PlaceOrder(ctx context.Context, buyerID uint, item domain.CatalogItem, methodID uint) (domain.Order, error) {
	if buyerID == 0 || item.ID == 0 || methodID == 0 {
		return domain.Order{}, invalid("buyer, catalog item and payment method are required")
	}
	if _, ok := domain.ParseProtocol(string(item.Protocol)); !ok {
		return domain.Order{}, invalid("catalog item %d has unsupported protocol %q", item.ID, item.Protocol)
	}
	order, err := s.repo.CreateOrder(ctx, domain.Order{
		BuyerID:         buyerID,
		CatalogItemID:   item.ID,
		PaymentMethodID: methodID,
		Amount:          item.Price,
		Protocol:        item.Protocol,
		DurationDays:    item.DurationDays,
		ItemName:        item.Name,
		Status:          domain.OrderPending,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order created", "order_id", order.ID, "buyer_id", buyerID, "amount", order.Amount)
	return order, nil
}

// MarkPaid moves a pending order to awaiting_confirmation.
func (s *Service) MarkPaid(ctx context.Context, orderID uint) (domain.Order, error) {
	return s.transition(ctx, "mark paid", orderID, []domain.OrderStatus{domain.OrderPending}, domain.OrderAwaitingConfirmation)
}

// CancelPending cancels an order only while it is still pending. An order
// that was already reported paid is never overwritten.
func (s *Service) CancelPending(ctx context.Context, orderID uint) (domain.Order, error) {
	return s.transition(ctx, "cancel", orderID, []domain.OrderStatus{domain.OrderPending}, domain.OrderCancelled)
}

func (s *Service) PendingConfirmations(ctx context.Context, limit int) ([]domain.OrderSummary, error) {
	status := domain.OrderAwaitingConfirmation
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListOrders(ctx, domain.OrderFilter{Status: &status, Limit: limit})
}

func (s *Service) transition(ctx context.Context, op string, orderID uint, from []domain.OrderStatus, to domain.OrderStatus) (domain.Order, error) {
	order, err := s.repo.TransitionOrder(ctx, orderID, from, to, s.now())
	if errors.Is(err, domain.ErrStatusMismatch) {
		return domain.Order{}, conflict(ctx, s.repo, op, orderID)
	}
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.Info("order status changed", "order_id", orderID, "status", string(to))
	return order, nil
}

func conflict(ctx context.Context, repo domain.Store, op string, orderID uint) error {
	e := &StateConflictError{Op: op, OrderID: orderID}
	if current, err := repo.GetOrder(ctx, orderID); err == nil {
		e.Status = current.Status
	} else {
		e.Reason = "status changed concurrently"
	}
	return e
}
