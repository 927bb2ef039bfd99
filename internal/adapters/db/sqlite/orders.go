package sqlite

import (
	"context"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"gorm.io/gorm"
)

func (r *Repository) CreateOrder(ctx context.Context, value domain.Order) (domain.Order, error) {
	status := value.Status
	if status == "" {
		status = domain.OrderPending
	}
	m := OrderModel{
		BuyerID:         value.BuyerID,
		CatalogItemID:   value.CatalogItemID,
		PaymentMethodID: value.PaymentMethodID,
		Amount:          value.Amount,
		Protocol:        string(value.Protocol),
		DurationDays:    value.DurationDays,
		ItemName:        value.ItemName,
		Status:          string(status),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.Order{}, err
	}
	return toOrder(m), nil
}

func (r *Repository) GetOrder(ctx context.Context, id uint) (domain.Order, error) {
	var m OrderModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.Order{}, notFound(err)
	}
	return toOrder(m), nil
}

func (r *Repository) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderSummary, error) {
	type row struct {
		OrderModel
		BuyerTelegramID   int64
		BuyerUsername     string
		BuyerFirstName    string
		BuyerLastName     string
		PaymentMethodName string
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Table("orders").
		Select(`orders.*,
       buyers.telegram_id AS buyer_telegram_id,
       buyers.username AS buyer_username,
       buyers.first_name AS buyer_first_name,
       buyers.last_name AS buyer_last_name,
       COALESCE(payment_methods.name, '') AS payment_method_name`).
		Joins("JOIN buyers ON buyers.id = orders.buyer_id").
		Joins("LEFT JOIN payment_methods ON payment_methods.id = orders.payment_method_id")
	if filter.Status != nil {
		q = q.Where("orders.status = ?", string(*filter.Status))
	}
	if filter.BuyerID != nil {
		q = q.Where("orders.buyer_id = ?", *filter.BuyerID)
	}

	rows := make([]row, 0)
	if err := q.Order("orders.created_at DESC, orders.id DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.OrderSummary, 0, len(rows))
	for _, m := range rows {
		buyer := domain.Buyer{Username: m.BuyerUsername, FirstName: m.BuyerFirstName, LastName: m.BuyerLastName}
		result = append(result, domain.OrderSummary{
			Order:             toOrder(m.OrderModel),
			BuyerTelegramID:   m.BuyerTelegramID,
			BuyerName:         buyer.DisplayName(),
			PaymentMethodName: m.PaymentMethodName,
		})
	}
	return result, nil
}

func (r *Repository) TransitionOrder(ctx context.Context, id uint, from []domain.OrderStatus, to domain.OrderStatus, at time.Time) (domain.Order, error) {
	updates := map[string]any{"status": string(to), "updated_at": at}
	if to == domain.OrderAwaitingConfirmation {
		updates["paid_at"] = at
	}

	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(updates)
	if res.Error != nil {
		return domain.Order{}, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetOrder(ctx, id); err != nil {
			return domain.Order{}, err
		}
		return domain.Order{}, domain.ErrStatusMismatch
	}
	return r.GetOrder(ctx, id)
}

func (r *Repository) CompleteOrder(ctx context.Context, orderID uint, credential domain.Credential, at time.Time) (domain.Order, domain.Credential, error) {
	m := toCredentialModel(credential)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ?", orderID, string(domain.OrderAwaitingConfirmation)).
			Updates(map[string]any{
				"status":        string(domain.OrderCompleted),
				"credential_id": m.ID,
				"completed_at":  at,
				"updated_at":    at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&OrderModel{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return domain.ErrStatusMismatch
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, domain.Credential{}, err
	}

	order, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, domain.Credential{}, err
	}
	return order, toCredential(m), nil
}

func (r *Repository) CountOrders(ctx context.Context, status domain.OrderStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&OrderModel{}).Where("status = ?", string(status)).Count(&count).Error
	return count, err
}

func (r *Repository) SumOrderAmounts(ctx context.Context, status domain.OrderStatus) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&OrderModel{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ?", string(status)).
		Scan(&sum).Error
	return sum, err
}

func statusStrings(values []domain.OrderStatus) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

func toOrder(m OrderModel) domain.Order {
	return domain.Order{
		ID:              m.ID,
		BuyerID:         m.BuyerID,
		CatalogItemID:   m.CatalogItemID,
		PaymentMethodID: m.PaymentMethodID,
		CredentialID:    m.CredentialID,
		Amount:          m.Amount,
		Protocol:        domain.Protocol(m.Protocol),
		DurationDays:    m.DurationDays,
		ItemName:        m.ItemName,
		Status:          domain.OrderStatus(m.Status),
		CreatedAt:       m.CreatedAt,
		PaidAt:          m.PaidAt,
		CompletedAt:     m.CompletedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
