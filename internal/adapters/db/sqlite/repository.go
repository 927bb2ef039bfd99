package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type Repository struct {
	db *gorm.DB
}

func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// notFound maps gorm's missing-row error onto the domain sentinel.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func (r *Repository) UpsertBuyer(ctx context.Context, value domain.Buyer) (domain.Buyer, error) {
	var m BuyerModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("telegram_id = ?", value.TelegramID).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			m = BuyerModel{
				TelegramID:   value.TelegramID,
				Username:     value.Username,
				FirstName:    value.FirstName,
				LastName:     value.LastName,
				RegisteredAt: time.Now().UTC(),
			}
			return tx.Create(&m).Error
		}
		if err != nil {
			return err
		}
		if m.Username == value.Username && m.FirstName == value.FirstName && m.LastName == value.LastName {
			return nil
		}
		m.Username, m.FirstName, m.LastName = value.Username, value.FirstName, value.LastName
		return tx.Model(&m).Updates(map[string]any{
			"username":   m.Username,
			"first_name": m.FirstName,
			"last_name":  m.LastName,
		}).Error
	})
	if err != nil {
		return domain.Buyer{}, err
	}
	return toBuyer(m), nil
}

func (r *Repository) GetBuyerByID(ctx context.Context, id uint) (domain.Buyer, error) {
	var m BuyerModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.Buyer{}, notFound(err)
	}
	return toBuyer(m), nil
}

func (r *Repository) GetBuyerByTelegramID(ctx context.Context, telegramID int64) (domain.Buyer, error) {
	var m BuyerModel
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&m).Error; err != nil {
		return domain.Buyer{}, notFound(err)
	}
	return toBuyer(m), nil
}

func (r *Repository) ListBuyers(ctx context.Context, query string, limit int) ([]domain.Buyer, error) {
	q := r.db.WithContext(ctx).Model(&BuyerModel{})
	if strings.TrimSpace(query) != "" {
		like := "%" + strings.TrimSpace(query) + "%"
		q = q.Where("username LIKE ? OR first_name LIKE ? OR last_name LIKE ? OR CAST(telegram_id AS TEXT) LIKE ?", like, like, like, like)
	}
	rows := make([]BuyerModel, 0)
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.Buyer, 0, len(rows))
	for _, m := range rows {
		result = append(result, toBuyer(m))
	}
	return result, nil
}

func (r *Repository) SetBuyerBlocked(ctx context.Context, id uint, blocked bool) (domain.Buyer, error) {
	res := r.db.WithContext(ctx).Model(&BuyerModel{}).Where("id = ?", id).Update("is_blocked", blocked)
	if res.Error != nil {
		return domain.Buyer{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Buyer{}, domain.ErrNotFound
	}
	return r.GetBuyerByID(ctx, id)
}

func (r *Repository) CountBuyers(ctx context.Context, blockedOnly bool) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&BuyerModel{})
	if blockedOnly {
		q = q.Where("is_blocked = ?", true)
	}
	err := q.Count(&count).Error
	return count, err
}

func (r *Repository) CreateCatalogItem(ctx context.Context, value domain.CatalogItem) (domain.CatalogItem, error) {
	m := CatalogItemModel{
		Name:         value.Name,
		Description:  value.Description,
		Price:        value.Price,
		DurationDays: value.DurationDays,
		Protocol:     string(value.Protocol),
		IsActive:     value.IsActive,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.CatalogItem{}, err
	}
	return toCatalogItem(m), nil
}

func (r *Repository) UpdateCatalogItem(ctx context.Context, value domain.CatalogItem) (domain.CatalogItem, error) {
	res := r.db.WithContext(ctx).Model(&CatalogItemModel{}).Where("id = ?", value.ID).Updates(map[string]any{
		"name":          value.Name,
		"description":   value.Description,
		"price":         value.Price,
		"duration_days": value.DurationDays,
		"protocol":      string(value.Protocol),
		"is_active":     value.IsActive,
	})
	if res.Error != nil {
		return domain.CatalogItem{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.CatalogItem{}, domain.ErrNotFound
	}
	return r.GetCatalogItem(ctx, value.ID)
}

func (r *Repository) GetCatalogItem(ctx context.Context, id uint) (domain.CatalogItem, error) {
	var m CatalogItemModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.CatalogItem{}, notFound(err)
	}
	return toCatalogItem(m), nil
}

func (r *Repository) ListCatalogItems(ctx context.Context, activeOnly bool) ([]domain.CatalogItem, error) {
	q := r.db.WithContext(ctx).Model(&CatalogItemModel{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	rows := make([]CatalogItemModel, 0)
	if err := q.Order("price ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.CatalogItem, 0, len(rows))
	for _, m := range rows {
		result = append(result, toCatalogItem(m))
	}
	return result, nil
}

func (r *Repository) CreatePaymentMethod(ctx context.Context, value domain.PaymentMethod) (domain.PaymentMethod, error) {
	m := PaymentMethodModel{
		Name:         value.Name,
		Description:  value.Description,
		Instructions: value.Instructions,
		IsActive:     value.IsActive,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.PaymentMethod{}, err
	}
	return toPaymentMethod(m), nil
}

func (r *Repository) UpdatePaymentMethod(ctx context.Context, value domain.PaymentMethod) (domain.PaymentMethod, error) {
	res := r.db.WithContext(ctx).Model(&PaymentMethodModel{}).Where("id = ?", value.ID).Updates(map[string]any{
		"name":         value.Name,
		"description":  value.Description,
		"instructions": value.Instructions,
		"is_active":    value.IsActive,
	})
	if res.Error != nil {
		return domain.PaymentMethod{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.PaymentMethod{}, domain.ErrNotFound
	}
	return r.GetPaymentMethod(ctx, value.ID)
}

func (r *Repository) GetPaymentMethod(ctx context.Context, id uint) (domain.PaymentMethod, error) {
	var m PaymentMethodModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.PaymentMethod{}, notFound(err)
	}
	return toPaymentMethod(m), nil
}

func (r *Repository) ListPaymentMethods(ctx context.Context, activeOnly bool) ([]domain.PaymentMethod, error) {
	q := r.db.WithContext(ctx).Model(&PaymentMethodModel{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	rows := make([]PaymentMethodModel, 0)
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.PaymentMethod, 0, len(rows))
	for _, m := range rows {
		result = append(result, toPaymentMethod(m))
	}
	return result, nil
}

func toBuyer(m BuyerModel) domain.Buyer {
	return domain.Buyer{
		ID:           m.ID,
		TelegramID:   m.TelegramID,
		Username:     m.Username,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		IsBlocked:    m.IsBlocked,
		RegisteredAt: m.RegisteredAt,
	}
}

func toCatalogItem(m CatalogItemModel) domain.CatalogItem {
	return domain.CatalogItem{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		Price:        m.Price,
		DurationDays: m.DurationDays,
		Protocol:     domain.Protocol(m.Protocol),
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toPaymentMethod(m PaymentMethodModel) domain.PaymentMethod {
	return domain.PaymentMethod{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		Instructions: m.Instructions,
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
