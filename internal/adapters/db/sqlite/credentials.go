package sqlite

import (
	"context"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"gorm.io/gorm/clause"
)

func (r *Repository) GetCredential(ctx context.Context, id uint) (domain.Credential, error) {
	var m CredentialModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.Credential{}, notFound(err)
	}
	return toCredential(m), nil
}

func (r *Repository) ListCredentials(ctx context.Context, filter domain.CredentialFilter) ([]domain.Credential, error) {
	q := r.db.WithContext(ctx).Model(&CredentialModel{})
	if filter.BuyerID != nil {
		q = q.Where("buyer_id = ?", *filter.BuyerID)
	}
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows := make([]CredentialModel, 0)
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.Credential, 0, len(rows))
	for _, m := range rows {
		result = append(result, toCredential(m))
	}
	return result, nil
}

func (r *Repository) UpdateCredentialState(ctx context.Context, id uint, validUntil time.Time, active bool) (domain.Credential, error) {
	res := r.db.WithContext(ctx).Model(&CredentialModel{}).Where("id = ?", id).Updates(map[string]any{
		"valid_until": validUntil,
		"is_active":   active,
	})
	if res.Error != nil {
		return domain.Credential{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Credential{}, domain.ErrNotFound
	}
	return r.GetCredential(ctx, id)
}

func (r *Repository) CountActiveCredentials(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("is_active = ? AND valid_until > ?", true, now).
		Count(&count).Error
	return count, err
}

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var m SettingModel
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&m).Error; err != nil {
		return "", notFound(err)
	}
	return m.Value, nil
}

func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	m := SettingModel{Key: key, Value: value}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&m).Error
}

func (r *Repository) ListSettings(ctx context.Context) (map[string]string, error) {
	rows := make([]SettingModel, 0)
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[string]string, len(rows))
	for _, m := range rows {
		result[m.Key] = m.Value
	}
	return result, nil
}

func toCredentialModel(c domain.Credential) CredentialModel {
	return CredentialModel{
		ID:         c.ID,
		BuyerID:    c.BuyerID,
		Protocol:   string(c.Protocol),
		RemoteRef:  c.RemoteRef,
		InboundID:  c.InboundID,
		Name:       c.Name,
		Payload:    c.Payload,
		ValidUntil: c.ValidUntil,
		IsActive:   c.IsActive,
	}
}

func toCredential(m CredentialModel) domain.Credential {
	return domain.Credential{
		ID:         m.ID,
		BuyerID:    m.BuyerID,
		Protocol:   domain.Protocol(m.Protocol),
		RemoteRef:  m.RemoteRef,
		InboundID:  m.InboundID,
		Name:       m.Name,
		Payload:    m.Payload,
		ValidUntil: m.ValidUntil,
		IsActive:   m.IsActive,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
