package sqlite

import "time"

type BuyerModel struct {
	ID           uint  `gorm:"primaryKey"`
	TelegramID   int64 `gorm:"uniqueIndex;not null"`
	Username     string
	FirstName    string
	LastName     string
	IsBlocked    bool `gorm:"not null"`
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

func (BuyerModel) TableName() string { return "buyers" }

type CatalogItemModel struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Description  string
	Price        int64  `gorm:"not null"`
	DurationDays int    `gorm:"not null"`
	Protocol     string `gorm:"not null"`
	IsActive     bool   `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (CatalogItemModel) TableName() string { return "catalog_items" }

type PaymentMethodModel struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Description  string
	Instructions string
	IsActive     bool `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (PaymentMethodModel) TableName() string { return "payment_methods" }

type OrderModel struct {
	ID              uint   `gorm:"primaryKey"`
	BuyerID         uint   `gorm:"not null;index"`
	CatalogItemID   uint   `gorm:"not null"`
	PaymentMethodID uint   `gorm:"not null"`
	CredentialID    *uint  `gorm:"index"`
	Amount          int64  `gorm:"not null"`
	Protocol        string `gorm:"not null"`
	DurationDays    int    `gorm:"not null"`
	ItemName        string `gorm:"not null"`
	Status          string `gorm:"not null;index"`
	CreatedAt       time.Time
	PaidAt          *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

func (OrderModel) TableName() string { return "orders" }

type CredentialModel struct {
	ID         uint    `gorm:"primaryKey"`
	BuyerID    uint    `gorm:"not null;index"`
	Protocol   string  `gorm:"not null"`
	RemoteRef  *string `gorm:"index"`
	InboundID  *int
	Name       string    `gorm:"not null"`
	Payload    string    `gorm:"not null"`
	ValidUntil time.Time `gorm:"not null"`
	IsActive   bool      `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (CredentialModel) TableName() string { return "credentials" }

type SettingModel struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (SettingModel) TableName() string { return "settings" }

type UserModel struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null;default:'operator'"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type SessionModel struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;index"`
	TokenHash string `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (SessionModel) TableName() string { return "sessions" }

type APITokenModel struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	TokenHash string `gorm:"uniqueIndex;not null"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}

func (APITokenModel) TableName() string { return "api_tokens" }

type AuditLogModel struct {
	ID          uint `gorm:"primaryKey"`
	ActorUserID *uint
	Action      string `gorm:"not null;index"`
	TargetType  string `gorm:"not null"`
	TargetID    *uint
	Metadata    string
	CreatedAt   time.Time
}

func (AuditLogModel) TableName() string { return "audit_logs" }
