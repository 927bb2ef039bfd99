package domain

import (
	"strings"
	"time"
)

type Protocol string

const (
	ProtocolVMess  Protocol = "vmess"
	ProtocolVLESS  Protocol = "vless"
	ProtocolTrojan Protocol = "trojan"
)

var Protocols = []Protocol{ProtocolVMess, ProtocolVLESS, ProtocolTrojan}

// ParseProtocol normalises a protocol tag. The second result is false for
// anything outside the supported set.
func ParseProtocol(raw string) (Protocol, bool) {
	p := Protocol(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case ProtocolVMess, ProtocolVLESS, ProtocolTrojan:
		return p, true
	}
	return p, false
}

type OrderStatus string

const (
	OrderPending              OrderStatus = "pending"
	OrderAwaitingConfirmation OrderStatus = "awaiting_confirmation"
	OrderCompleted            OrderStatus = "completed"
	OrderCancelled            OrderStatus = "cancelled"
)

// Cancellable reports whether an order in this status may still move to cancelled.
func (s OrderStatus) Cancellable() bool {
	return s == OrderPending || s == OrderAwaitingConfirmation
}

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

type Buyer struct {
	ID           uint
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	IsBlocked    bool
	RegisteredAt time.Time
}

func (b Buyer) DisplayName() string {
	name := strings.TrimSpace(b.FirstName + " " + b.LastName)
	if name != "" {
		return name
	}
	if b.Username != "" {
		return "@" + b.Username
	}
	return "buyer"
}

type CatalogItem struct {
	ID           uint
	Name         string
	Description  string
	Price        int64
	DurationDays int
	Protocol     Protocol
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type PaymentMethod struct {
	ID           uint
	Name         string
	Description  string
	Instructions string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Order freezes amount, protocol, duration and item name at payment-method
// selection so later catalog edits never change what gets provisioned.
type Order struct {
	ID              uint
	BuyerID         uint
	CatalogItemID   uint
	PaymentMethodID uint
	CredentialID    *uint
	Amount          int64
	Protocol        Protocol
	DurationDays    int
	ItemName        string
	Status          OrderStatus
	CreatedAt       time.Time
	PaidAt          *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

type OrderSummary struct {
	Order
	BuyerTelegramID   int64
	BuyerName         string
	PaymentMethodName string
}

type OrderFilter struct {
	Status  *OrderStatus
	BuyerID *uint
	Limit   int
}

type Credential struct {
	ID         uint
	BuyerID    uint
	Protocol   Protocol
	RemoteRef  *string
	InboundID  *int
	Name       string
	Payload    string
	ValidUntil time.Time
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (c Credential) Expired(now time.Time) bool {
	return !c.ValidUntil.After(now)
}

type CredentialFilter struct {
	BuyerID    *uint
	ActiveOnly bool
	Limit      int
}

const (
	SettingWelcomeMessage      = "welcome_message"
	SettingAdminTelegramID     = "admin_telegram_id"
	SettingServerAddress       = "vpn_server_address"
	SettingServerPort          = "vpn_server_port"
	SettingPaymentConfirmation = "payment_confirmation_message"
	SettingSupportContact      = "support_contact"
)

type ShopStats struct {
	Buyers            int64 `json:"buyers"`
	BlockedBuyers     int64 `json:"blocked_buyers"`
	ActiveCredentials int64 `json:"active_credentials"`
	PendingOrders     int64 `json:"pending_orders"`
	AwaitingOrders    int64 `json:"awaiting_orders"`
	CompletedOrders   int64 `json:"completed_orders"`
	Revenue           int64 `json:"revenue"`
}

type Inbound struct {
	ID       int
	Protocol Protocol
	Address  string
	Port     int
	Network  string
	Security string
	Remark   string
	Enabled  bool
}

type RemoteClient struct {
	RemoteID   string
	Secret     string
	Identifier string
}

type ClientUpdate struct {
	ExpiresAt *time.Time
	Enabled   *bool
}

type User struct {
	ID           uint
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AuthSession struct {
	ID        uint
	UserID    uint
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type APIToken struct {
	ID        uint
	UserID    uint
	Name      string
	TokenHash string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

type AuditLog struct {
	ID          uint
	ActorUserID *uint
	Action      string
	TargetType  string
	TargetID    *uint
	Metadata    string
	CreatedAt   time.Time
}

type Identity struct {
	User        User
	Permissions map[string]struct{}
}

type AuditRecord struct {
	ID             uint
	ActorUserID    *uint
	ActorUserEmail string
	Action         string
	TargetType     string
	TargetID       *uint
	Metadata       string
	CreatedAt      time.Time
}
