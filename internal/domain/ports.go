package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrStatusMismatch = errors.New("status mismatch")
)

type Store interface {
	UpsertBuyer(ctx context.Context, value Buyer) (Buyer, error)
	GetBuyerByID(ctx context.Context, id uint) (Buyer, error)
	GetBuyerByTelegramID(ctx context.Context, telegramID int64) (Buyer, error)
	ListBuyers(ctx context.Context, query string, limit int) ([]Buyer, error)
	SetBuyerBlocked(ctx context.Context, id uint, blocked bool) (Buyer, error)

	CreateCatalogItem(ctx context.Context, value CatalogItem) (CatalogItem, error)
	UpdateCatalogItem(ctx context.Context, value CatalogItem) (CatalogItem, error)
	GetCatalogItem(ctx context.Context, id uint) (CatalogItem, error)
	ListCatalogItems(ctx context.Context, activeOnly bool) ([]CatalogItem, error)

	CreatePaymentMethod(ctx context.Context, value PaymentMethod) (PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, value PaymentMethod) (PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id uint) (PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, activeOnly bool) ([]PaymentMethod, error)

	CreateOrder(ctx context.Context, value Order) (Order, error)
	GetOrder(ctx context.Context, id uint) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]OrderSummary, error)
	// TransitionOrder moves an order to `to` only while its current status is
	// one of `from`. ErrStatusMismatch otherwise.
	TransitionOrder(ctx context.Context, id uint, from []OrderStatus, to OrderStatus, at time.Time) (Order, error)
	// CompleteOrder inserts the credential and completes the order in one
	// transaction. The order must be awaiting confirmation.
	CompleteOrder(ctx context.Context, orderID uint, credential Credential, at time.Time) (Order, Credential, error)
	CountOrders(ctx context.Context, status OrderStatus) (int64, error)
	SumOrderAmounts(ctx context.Context, status OrderStatus) (int64, error)

	GetCredential(ctx context.Context, id uint) (Credential, error)
	ListCredentials(ctx context.Context, filter CredentialFilter) ([]Credential, error)
	UpdateCredentialState(ctx context.Context, id uint, validUntil time.Time, active bool) (Credential, error)
	CountBuyers(ctx context.Context, blockedOnly bool) (int64, error)
	CountActiveCredentials(ctx context.Context, now time.Time) (int64, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)

	CreateUser(ctx context.Context, value User) (User, error)
	CountUsers(ctx context.Context) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id uint) (User, error)
	ListUsers(ctx context.Context, query string, limit int) ([]User, error)
	CreateSession(ctx context.Context, value AuthSession) (AuthSession, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (AuthSession, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	CreateAPIToken(ctx context.Context, value APIToken) (APIToken, error)
	GetAPITokenByTokenHash(ctx context.Context, tokenHash string) (APIToken, error)
	CreateAuditLog(ctx context.Context, value AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]AuditRecord, error)
}

// Panel is the remote VPN panel that owns client accounts. Identifiers are
// the buyer-scoped client names the shop generates.
type Panel interface {
	ListInbounds(ctx context.Context) ([]Inbound, error)
	CreateClient(ctx context.Context, inboundID int, identifier string, protocol Protocol, expiryDays int) (RemoteClient, error)
	UpdateClient(ctx context.Context, inboundID int, identifier string, update ClientUpdate) error
	RemoveClient(ctx context.Context, inboundID int, identifier string) error
	Stats(ctx context.Context) (json.RawMessage, error)
}
