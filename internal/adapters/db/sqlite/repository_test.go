package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/NikoleTW/VPNBot/internal/domain"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "vpnshop_test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewRepository(db)
}

type fixture struct {
	buyer  domain.Buyer
	item   domain.CatalogItem
	method domain.PaymentMethod
}

func seed(t *testing.T, repo *Repository) fixture {
	t.Helper()
	ctx := context.Background()
	buyer, err := repo.UpsertBuyer(ctx, domain.Buyer{TelegramID: 1001, Username: "alice", FirstName: "Alice"})
	if err != nil {
		t.Fatalf("upsert buyer: %v", err)
	}
	item, err := repo.CreateCatalogItem(ctx, domain.CatalogItem{Name: "Monthly", Price: 100, DurationDays: 30, Protocol: domain.ProtocolVLESS, IsActive: true})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	method, err := repo.CreatePaymentMethod(ctx, domain.PaymentMethod{Name: "Card", Instructions: "Pay to 0000", IsActive: true})
	if err != nil {
		t.Fatalf("create method: %v", err)
	}
	return fixture{buyer: buyer, item: item, method: method}
}

func newOrder(t *testing.T, repo *Repository, f fixture) domain.Order {
	t.Helper()
	order, err := repo.CreateOrder(context.Background(), domain.Order{
		BuyerID:         f.buyer.ID,
		CatalogItemID:   f.item.ID,
		PaymentMethodID: f.method.ID,
		Amount:          f.item.Price,
		Protocol:        f.item.Protocol,
		DurationDays:    f.item.DurationDays,
		ItemName:        f.item.Name,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestUpsertBuyerKeepsOneRowPerTelegramID(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	first, err := repo.UpsertBuyer(ctx, domain.Buyer{TelegramID: 55, Username: "old"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := repo.UpsertBuyer(ctx, domain.Buyer{TelegramID: 55, Username: "new"})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same buyer row, got %d and %d", first.ID, second.ID)
	}
	if second.Username != "new" {
		t.Fatalf("expected username refresh, got %q", second.Username)
	}
	if second.RegisteredAt.IsZero() {
		t.Fatalf("expected registration time")
	}

	blocked, err := repo.SetBuyerBlocked(ctx, first.ID, true)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if !blocked.IsBlocked {
		t.Fatalf("expected blocked buyer")
	}
	if _, err := repo.SetBuyerBlocked(ctx, 9999, true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogActiveFilterAndInactiveCreate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if _, err := repo.CreateCatalogItem(ctx, domain.CatalogItem{Name: "Hidden", Price: 5, DurationDays: 1, Protocol: domain.ProtocolTrojan, IsActive: false}); err != nil {
		t.Fatalf("create hidden: %v", err)
	}
	f := seed(t, repo)

	active, err := repo.ListCatalogItems(ctx, true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != f.item.ID {
		t.Fatalf("expected only the active item, got %+v", active)
	}

	f.item.IsActive = false
	if _, err := repo.UpdateCatalogItem(ctx, f.item); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, _ = repo.ListCatalogItems(ctx, true)
	if len(active) != 0 {
		t.Fatalf("expected empty active catalog, got %d", len(active))
	}
	all, _ := repo.ListCatalogItems(ctx, false)
	if len(all) != 2 {
		t.Fatalf("expected 2 items, got %d", len(all))
	}
	if _, err := repo.GetCatalogItem(ctx, 424242); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionOrderIsCompareAndSet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo)
	order := newOrder(t, repo, f)

	if order.Status != domain.OrderPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}

	now := time.Now().UTC()
	paid, err := repo.TransitionOrder(ctx, order.ID, []domain.OrderStatus{domain.OrderPending}, domain.OrderAwaitingConfirmation, now)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.PaidAt == nil {
		t.Fatalf("expected paid_at to be set")
	}

	_, err = repo.TransitionOrder(ctx, order.ID, []domain.OrderStatus{domain.OrderPending}, domain.OrderCancelled, now)
	if !errors.Is(err, domain.ErrStatusMismatch) {
		t.Fatalf("expected status mismatch, got %v", err)
	}
	current, _ := repo.GetOrder(ctx, order.ID)
	if current.Status != domain.OrderAwaitingConfirmation {
		t.Fatalf("cancel must not overwrite, got %s", current.Status)
	}

	_, err = repo.TransitionOrder(ctx, 777, []domain.OrderStatus{domain.OrderPending}, domain.OrderCancelled, now)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteOrderLinksCredentialOnce(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo)
	order := newOrder(t, repo, f)
	now := time.Now().UTC()

	ref := "tguser_1001_20250101000000"
	inbound := 1
	cred := domain.Credential{
		BuyerID:    f.buyer.ID,
		Protocol:   domain.ProtocolVLESS,
		RemoteRef:  &ref,
		InboundID:  &inbound,
		Name:       "Monthly 01-01-2025",
		Payload:    `{"type":"vless"}`,
		ValidUntil: now.AddDate(0, 0, 30),
		IsActive:   true,
	}

	if _, _, err := repo.CompleteOrder(ctx, order.ID, cred, now); !errors.Is(err, domain.ErrStatusMismatch) {
		t.Fatalf("pending order must not complete, got %v", err)
	}
	creds, _ := repo.ListCredentials(ctx, domain.CredentialFilter{BuyerID: &f.buyer.ID})
	if len(creds) != 0 {
		t.Fatalf("failed completion must roll back credential insert, got %d", len(creds))
	}

	if _, err := repo.TransitionOrder(ctx, order.ID, []domain.OrderStatus{domain.OrderPending}, domain.OrderAwaitingConfirmation, now); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	completed, stored, err := repo.CompleteOrder(ctx, order.ID, cred, now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.OrderCompleted || completed.CredentialID == nil || *completed.CredentialID != stored.ID {
		t.Fatalf("unexpected completed order %+v", completed)
	}

	if _, _, err := repo.CompleteOrder(ctx, order.ID, cred, now); !errors.Is(err, domain.ErrStatusMismatch) {
		t.Fatalf("second completion must fail, got %v", err)
	}
	creds, _ = repo.ListCredentials(ctx, domain.CredentialFilter{BuyerID: &f.buyer.ID, ActiveOnly: true})
	if len(creds) != 1 {
		t.Fatalf("expected exactly one credential, got %d", len(creds))
	}

	revenue, err := repo.SumOrderAmounts(ctx, domain.OrderCompleted)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if revenue != 100 {
		t.Fatalf("expected revenue 100, got %d", revenue)
	}
}

func TestListOrdersJoinsBuyerAndMethod(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	f := seed(t, repo)
	newOrder(t, repo, f)
	second := newOrder(t, repo, f)
	if _, err := repo.TransitionOrder(ctx, second.ID, []domain.OrderStatus{domain.OrderPending}, domain.OrderAwaitingConfirmation, time.Now().UTC()); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	status := domain.OrderAwaitingConfirmation
	rows, err := repo.ListOrders(ctx, domain.OrderFilter{Status: &status})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 awaiting order, got %d", len(rows))
	}
	got := rows[0]
	if got.ID != second.ID || got.BuyerTelegramID != 1001 || got.BuyerName != "Alice" || got.PaymentMethodName != "Card" {
		t.Fatalf("unexpected summary %+v", got)
	}
}

func TestSettingsUpsert(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	port, err := repo.GetSetting(ctx, domain.SettingServerPort)
	if err != nil {
		t.Fatalf("default setting: %v", err)
	}
	if port != "443" {
		t.Fatalf("expected default port 443, got %q", port)
	}

	if err := repo.SetSetting(ctx, domain.SettingAdminTelegramID, "42"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.SetSetting(ctx, "custom", "x"); err != nil {
		t.Fatalf("set new: %v", err)
	}
	all, err := repo.ListSettings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if all[domain.SettingAdminTelegramID] != "42" || all["custom"] != "x" {
		t.Fatalf("unexpected settings %+v", all)
	}
	if _, err := repo.GetSetting(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
