package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/cache"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogMutationsInvalidateCatalogCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	item := h.item(t, domain.ProtocolVLESS, 30)
	_, err := h.svc.SetCatalogItemActive(ctx, item.ID, false)
	require.NoError(t, err)

	catalogHits := 0
	for _, target := range h.inv.seen() {
		if target == cache.Catalog() {
			catalogHits++
		}
	}
	assert.Equal(t, 2, catalogHits)

	active, err := h.svc.ListCatalogItems(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCatalogInputValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateCatalogItem(context.Background(), application.CatalogItemInput{
		Name: "Bad", Price: 10, DurationDays: 0, Protocol: "wireguard",
	})
	var verr *application.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "duration_days")
	assert.Contains(t, verr.Error(), "protocol")
}

func TestBlockBuyerInvalidatesBlockFlag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	buyer, err := h.svc.SetBuyerBlocked(ctx, h.buyer.ID, true)
	require.NoError(t, err)
	assert.True(t, buyer.IsBlocked)
	assert.Contains(t, h.inv.seen(), cache.BlockedFlagOf(4242))

	blocked, err := h.svc.IsBlocked(ctx, 4242)
	require.NoError(t, err)
	assert.True(t, blocked)

	unknown, err := h.svc.IsBlocked(ctx, 1)
	require.NoError(t, err)
	assert.False(t, unknown)
}

func TestRegisterBuyerStripsAt(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "bob", h.buyer.Username)
}

func TestCancelPendingNeverOverwritesPaidOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.item(t, domain.ProtocolVLESS, 30)

	order, err := h.svc.PlaceOrder(ctx, h.buyer.ID, item, h.method.ID)
	require.NoError(t, err)
	_, err = h.svc.MarkPaid(ctx, order.ID)
	require.NoError(t, err)

	_, err = h.svc.CancelPending(ctx, order.ID)
	var conflict *application.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.OrderAwaitingConfirmation, conflict.Status)

	current, err := h.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderAwaitingConfirmation, current.Status)

	pending, err := h.svc.PendingConfirmations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, order.ID, pending[0].ID)
}

func TestPlaceOrderFreezesSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.item(t, domain.ProtocolTrojan, 14)

	order, err := h.svc.PlaceOrder(ctx, h.buyer.ID, item, h.method.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Equal(t, int64(300), order.Amount)
	assert.Equal(t, domain.ProtocolTrojan, order.Protocol)
	assert.Equal(t, 14, order.DurationDays)
	assert.Equal(t, item.Name, order.ItemName)
}

func TestStatsAndSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.paidOrder(t, h.item(t, domain.ProtocolVLESS, 30))
	_, _, err := h.prov.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Buyers)
	assert.Equal(t, int64(1), stats.CompletedOrders)
	assert.Equal(t, int64(1), stats.ActiveCredentials)
	assert.Equal(t, int64(300), stats.Revenue)

	require.NoError(t, h.svc.SetSetting(ctx, domain.SettingSupportContact, "@helpdesk"))
	assert.Equal(t, "@helpdesk", h.svc.Setting(ctx, domain.SettingSupportContact, "none"))
	assert.Equal(t, "fallback", h.svc.Setting(ctx, "missing_key", "fallback"))

	require.NoError(t, h.svc.ClearCaches(ctx))
	assert.Contains(t, h.inv.seen(), cache.All())
}

func TestSessionLoginAndPermissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.BootstrapAdmin(ctx, "Admin@Example.com", "s3cret"))
	require.NoError(t, h.svc.BootstrapAdmin(ctx, "other@example.com", "ignored"))

	_, _, err := h.svc.LoginWithSession(ctx, "admin@example.com", "wrong", time.Hour)
	require.Error(t, err)

	user, token, err := h.svc.LoginWithSession(ctx, "admin@example.com", "s3cret", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, application.RoleAdmin, user.Role)

	identity, err := h.svc.AuthenticateSession(ctx, token)
	require.NoError(t, err)
	assert.True(t, h.svc.Can(identity, application.PermSettingsWrite))

	_, err = h.svc.CreateUser(ctx, "op@example.com", "pw", application.RoleOperator)
	require.NoError(t, err)
	_, apiToken, err := h.svc.LoginWithAPIToken(ctx, "op@example.com", "pw", "", nil)
	require.NoError(t, err)
	opIdentity, err := h.svc.AuthenticateBearerToken(ctx, apiToken)
	require.NoError(t, err)
	assert.True(t, h.svc.Can(opIdentity, application.PermOrdersConfirm))
	assert.False(t, h.svc.Can(opIdentity, application.PermSettingsWrite))

	require.NoError(t, h.svc.LogoutSession(ctx, token))
	_, err = h.svc.AuthenticateSession(ctx, token)
	assert.ErrorIs(t, err, application.ErrUnauthorized)
}
