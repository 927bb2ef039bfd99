package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NikoleTW/VPNBot/internal/cache"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memShop struct {
	mu           sync.Mutex
	nextID       uint
	buyers       map[int64]domain.Buyer
	catalog      []domain.CatalogItem
	methods      []domain.PaymentMethod
	orders       map[uint]domain.Order
	creds        map[uint][]domain.Credential
	settings     map[string]string
	catalogReads int
	beforeCancel func(orderID uint)
}

func newMemShop() *memShop {
	return &memShop{
		nextID:   100,
		buyers:   make(map[int64]domain.Buyer),
		catalog:  []domain.CatalogItem{monthly},
		methods:  []domain.PaymentMethod{{ID: 3, Name: "Card", Instructions: "Pay to 0000", IsActive: true}},
		orders:   make(map[uint]domain.Order),
		creds:    make(map[uint][]domain.Credential),
		settings: map[string]string{domain.SettingAdminTelegramID: "900"},
	}
}

func (m *memShop) RegisterBuyer(_ context.Context, b domain.Buyer) (domain.Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.buyers[b.TelegramID]; ok {
		b.ID = existing.ID
		b.IsBlocked = existing.IsBlocked
	} else {
		m.nextID++
		b.ID = m.nextID
	}
	m.buyers[b.TelegramID] = b
	return b, nil
}

func (m *memShop) BuyerByTelegramID(_ context.Context, tg int64) (domain.Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buyers[tg]
	if !ok {
		return domain.Buyer{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memShop) IsBlocked(_ context.Context, tg int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buyers[tg].IsBlocked, nil
}

func (m *memShop) setBlocked(tg int64, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buyers[tg]
	b.TelegramID = tg
	b.IsBlocked = blocked
	m.buyers[tg] = b
}

func (m *memShop) ListCatalogItems(_ context.Context, activeOnly bool) ([]domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogReads++
	var out []domain.CatalogItem
	for _, it := range m.catalog {
		if !activeOnly || it.IsActive {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memShop) ListPaymentMethods(_ context.Context, activeOnly bool) ([]domain.PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PaymentMethod
	for _, pm := range m.methods {
		if !activeOnly || pm.IsActive {
			out = append(out, pm)
		}
	}
	return out, nil
}

func (m *memShop) ActiveCredentials(_ context.Context, buyerID uint) ([]domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Credential(nil), m.creds[buyerID]...), nil
}

func (m *memShop) PlaceOrder(_ context.Context, buyerID uint, item domain.CatalogItem, methodID uint) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o := domain.Order{
		ID: m.nextID, BuyerID: buyerID, CatalogItemID: item.ID, PaymentMethodID: methodID,
		Amount: item.Price, Protocol: item.Protocol, DurationDays: item.DurationDays, ItemName: item.Name,
		Status: domain.OrderPending,
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *memShop) cas(id uint, from, to domain.OrderStatus) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	if o.Status != from {
		return domain.Order{}, domain.ErrStatusMismatch
	}
	o.Status = to
	m.orders[id] = o
	return o, nil
}

func (m *memShop) MarkPaid(_ context.Context, id uint) (domain.Order, error) {
	return m.cas(id, domain.OrderPending, domain.OrderAwaitingConfirmation)
}

func (m *memShop) CancelPending(_ context.Context, id uint) (domain.Order, error) {
	if m.beforeCancel != nil {
		m.beforeCancel(id)
	}
	return m.cas(id, domain.OrderPending, domain.OrderCancelled)
}

func (m *memShop) GetOrder(_ context.Context, id uint) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memShop) PendingConfirmations(_ context.Context, _ int) ([]domain.OrderSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderSummary
	for _, o := range m.orders {
		if o.Status == domain.OrderAwaitingConfirmation {
			out = append(out, domain.OrderSummary{Order: o})
		}
	}
	return out, nil
}

func (m *memShop) Setting(_ context.Context, key, fallback string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (m *memShop) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type stubConfirmer struct {
	calls []uint
	err   error
}

func (c *stubConfirmer) ConfirmOrder(_ context.Context, id uint) (domain.Order, domain.Credential, error) {
	c.calls = append(c.calls, id)
	if c.err != nil {
		return domain.Order{}, domain.Credential{}, c.err
	}
	return domain.Order{ID: id, Status: domain.OrderCompleted}, domain.Credential{ID: 1}, nil
}

var alice = domain.Buyer{TelegramID: 4242, FirstName: "Alice"}

func act(kind ActionKind, id uint) Action {
	return Action{Kind: kind, From: alice, ChatID: alice.TelegramID, ID: id}
}

func newTestFlow(shop *memShop) (*Flow, *cache.Set) {
	caches := cache.NewSet(time.Minute)
	return NewFlow(shop, &stubConfirmer{}, caches, nil), caches
}

func only(t *testing.T, replies []Reply) Reply {
	t.Helper()
	require.Len(t, replies, 1)
	return replies[0]
}

func TestFlowMissingItemCreatesNoOrder(t *testing.T) {
	shop := newMemShop()
	flow, _ := newTestFlow(shop)
	ctx := context.Background()

	only(t, flow.Handle(ctx, act(ActionBrowse, 0)))
	r := only(t, flow.Handle(ctx, act(ActionSelectItem, 999)))
	assert.Equal(t, ScreenItemMissing, r.Screen)
	assert.NotEmpty(t, r.Catalog)
	assert.Equal(t, StateSelectingProduct, flow.Session(alice.TelegramID).State)

	// A stale button pressed out of order must not reach order creation.
	r = only(t, flow.Handle(ctx, act(ActionChooseMethod, 3)))
	assert.Equal(t, ScreenCancelled, r.Screen)
	assert.Zero(t, shop.orderCount())
}

func buyUntilAwaitingPayment(t *testing.T, flow *Flow) uint {
	t.Helper()
	ctx := context.Background()
	only(t, flow.Handle(ctx, act(ActionBrowse, 0)))
	r := only(t, flow.Handle(ctx, act(ActionSelectItem, monthly.ID)))
	require.Equal(t, ScreenConfirmPurchase, r.Screen)
	r = only(t, flow.Handle(ctx, act(ActionConfirm, 0)))
	require.Equal(t, ScreenPaymentMethods, r.Screen)
	require.Len(t, r.Methods, 1)
	r = only(t, flow.Handle(ctx, act(ActionChooseMethod, 3)))
	require.Equal(t, ScreenPaymentInstructions, r.Screen)
	require.NotNil(t, r.Order)
	require.NotNil(t, r.Method)
	assert.Equal(t, "Pay to 0000", r.Method.Instructions)
	return r.Order.ID
}

func TestFlowEndToEndPurchase(t *testing.T) {
	shop := newMemShop()
	flow, _ := newTestFlow(shop)
	ctx := context.Background()

	orderID := buyUntilAwaitingPayment(t, flow)
	order, _ := shop.GetOrder(ctx, orderID)
	assert.Equal(t, int64(300), order.Amount)
	assert.Equal(t, domain.ProtocolVLESS, order.Protocol)
	assert.Equal(t, 30, order.DurationDays)

	replies := flow.Handle(ctx, act(ActionPaid, 0))
	require.Len(t, replies, 2)
	assert.Equal(t, int64(900), replies[0].ChatID)
	assert.Equal(t, ScreenAdminNewPayment, replies[0].Screen)
	assert.Equal(t, ScreenPaymentRecorded, replies[1].Screen)
	assert.NotEmpty(t, replies[1].Text)
	assert.Equal(t, StateIdle, flow.Session(alice.TelegramID).State)

	order, _ = shop.GetOrder(ctx, orderID)
	assert.Equal(t, domain.OrderAwaitingConfirmation, order.Status)

	admin := Action{Kind: ActionAdminInbox, From: domain.Buyer{TelegramID: 900}, ChatID: 900}
	r := only(t, flow.Handle(ctx, admin))
	require.Equal(t, ScreenAdminInbox, r.Screen)
	require.Len(t, r.Orders, 1)

	admin.Kind = ActionAdminConfirm
	admin.ID = orderID
	r = only(t, flow.Handle(ctx, admin))
	assert.Equal(t, ScreenAdminConfirmed, r.Screen)
}

func TestFlowAdminActionsRequireAdmin(t *testing.T) {
	shop := newMemShop()
	flow, _ := newTestFlow(shop)
	r := only(t, flow.Handle(context.Background(), act(ActionAdminConfirm, 1)))
	assert.Equal(t, ScreenNotAllowed, r.Screen)
}

func TestFlowCancelAfterPaidIsRejected(t *testing.T) {
	shop := newMemShop()
	flow, _ := newTestFlow(shop)
	ctx := context.Background()
	orderID := buyUntilAwaitingPayment(t, flow)

	// The payment was recorded elsewhere before the buyer pressed cancel.
	_, err := shop.MarkPaid(ctx, orderID)
	require.NoError(t, err)

	r := only(t, flow.Handle(ctx, act(ActionCancel, 0)))
	assert.Equal(t, ScreenCancelRejected, r.Screen)
	order, _ := shop.GetOrder(ctx, orderID)
	assert.Equal(t, domain.OrderAwaitingConfirmation, order.Status)
}

func TestFlowCancelLosesRaceToPayment(t *testing.T) {
	shop := newMemShop()
	flow, _ := newTestFlow(shop)
	ctx := context.Background()
	orderID := buyUntilAwaitingPayment(t, flow)

	// The status flips between the re-read and the compare-and-set.
	shop.beforeCancel = func(id uint) {
		_, _ = shop.cas(id, domain.OrderPending, domain.OrderAwaitingConfirmation)
	}

	r := only(t, flow.Handle(ctx, act(ActionCancel, 0)))
	assert.Equal(t, ScreenCancelRejected, r.Screen)
	order, _ := shop.GetOrder(ctx, orderID)
	assert.Equal(t, domain.OrderAwaitingConfirmation, order.Status)
}

func TestFlowCancelPendingOrder(t *testing.T) {
	shop := newMemShop()
	flow, _ := newTestFlow(shop)
	ctx := context.Background()
	orderID := buyUntilAwaitingPayment(t, flow)

	r := only(t, flow.Handle(ctx, Action{Kind: ActionText, From: alice, Text: "what?"}))
	assert.Equal(t, ScreenCancelled, r.Screen)
	order, _ := shop.GetOrder(ctx, orderID)
	assert.Equal(t, domain.OrderCancelled, order.Status)
}

func TestFlowStaleButtonCancelsPendingOrder(t *testing.T) {
	cases := []struct {
		name string
		kind ActionKind
		id   uint
	}{
		{"select item", ActionSelectItem, monthly.ID},
		{"confirm", ActionConfirm, 0},
		{"choose method", ActionChooseMethod, 3},
		{"browse", ActionBrowse, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shop := newMemShop()
			flow, _ := newTestFlow(shop)
			ctx := context.Background()
			orderID := buyUntilAwaitingPayment(t, flow)

			r := only(t, flow.Handle(ctx, act(tc.kind, tc.id)))
			assert.Equal(t, ScreenCancelled, r.Screen)
			assert.Equal(t, StateIdle, flow.Session(alice.TelegramID).State)
			order, err := shop.GetOrder(ctx, orderID)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderCancelled, order.Status)
			assert.Equal(t, 1, shop.orderCount())
		})
	}
}

func TestFlowStaleButtonLeavesPaidOrder(t *testing.T) {
	shop := newMemShop()
	flow, _ := newTestFlow(shop)
	ctx := context.Background()
	orderID := buyUntilAwaitingPayment(t, flow)

	_, err := shop.MarkPaid(ctx, orderID)
	require.NoError(t, err)

	r := only(t, flow.Handle(ctx, act(ActionChooseMethod, 3)))
	assert.Equal(t, ScreenCancelRejected, r.Screen)
	order, _ := shop.GetOrder(ctx, orderID)
	assert.Equal(t, domain.OrderAwaitingConfirmation, order.Status)
}

func TestFlowReadsCatalogThroughCache(t *testing.T) {
	shop := newMemShop()
	flow, caches := newTestFlow(shop)
	ctx := context.Background()

	flow.Handle(ctx, act(ActionBrowse, 0))
	flow.Handle(ctx, act(ActionBrowse, 0))
	assert.Equal(t, 1, shop.catalogReads)

	shop.mu.Lock()
	shop.catalog = nil
	shop.mu.Unlock()

	r := only(t, flow.Handle(ctx, act(ActionBrowse, 0)))
	assert.Equal(t, ScreenCatalog, r.Screen, "stale entry still served until invalidated")

	caches.Apply(cache.Catalog())
	r = only(t, flow.Handle(ctx, act(ActionBrowse, 0)))
	assert.Equal(t, ScreenEmptyCatalog, r.Screen)
	assert.Equal(t, 2, shop.catalogReads)
}

func TestFlowBlockedBuyer(t *testing.T) {
	shop := newMemShop()
	flow, caches := newTestFlow(shop)
	ctx := context.Background()

	only(t, flow.Handle(ctx, act(ActionStart, 0)))
	shop.setBlocked(alice.TelegramID, true)

	r := only(t, flow.Handle(ctx, act(ActionBrowse, 0)))
	assert.Equal(t, ScreenCatalog, r.Screen, "cached flag from start")

	caches.Apply(cache.BlockedFlagOf(alice.TelegramID))
	r = only(t, flow.Handle(ctx, act(ActionBrowse, 0)))
	assert.Equal(t, ScreenBlocked, r.Screen)
	r = only(t, flow.Handle(ctx, act(ActionMyCredentials, 0)))
	assert.Equal(t, ScreenBlocked, r.Screen)
}

func TestFlowCredentialLink(t *testing.T) {
	shop := newMemShop()
	flow, caches := newTestFlow(shop)
	ctx := context.Background()

	buyer, err := shop.RegisterBuyer(ctx, alice)
	require.NoError(t, err)

	r := only(t, flow.Handle(ctx, act(ActionMyCredentials, 0)))
	assert.Equal(t, ScreenNoCredentials, r.Screen)

	shop.mu.Lock()
	shop.creds[buyer.ID] = []domain.Credential{{
		ID: 5, BuyerID: buyer.ID, Protocol: domain.ProtocolTrojan, Name: "Monthly",
		Payload:  `{"type":"trojan","password":"pw","address":"vpn.example.com","port":443}`,
		IsActive: true, ValidUntil: time.Now().Add(24 * time.Hour),
	}}
	shop.mu.Unlock()

	r = only(t, flow.Handle(ctx, act(ActionMyCredentials, 0)))
	assert.Equal(t, ScreenNoCredentials, r.Screen, "cached empty list")

	r = only(t, flow.Handle(ctx, act(ActionRefreshCredentials, 0)))
	require.Equal(t, ScreenCredentials, r.Screen)
	assert.Len(t, r.Credentials, 1)

	r = only(t, flow.Handle(ctx, act(ActionCredentialLink, 5)))
	require.Equal(t, ScreenCredentialLink, r.Screen)
	assert.Equal(t, "trojan://pw@vpn.example.com:443#Monthly", r.Link)

	r = only(t, flow.Handle(ctx, act(ActionCredentialLink, 6)))
	assert.Equal(t, ScreenCredentialMissing, r.Screen)

	_, ok := caches.Credentials.Get(alice.TelegramID)
	assert.True(t, ok)
}

func TestFlowAdminConfirmFailure(t *testing.T) {
	shop := newMemShop()
	caches := cache.NewSet(time.Minute)
	confirmer := &stubConfirmer{err: errors.New("panel down")}
	flow := NewFlow(shop, confirmer, caches, nil)

	r := only(t, flow.Handle(context.Background(), Action{Kind: ActionAdminConfirm, From: domain.Buyer{TelegramID: 900}, ID: 12}))
	assert.Equal(t, ScreenAdminConfirmFailed, r.Screen)
	assert.EqualError(t, r.Err, "panel down")
	assert.Equal(t, []uint{12}, confirmer.calls)
}
