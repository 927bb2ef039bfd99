package conversation

import (
	"testing"

	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monthly = domain.CatalogItem{ID: 7, Name: "Monthly", Price: 300, DurationDays: 30, Protocol: domain.ProtocolVLESS, IsActive: true}

func screens(effects []Effect) []Screen {
	var out []Screen
	for _, e := range effects {
		if e.Kind == EffectShow {
			out = append(out, e.Screen)
		}
	}
	return out
}

func TestTransitionMissingItemStaysSelecting(t *testing.T) {
	s := Session{State: StateSelectingProduct}

	next, effects := Transition(s, Event{Kind: EventSelectItem})
	assert.Equal(t, StateSelectingProduct, next.State)
	assert.Nil(t, next.Item)
	assert.Equal(t, []Screen{ScreenItemMissing}, screens(effects))

	inactive := monthly
	inactive.IsActive = false
	next, _ = Transition(s, Event{Kind: EventSelectItem, Item: &inactive})
	assert.Equal(t, StateSelectingProduct, next.State)
}

func TestTransitionPurchasePath(t *testing.T) {
	item := monthly
	s, effects := Transition(Session{}, Event{Kind: EventBrowse, Catalog: []domain.CatalogItem{item}})
	require.Equal(t, StateSelectingProduct, s.State)
	assert.Equal(t, []Screen{ScreenCatalog}, screens(effects))

	s, _ = Transition(s, Event{Kind: EventSelectItem, Item: &item})
	require.Equal(t, StateConfirmingPurchase, s.State)
	require.NotNil(t, s.Item)

	// The snapshot is a copy; later edits to the source row do not leak in.
	item.Price = 1
	assert.Equal(t, int64(300), s.Item.Price)

	method := domain.PaymentMethod{ID: 3, Name: "Card", IsActive: true}
	s, _ = Transition(s, Event{Kind: EventConfirm, Methods: []domain.PaymentMethod{method}})
	require.Equal(t, StatePaymentMethod, s.State)

	s, effects = Transition(s, Event{Kind: EventChooseMethod, Method: &method})
	require.Len(t, effects, 1)
	assert.Equal(t, EffectCreateOrder, effects[0].Kind)
	assert.Equal(t, int64(300), effects[0].Item.Price)
	assert.Equal(t, uint(3), effects[0].MethodID)

	order := domain.Order{ID: 11, Status: domain.OrderPending}
	s, effects = Transition(s, Event{Kind: EventOrderCreated, Order: &order})
	require.Equal(t, StateAwaitingPayment, s.State)
	assert.Equal(t, uint(11), s.OrderID)
	assert.Equal(t, []Screen{ScreenPaymentInstructions}, screens(effects))

	s, effects = Transition(s, Event{Kind: EventPaid, Order: &order})
	require.Len(t, effects, 1)
	assert.Equal(t, EffectMarkPaid, effects[0].Kind)

	s, effects = Transition(s, Event{Kind: EventPaymentRecorded})
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, []Screen{ScreenPaymentRecorded}, screens(effects))
}

func TestTransitionNoPaymentMethods(t *testing.T) {
	item := monthly
	next, effects := Transition(Session{State: StateConfirmingPurchase, Item: &item}, Event{Kind: EventConfirm})
	assert.Equal(t, StateSelectingProduct, next.State)
	assert.Equal(t, []Screen{ScreenNoPaymentMethods}, screens(effects))
}

func TestTransitionCancelOnlyTouchesPendingOrders(t *testing.T) {
	item := monthly
	s := Session{State: StateAwaitingPayment, Item: &item, OrderID: 11}

	next, effects := Transition(s, Event{Kind: EventCancel, Order: &domain.Order{ID: 11, Status: domain.OrderPending}})
	assert.Equal(t, StateIdle, next.State)
	require.Len(t, effects, 2)
	assert.Equal(t, EffectCancelOrder, effects[0].Kind)
	assert.Equal(t, uint(11), effects[0].OrderID)

	for _, status := range []domain.OrderStatus{domain.OrderAwaitingConfirmation, domain.OrderCompleted} {
		next, effects = Transition(s, Event{Kind: EventCancel, Order: &domain.Order{ID: 11, Status: status}})
		assert.Equal(t, StateIdle, next.State)
		assert.Equal(t, []Screen{ScreenCancelRejected}, screens(effects), status)
		for _, e := range effects {
			assert.NotEqual(t, EffectCancelOrder, e.Kind)
		}
	}
}

func TestTransitionUnknownInputMidFlowCancels(t *testing.T) {
	item := monthly
	s := Session{State: StateAwaitingPayment, Item: &item, OrderID: 11}
	next, effects := Transition(s, Event{Kind: EventUnknown, Order: &domain.Order{ID: 11, Status: domain.OrderPending}})
	assert.Equal(t, StateIdle, next.State)
	assert.Equal(t, EffectCancelOrder, effects[0].Kind)

	next, effects = Transition(Session{}, Event{Kind: EventUnknown})
	assert.Equal(t, StateIdle, next.State)
	assert.Equal(t, []Screen{ScreenMainMenu}, screens(effects))
}

func TestTransitionBlockedResets(t *testing.T) {
	item := monthly
	next, effects := Transition(Session{State: StateConfirmingPurchase, Item: &item}, Event{Kind: EventConfirm, Blocked: true})
	assert.Equal(t, Session{}, next)
	assert.Equal(t, []Screen{ScreenBlocked}, screens(effects))
}

func TestTransitionPaidForGoneOrder(t *testing.T) {
	s := Session{State: StateAwaitingPayment, OrderID: 11}
	next, effects := Transition(s, Event{Kind: EventPaid})
	assert.Equal(t, StateIdle, next.State)
	assert.Equal(t, []Screen{ScreenOrderGone}, screens(effects))

	next, effects = Transition(s, Event{Kind: EventPaid, Order: &domain.Order{ID: 11, Status: domain.OrderCancelled}})
	assert.Equal(t, StateIdle, next.State)
	assert.Equal(t, []Screen{ScreenOrderGone}, screens(effects))
}

func TestTransitionBrowseWithOrderInFlightCancels(t *testing.T) {
	item := monthly
	s := Session{State: StateAwaitingPayment, Item: &item, OrderID: 11}
	next, effects := Transition(s, Event{
		Kind:    EventBrowse,
		Catalog: []domain.CatalogItem{item},
		Order:   &domain.Order{ID: 11, Status: domain.OrderPending},
	})
	assert.Equal(t, StateIdle, next.State)
	require.Len(t, effects, 2)
	assert.Equal(t, EffectCancelOrder, effects[0].Kind)
	assert.Equal(t, []Screen{ScreenCancelled}, screens(effects))

	next, effects = Transition(Session{State: StateConfirmingPurchase, Item: &item}, Event{Kind: EventBrowse, Catalog: []domain.CatalogItem{item}})
	assert.Equal(t, StateSelectingProduct, next.State)
	assert.Equal(t, []Screen{ScreenCatalog}, screens(effects))
}
