// Package conversation implements the buyer-facing purchase dialogue.
//
// The dialogue is an explicit state machine. Transition is pure: every fact
// it needs (catalog rows, persisted order status, block flag) is resolved by
// the Flow beforehand and carried on the Event. Side effects come back as
// Effects that the Flow executes in order.
package conversation

import (
	"github.com/NikoleTW/VPNBot/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateSelectingProduct
	StateConfirmingPurchase
	StatePaymentMethod
	StateAwaitingPayment
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelectingProduct:
		return "selecting_product"
	case StateConfirmingPurchase:
		return "confirming_purchase"
	case StatePaymentMethod:
		return "payment_method"
	case StateAwaitingPayment:
		return "awaiting_payment"
	}
	return "unknown"
}

// Session is one buyer's dialogue state. Item is the catalog row as shown to
// the buyer and is what the order gets priced from.
type Session struct {
	State    State
	Item     *domain.CatalogItem
	MethodID uint
	OrderID  uint
}

type EventKind int

const (
	EventBrowse EventKind = iota
	EventSelectItem
	EventConfirm
	EventChooseMethod
	EventPaid
	EventCancel
	EventUnknown

	// Follow-ups fed back by the Flow after executing an effect.
	EventOrderCreated
	EventOrderFailed
	EventPaymentRecorded
	EventCancelRejected
)

type Event struct {
	Kind    EventKind
	Blocked bool

	Catalog []domain.CatalogItem
	// Item is nil when the requested row is missing or inactive.
	Item    *domain.CatalogItem
	Methods []domain.PaymentMethod
	Method  *domain.PaymentMethod
	// Order is the persisted state of the session's in-flight order, nil
	// when there is none or it no longer exists.
	Order *domain.Order
}

type EffectKind int

const (
	EffectShow EffectKind = iota
	EffectCreateOrder
	EffectMarkPaid
	EffectCancelOrder
)

type Effect struct {
	Kind     EffectKind
	Screen   Screen
	Item     domain.CatalogItem
	MethodID uint
	OrderID  uint
}

func show(screen Screen) Effect { return Effect{Kind: EffectShow, Screen: screen} }

// Transition computes the next session and the effects to run. It never
// touches storage.
func Transition(s Session, e Event) (Session, []Effect) {
	if e.Blocked {
		return Session{}, []Effect{show(ScreenBlocked)}
	}

	switch e.Kind {
	case EventBrowse:
		if s.OrderID != 0 {
			return cancel(s, e)
		}
		if len(e.Catalog) == 0 {
			return Session{}, []Effect{show(ScreenEmptyCatalog)}
		}
		return Session{State: StateSelectingProduct}, []Effect{show(ScreenCatalog)}

	case EventSelectItem:
		if s.State != StateIdle && s.State != StateSelectingProduct {
			return cancel(s, e)
		}
		if e.Item == nil || !e.Item.IsActive {
			return Session{State: StateSelectingProduct}, []Effect{show(ScreenItemMissing)}
		}
		item := *e.Item
		return Session{State: StateConfirmingPurchase, Item: &item}, []Effect{show(ScreenConfirmPurchase)}

	case EventConfirm:
		if s.State != StateConfirmingPurchase || s.Item == nil {
			return cancel(s, e)
		}
		if len(e.Methods) == 0 {
			return Session{State: StateSelectingProduct}, []Effect{show(ScreenNoPaymentMethods)}
		}
		return Session{State: StatePaymentMethod, Item: s.Item}, []Effect{show(ScreenPaymentMethods)}

	case EventChooseMethod:
		if s.State != StatePaymentMethod || s.Item == nil {
			return cancel(s, e)
		}
		if s.OrderID != 0 {
			return s, []Effect{show(ScreenPaymentInstructions)}
		}
		if e.Method == nil || !e.Method.IsActive {
			return s, []Effect{show(ScreenPaymentMethods)}
		}
		next := s
		next.MethodID = e.Method.ID
		return next, []Effect{{Kind: EffectCreateOrder, Item: *s.Item, MethodID: e.Method.ID}}

	case EventOrderCreated:
		if e.Order == nil {
			return Session{}, []Effect{show(ScreenOrderFailed)}
		}
		next := s
		next.State = StateAwaitingPayment
		next.OrderID = e.Order.ID
		return next, []Effect{show(ScreenPaymentInstructions)}

	case EventOrderFailed:
		return Session{}, []Effect{show(ScreenOrderFailed)}

	case EventPaid:
		if s.State != StateAwaitingPayment || s.OrderID == 0 {
			return cancel(s, e)
		}
		if e.Order == nil {
			return Session{}, []Effect{show(ScreenOrderGone)}
		}
		switch e.Order.Status {
		case domain.OrderPending:
			return s, []Effect{{Kind: EffectMarkPaid, OrderID: s.OrderID}}
		case domain.OrderAwaitingConfirmation:
			return Session{}, []Effect{show(ScreenPaymentRecorded)}
		}
		return Session{}, []Effect{show(ScreenOrderGone)}

	case EventPaymentRecorded:
		return Session{}, []Effect{show(ScreenPaymentRecorded)}

	case EventCancelRejected:
		return Session{}, []Effect{show(ScreenCancelRejected)}

	case EventCancel:
		return cancel(s, e)

	case EventUnknown:
		if s.State == StateIdle {
			return Session{}, []Effect{show(ScreenMainMenu)}
		}
		return cancel(s, e)
	}
	return s, nil
}

// cancel ends the dialogue. An in-flight order is cancelled only while it is
// still pending; one already reported paid or completed is left alone.
func cancel(s Session, e Event) (Session, []Effect) {
	if s.OrderID == 0 || e.Order == nil {
		return Session{}, []Effect{show(ScreenCancelled)}
	}
	if e.Order.Status == domain.OrderPending {
		return Session{}, []Effect{{Kind: EffectCancelOrder, OrderID: s.OrderID}, show(ScreenCancelled)}
	}
	if e.Order.Status == domain.OrderCancelled {
		return Session{}, []Effect{show(ScreenCancelled)}
	}
	return Session{}, []Effect{show(ScreenCancelRejected)}
}
