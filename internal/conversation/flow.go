package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/NikoleTW/VPNBot/internal/cache"
	"github.com/NikoleTW/VPNBot/internal/descriptor"
	"github.com/NikoleTW/VPNBot/internal/domain"
)

const (
	defaultWelcome             = "Welcome! Pick a plan from the catalog to get VPN access."
	defaultPaymentConfirmation = "Thanks! Your payment is being checked. You will get your config as soon as it is confirmed."
)

// Shop is the storage-backed part of the storefront the dialogue needs.
type Shop interface {
	RegisterBuyer(ctx context.Context, buyer domain.Buyer) (domain.Buyer, error)
	BuyerByTelegramID(ctx context.Context, telegramID int64) (domain.Buyer, error)
	IsBlocked(ctx context.Context, telegramID int64) (bool, error)
	ListCatalogItems(ctx context.Context, activeOnly bool) ([]domain.CatalogItem, error)
	ListPaymentMethods(ctx context.Context, activeOnly bool) ([]domain.PaymentMethod, error)
	ActiveCredentials(ctx context.Context, buyerID uint) ([]domain.Credential, error)
	PlaceOrder(ctx context.Context, buyerID uint, item domain.CatalogItem, methodID uint) (domain.Order, error)
	MarkPaid(ctx context.Context, orderID uint) (domain.Order, error)
	CancelPending(ctx context.Context, orderID uint) (domain.Order, error)
	GetOrder(ctx context.Context, id uint) (domain.Order, error)
	PendingConfirmations(ctx context.Context, limit int) ([]domain.OrderSummary, error)
	Setting(ctx context.Context, key, fallback string) string
}

// Confirmer provisions an order on the admin's behalf.
type Confirmer interface {
	ConfirmOrder(ctx context.Context, orderID uint) (domain.Order, domain.Credential, error)
}

// Flow turns buyer actions into replies. It owns the sessions and reads
// through the caches, so it must only be used from the bot loop goroutine.
type Flow struct {
	shop      Shop
	confirmer Confirmer
	caches    *cache.Set
	sessions  map[int64]Session
	logger    *slog.Logger
}

func NewFlow(shop Shop, confirmer Confirmer, caches *cache.Set, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		shop:      shop,
		confirmer: confirmer,
		caches:    caches,
		sessions:  make(map[int64]Session),
		logger:    logger,
	}
}

func (f *Flow) Session(telegramID int64) Session {
	return f.sessions[telegramID]
}

func (f *Flow) Handle(ctx context.Context, a Action) []Reply {
	tg := a.From.TelegramID
	blocked := f.blocked(ctx, tg)

	switch a.Kind {
	case ActionBrowse, ActionSelectItem, ActionConfirm, ActionChooseMethod, ActionPaid, ActionCancel, ActionText:
		return f.dialogue(ctx, a, blocked)
	}

	if blocked {
		delete(f.sessions, tg)
		return []Reply{{Screen: ScreenBlocked}}
	}

	switch a.Kind {
	case ActionStart:
		buyer, err := f.shop.RegisterBuyer(ctx, a.From)
		if err != nil {
			return f.fail("register buyer", tg, err)
		}
		delete(f.sessions, tg)
		return []Reply{{Screen: ScreenWelcome, Buyer: &buyer, Text: f.shop.Setting(ctx, domain.SettingWelcomeMessage, defaultWelcome)}}

	case ActionRefreshCredentials:
		f.caches.Credentials.Invalidate(tg)
		return f.myCredentials(ctx, a)

	case ActionMyCredentials:
		return f.myCredentials(ctx, a)

	case ActionCredentialLink:
		return f.credentialLink(ctx, a)

	case ActionHelp:
		return []Reply{{Screen: ScreenHelp}}

	case ActionSupport:
		return []Reply{{Screen: ScreenSupport, Text: f.shop.Setting(ctx, domain.SettingSupportContact, "")}}

	case ActionAdminInbox:
		if !f.isAdmin(ctx, tg) {
			return []Reply{{Screen: ScreenNotAllowed}}
		}
		orders, err := f.shop.PendingConfirmations(ctx, 20)
		if err != nil {
			return f.fail("list pending confirmations", tg, err)
		}
		return []Reply{{Screen: ScreenAdminInbox, Orders: orders}}

	case ActionAdminConfirm:
		if f.confirmer == nil || !f.isAdmin(ctx, tg) {
			return []Reply{{Screen: ScreenNotAllowed}}
		}
		order, cred, err := f.confirmer.ConfirmOrder(ctx, a.ID)
		if err != nil {
			return []Reply{{Screen: ScreenAdminConfirmFailed, Err: err, Order: &domain.Order{ID: a.ID}}}
		}
		return []Reply{{Screen: ScreenAdminConfirmed, Order: &order, Credential: &cred}}
	}

	return []Reply{{Screen: ScreenMainMenu}}
}

func (f *Flow) dialogue(ctx context.Context, a Action, blocked bool) []Reply {
	tg := a.From.TelegramID
	s := f.sessions[tg]
	ev := Event{Blocked: blocked}
	if blocked {
		return f.run(ctx, a, s, ev)
	}

	// Any action can end in cancel, which must see the persisted status of
	// the in-flight order.
	if s.OrderID != 0 {
		order, err := f.shop.GetOrder(ctx, s.OrderID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return f.fail("load order", tg, err)
		default:
			ev.Order = &order
		}
	}

	switch a.Kind {
	case ActionBrowse:
		ev.Kind = EventBrowse
		catalog, err := f.catalog(ctx)
		if err != nil {
			return f.fail("load catalog", tg, err)
		}
		ev.Catalog = catalog

	case ActionSelectItem:
		ev.Kind = EventSelectItem
		catalog, err := f.catalog(ctx)
		if err != nil {
			return f.fail("load catalog", tg, err)
		}
		ev.Catalog = catalog
		for i := range catalog {
			if catalog[i].ID == a.ID {
				item := catalog[i]
				ev.Item = &item
				break
			}
		}

	case ActionConfirm, ActionChooseMethod:
		ev.Kind = EventConfirm
		methods, err := f.shop.ListPaymentMethods(ctx, true)
		if err != nil {
			return f.fail("load payment methods", tg, err)
		}
		ev.Methods = methods
		if a.Kind == ActionChooseMethod {
			ev.Kind = EventChooseMethod
			for i := range methods {
				if methods[i].ID == a.ID {
					m := methods[i]
					ev.Method = &m
					break
				}
			}
		}

	case ActionPaid:
		ev.Kind = EventPaid
	case ActionCancel:
		ev.Kind = EventCancel
	case ActionText:
		ev.Kind = EventUnknown
	}

	return f.run(ctx, a, s, ev)
}

// run applies ev and executes the resulting effects. An effect that yields a
// follow-up event replaces the remaining effects with the follow-up's.
func (f *Flow) run(ctx context.Context, a Action, s Session, ev Event) []Reply {
	tg := a.From.TelegramID
	next, effects := Transition(s, ev)
	order := ev.Order

	var replies []Reply
	for len(effects) > 0 {
		eff := effects[0]
		effects = effects[1:]

		if eff.Kind == EffectShow {
			replies = append(replies, f.render(ctx, eff.Screen, next, ev, order))
			continue
		}

		follow, extra := f.execute(ctx, a, eff)
		replies = append(replies, extra...)
		if follow != nil {
			if follow.Catalog == nil {
				follow.Catalog = ev.Catalog
			}
			if follow.Methods == nil {
				follow.Methods = ev.Methods
			}
			ev = *follow
			if follow.Order != nil {
				order = follow.Order
			}
			next, effects = Transition(next, ev)
		}
	}

	if next.State == StateIdle {
		delete(f.sessions, tg)
	} else {
		f.sessions[tg] = next
	}
	f.logger.Debug("dialogue step", "telegram_id", tg, "state", next.State.String())
	return replies
}

func (f *Flow) execute(ctx context.Context, a Action, eff Effect) (*Event, []Reply) {
	tg := a.From.TelegramID
	switch eff.Kind {
	case EffectCreateOrder:
		buyer, err := f.buyer(ctx, a.From)
		if err != nil {
			f.logger.Error("load buyer", "telegram_id", tg, "error", err)
			return &Event{Kind: EventOrderFailed}, nil
		}
		order, err := f.shop.PlaceOrder(ctx, buyer.ID, eff.Item, eff.MethodID)
		if err != nil {
			f.logger.Error("place order", "telegram_id", tg, "item_id", eff.Item.ID, "error", err)
			return &Event{Kind: EventOrderFailed}, nil
		}
		return &Event{Kind: EventOrderCreated, Order: &order}, nil

	case EffectMarkPaid:
		order, err := f.shop.MarkPaid(ctx, eff.OrderID)
		if err != nil {
			current, gerr := f.shop.GetOrder(ctx, eff.OrderID)
			switch {
			case gerr == nil && current.Status != domain.OrderPending:
				return &Event{Kind: EventPaid, Order: &current}, nil
			case errors.Is(gerr, domain.ErrNotFound):
				return &Event{Kind: EventPaid}, nil
			}
			return nil, f.fail("mark paid", tg, err)
		}
		var extra []Reply
		if admin := f.adminID(ctx); admin != 0 {
			buyer := a.From
			extra = append(extra, Reply{ChatID: admin, Screen: ScreenAdminNewPayment, Order: &order, Buyer: &buyer})
		}
		return &Event{Kind: EventPaymentRecorded, Order: &order}, extra

	case EffectCancelOrder:
		if _, err := f.shop.CancelPending(ctx, eff.OrderID); err != nil {
			f.logger.Info("cancel rejected", "telegram_id", tg, "order_id", eff.OrderID, "error", err)
			return &Event{Kind: EventCancelRejected}, nil
		}
		f.logger.Info("order cancelled by buyer", "telegram_id", tg, "order_id", eff.OrderID)
	}
	return nil, nil
}

func (f *Flow) render(ctx context.Context, screen Screen, s Session, ev Event, order *domain.Order) Reply {
	r := Reply{Screen: screen, Order: order}
	switch screen {
	case ScreenCatalog, ScreenItemMissing:
		r.Catalog = ev.Catalog
		if r.Catalog == nil {
			r.Catalog, _ = f.catalog(ctx)
		}
	case ScreenConfirmPurchase:
		r.Item = s.Item
	case ScreenPaymentMethods:
		r.Item = s.Item
		r.Methods = ev.Methods
	case ScreenPaymentInstructions:
		r.Item = s.Item
		for i := range ev.Methods {
			if ev.Methods[i].ID == s.MethodID {
				m := ev.Methods[i]
				r.Method = &m
			}
		}
	case ScreenPaymentRecorded:
		r.Text = f.shop.Setting(ctx, domain.SettingPaymentConfirmation, defaultPaymentConfirmation)
	}
	return r
}

func (f *Flow) myCredentials(ctx context.Context, a Action) []Reply {
	creds, err := f.credentials(ctx, a.From)
	if err != nil {
		return f.fail("load credentials", a.From.TelegramID, err)
	}
	if len(creds) == 0 {
		return []Reply{{Screen: ScreenNoCredentials}}
	}
	return []Reply{{Screen: ScreenCredentials, Credentials: creds}}
}

func (f *Flow) credentialLink(ctx context.Context, a Action) []Reply {
	creds, err := f.credentials(ctx, a.From)
	if err != nil {
		return f.fail("load credentials", a.From.TelegramID, err)
	}
	for i := range creds {
		if creds[i].ID != a.ID {
			continue
		}
		c := creds[i]
		link, err := descriptor.FormatForUser(c)
		if err != nil {
			f.logger.Warn("format credential", "credential_id", c.ID, "error", err)
			return []Reply{{Screen: ScreenCredentialMissing, Credential: &c, Err: err}}
		}
		return []Reply{{Screen: ScreenCredentialLink, Credential: &c, Link: link}}
	}
	return []Reply{{Screen: ScreenCredentialMissing}}
}

func (f *Flow) blocked(ctx context.Context, tg int64) bool {
	if v, ok := f.caches.Blocked.Get(tg); ok {
		return v
	}
	v, err := f.shop.IsBlocked(ctx, tg)
	if err != nil {
		f.logger.Warn("read block flag", "telegram_id", tg, "error", err)
		return false
	}
	f.caches.Blocked.Put(tg, v)
	return v
}

func (f *Flow) catalog(ctx context.Context) ([]domain.CatalogItem, error) {
	if items, ok := f.caches.ActiveCatalog(); ok {
		return items, nil
	}
	items, err := f.shop.ListCatalogItems(ctx, true)
	if err != nil {
		return nil, err
	}
	f.caches.PutActiveCatalog(items)
	return items, nil
}

func (f *Flow) credentials(ctx context.Context, from domain.Buyer) ([]domain.Credential, error) {
	if creds, ok := f.caches.Credentials.Get(from.TelegramID); ok {
		return creds, nil
	}
	buyer, err := f.buyer(ctx, from)
	if err != nil {
		return nil, err
	}
	creds, err := f.shop.ActiveCredentials(ctx, buyer.ID)
	if err != nil {
		return nil, err
	}
	f.caches.Credentials.Put(from.TelegramID, creds)
	return creds, nil
}

func (f *Flow) buyer(ctx context.Context, from domain.Buyer) (domain.Buyer, error) {
	buyer, err := f.shop.BuyerByTelegramID(ctx, from.TelegramID)
	if errors.Is(err, domain.ErrNotFound) {
		return f.shop.RegisterBuyer(ctx, from)
	}
	return buyer, err
}

func (f *Flow) adminID(ctx context.Context) int64 {
	raw := f.shop.Setting(ctx, domain.SettingAdminTelegramID, "")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (f *Flow) isAdmin(ctx context.Context, tg int64) bool {
	admin := f.adminID(ctx)
	return admin != 0 && admin == tg
}

func (f *Flow) fail(op string, tg int64, err error) []Reply {
	f.logger.Error(op, "telegram_id", tg, "error", err)
	return []Reply{{Screen: ScreenError, Err: err}}
}
