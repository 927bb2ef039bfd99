package conversation

import (
	"github.com/NikoleTW/VPNBot/internal/domain"
)

// Screen names what the transport should render. The data it needs travels
// on the Reply.
type Screen int

const (
	ScreenMainMenu Screen = iota
	ScreenWelcome
	ScreenHelp
	ScreenSupport
	ScreenBlocked
	ScreenError

	ScreenCatalog
	ScreenEmptyCatalog
	ScreenItemMissing
	ScreenConfirmPurchase
	ScreenNoPaymentMethods
	ScreenPaymentMethods
	ScreenPaymentInstructions
	ScreenOrderFailed
	ScreenPaymentRecorded
	ScreenOrderGone
	ScreenCancelled
	ScreenCancelRejected

	ScreenCredentials
	ScreenNoCredentials
	ScreenCredentialLink
	ScreenCredentialMissing

	ScreenNotAllowed
	ScreenAdminInbox
	ScreenAdminNewPayment
	ScreenAdminConfirmed
	ScreenAdminConfirmFailed
)

var screenNames = map[Screen]string{
	ScreenMainMenu:            "main_menu",
	ScreenWelcome:             "welcome",
	ScreenHelp:                "help",
	ScreenSupport:             "support",
	ScreenBlocked:             "blocked",
	ScreenError:               "error",
	ScreenCatalog:             "catalog",
	ScreenEmptyCatalog:        "empty_catalog",
	ScreenItemMissing:         "item_missing",
	ScreenConfirmPurchase:     "confirm_purchase",
	ScreenNoPaymentMethods:    "no_payment_methods",
	ScreenPaymentMethods:      "payment_methods",
	ScreenPaymentInstructions: "payment_instructions",
	ScreenOrderFailed:         "order_failed",
	ScreenPaymentRecorded:     "payment_recorded",
	ScreenOrderGone:           "order_gone",
	ScreenCancelled:           "cancelled",
	ScreenCancelRejected:      "cancel_rejected",
	ScreenCredentials:         "credentials",
	ScreenNoCredentials:       "no_credentials",
	ScreenCredentialLink:      "credential_link",
	ScreenCredentialMissing:   "credential_missing",
	ScreenNotAllowed:          "not_allowed",
	ScreenAdminInbox:          "admin_inbox",
	ScreenAdminNewPayment:     "admin_new_payment",
	ScreenAdminConfirmed:      "admin_confirmed",
	ScreenAdminConfirmFailed:  "admin_confirm_failed",
}

func (s Screen) String() string {
	if name, ok := screenNames[s]; ok {
		return name
	}
	return "unknown"
}

type ActionKind int

const (
	ActionStart ActionKind = iota
	ActionBrowse
	ActionSelectItem
	ActionConfirm
	ActionChooseMethod
	ActionPaid
	ActionCancel
	ActionMyCredentials
	ActionRefreshCredentials
	ActionCredentialLink
	ActionHelp
	ActionSupport
	ActionAdminInbox
	ActionAdminConfirm
	ActionText
)

// Action is one inbound buyer interaction. ID carries the item, payment
// method, credential or order id the action refers to.
type Action struct {
	Kind   ActionKind
	From   domain.Buyer
	ChatID int64
	ID     uint
	Text   string
}

// Reply is one outbound message. ChatID zero means the chat the action came from.
type Reply struct {
	ChatID      int64
	Screen      Screen
	Text        string
	Buyer       *domain.Buyer
	Catalog     []domain.CatalogItem
	Item        *domain.CatalogItem
	Methods     []domain.PaymentMethod
	Method      *domain.PaymentMethod
	Order       *domain.Order
	Orders      []domain.OrderSummary
	Credentials []domain.Credential
	Credential  *domain.Credential
	Link        string
	Err         error
}
