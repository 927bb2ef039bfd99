package telegram

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/conversation"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Renderer turns dialogue replies into chat messages.
type Renderer struct {
	printer  *message.Printer
	currency string
	now      func() time.Time
}

func NewRenderer(lang language.Tag, currency string) *Renderer {
	if currency == "" {
		currency = "₽"
	}
	return &Renderer{printer: message.NewPrinter(lang), currency: currency, now: time.Now}
}

// Price formats an amount kept in minor units.
func (r *Renderer) Price(amount int64) string {
	if amount%100 == 0 {
		return r.printer.Sprintf("%d %s", amount/100, r.currency)
	}
	return r.printer.Sprintf("%.2f %s", float64(amount)/100, r.currency)
}

func (r *Renderer) expiry(until time.Time) string {
	now := r.now()
	if !until.After(now) {
		return "expired " + humanize.RelTime(until, now, "ago", "from now")
	}
	return fmt.Sprintf("until %s (%s)", until.Format("02.01.2006"), humanize.RelTime(until, now, "ago", "from now"))
}

func (r *Renderer) Render(rep conversation.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(rep.ChatID, "")
	msg.ParseMode = tgbotapi.ModeHTML
	var b strings.Builder

	switch rep.Screen {
	case conversation.ScreenWelcome:
		b.WriteString(html.EscapeString(rep.Text))
		msg.ReplyMarkup = mainMenu()
	case conversation.ScreenMainMenu:
		b.WriteString("Use the menu below to browse plans or get your configs.")
		msg.ReplyMarkup = mainMenu()
	case conversation.ScreenHelp:
		b.WriteString("<b>How it works</b>\n1. Pick a plan in the catalog.\n2. Choose a payment method and pay.\n3. Press \"I have paid\".\n4. After the payment is checked you receive your config.\n\n/catalog, /my, /support, /cancel")
	case conversation.ScreenSupport:
		if rep.Text == "" {
			b.WriteString("Support is not configured yet.")
		} else {
			b.WriteString("Contact support: " + html.EscapeString(rep.Text))
		}
	case conversation.ScreenBlocked:
		b.WriteString("Your account is blocked. Contact support if you think this is a mistake.")
	case conversation.ScreenError:
		b.WriteString("Something went wrong. Please try again in a minute.")

	case conversation.ScreenCatalog, conversation.ScreenItemMissing:
		if rep.Screen == conversation.ScreenItemMissing {
			b.WriteString("That plan is no longer available.\n\n")
		}
		b.WriteString("<b>Available plans</b>\n")
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rep.Catalog))
		for _, it := range rep.Catalog {
			fmt.Fprintf(&b, "\n• <b>%s</b> %s, %d days, %s", html.EscapeString(it.Name), r.Price(it.Price), it.DurationDays, strings.ToUpper(string(it.Protocol)))
			if it.Description != "" {
				b.WriteString("\n  " + html.EscapeString(it.Description))
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s · %s", it.Name, r.Price(it.Price)), fmt.Sprintf("%s%d", cbBuy, it.ID)),
			))
		}
		if len(rows) > 0 {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		}
	case conversation.ScreenEmptyCatalog:
		b.WriteString("No plans are on sale right now. Please check back later.")
	case conversation.ScreenConfirmPurchase:
		if rep.Item != nil {
			fmt.Fprintf(&b, "<b>%s</b>\nPrice: %s\nDuration: %d days\nProtocol: %s\n\nContinue to payment?",
				html.EscapeString(rep.Item.Name), r.Price(rep.Item.Price), rep.Item.DurationDays, strings.ToUpper(string(rep.Item.Protocol)))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Buy", cbConfirm),
			tgbotapi.NewInlineKeyboardButtonData("✖ Cancel", cbCancel),
		))
	case conversation.ScreenNoPaymentMethods:
		b.WriteString("No payment methods are available right now. Please try again later.")
	case conversation.ScreenPaymentMethods:
		b.WriteString("Choose a payment method:")
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rep.Methods)+1)
		for _, m := range rep.Methods {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(m.Name, fmt.Sprintf("%s%d", cbPay, m.ID))))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✖ Cancel", cbCancel)))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	case conversation.ScreenPaymentInstructions:
		if rep.Order != nil {
			fmt.Fprintf(&b, "<b>Order #%d</b>\nAmount: %s\n", rep.Order.ID, r.Price(rep.Order.Amount))
		}
		if rep.Method != nil {
			fmt.Fprintf(&b, "\n<b>%s</b>\n%s\n", html.EscapeString(rep.Method.Name), html.EscapeString(rep.Method.Instructions))
		}
		b.WriteString("\nPress \"I have paid\" once the transfer is done.")
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💸 I have paid", cbPaid),
			tgbotapi.NewInlineKeyboardButtonData("✖ Cancel", cbCancel),
		))
	case conversation.ScreenOrderFailed:
		b.WriteString("Could not create the order. Please try again.")
	case conversation.ScreenPaymentRecorded:
		b.WriteString(html.EscapeString(rep.Text))
	case conversation.ScreenOrderGone:
		b.WriteString("This order is no longer open. Start again from the catalog.")
	case conversation.ScreenCancelled:
		b.WriteString("Cancelled.")
		msg.ReplyMarkup = mainMenu()
	case conversation.ScreenCancelRejected:
		b.WriteString("Your payment is already being checked, so the order can no longer be cancelled.")

	case conversation.ScreenNoCredentials:
		b.WriteString("You have no active configs yet.")
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛒 Catalog", cbCatalog),
			tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", cbRefresh),
		))
	case conversation.ScreenCredentials:
		b.WriteString("<b>Your configs</b>\n")
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rep.Credentials)+1)
		for _, c := range rep.Credentials {
			fmt.Fprintf(&b, "\n• %s, %s", html.EscapeString(c.Name), r.expiry(c.ValidUntil))
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📄 "+c.Name, fmt.Sprintf("%s%d", cbConfig, c.ID))))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", cbRefresh)))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	case conversation.ScreenCredentialLink:
		if rep.Credential != nil {
			fmt.Fprintf(&b, "<b>%s</b>, %s\n\n", html.EscapeString(rep.Credential.Name), r.expiry(rep.Credential.ValidUntil))
		}
		fmt.Fprintf(&b, "<code>%s</code>\n\nImport this link into your VPN client.", html.EscapeString(rep.Link))
	case conversation.ScreenCredentialMissing:
		b.WriteString("That config is not available. Press refresh to reload your list.")

	case conversation.ScreenNotAllowed:
		b.WriteString("This command is for the shop administrator.")
	case conversation.ScreenAdminInbox:
		if len(rep.Orders) == 0 {
			b.WriteString("No payments are waiting for confirmation.")
			break
		}
		b.WriteString("<b>Waiting for confirmation</b>\n")
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rep.Orders))
		for _, o := range rep.Orders {
			fmt.Fprintf(&b, "\n#%d %s, %s, %s via %s", o.ID, html.EscapeString(o.BuyerName), html.EscapeString(o.ItemName), r.Price(o.Amount), html.EscapeString(o.PaymentMethodName))
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ Confirm #%d", o.ID), fmt.Sprintf("%s%d", cbAdminConfirm, o.ID))))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	case conversation.ScreenAdminNewPayment:
		if rep.Order != nil {
			buyer := "buyer"
			if rep.Buyer != nil {
				buyer = rep.Buyer.DisplayName()
			}
			fmt.Fprintf(&b, "💰 <b>New payment</b>\nOrder #%d, %s\n%s, %s", rep.Order.ID, html.EscapeString(buyer), html.EscapeString(rep.Order.ItemName), r.Price(rep.Order.Amount))
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", fmt.Sprintf("%s%d", cbAdminConfirm, rep.Order.ID)),
			))
		}
	case conversation.ScreenAdminConfirmed:
		if rep.Order != nil {
			fmt.Fprintf(&b, "Order #%d confirmed.", rep.Order.ID)
		}
		if rep.Credential != nil {
			fmt.Fprintf(&b, " Config %s issued.", html.EscapeString(rep.Credential.Name))
		}
	case conversation.ScreenAdminConfirmFailed:
		id := uint(0)
		if rep.Order != nil {
			id = rep.Order.ID
		}
		fmt.Fprintf(&b, "Order #%d was not confirmed: %s", id, html.EscapeString(describe(rep.Err)))
	default:
		b.WriteString("Use the menu below.")
		msg.ReplyMarkup = mainMenu()
	}

	msg.Text = b.String()
	return msg
}

// CredentialReady is the message a buyer gets when an order is fulfilled.
func (r *Renderer) CredentialReady(chatID int64, c domain.Credential, link string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("✅ <b>Your payment is confirmed</b>\n\n<b>%s</b>, %s\n\n<code>%s</code>\n\nImport this link into your VPN client.",
		html.EscapeString(c.Name), r.expiry(c.ValidUntil), html.EscapeString(link)))
	msg.ParseMode = tgbotapi.ModeHTML
	return msg
}

func describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	var conflict *application.StateConflictError
	if errors.As(err, &conflict) {
		if conflict.Reason != "" {
			return conflict.Reason
		}
		return "order is " + string(conflict.Status)
	}
	var adapter *application.AdapterError
	if errors.As(err, &adapter) {
		return "VPN panel unavailable (" + adapter.Op + ")"
	}
	return err.Error()
}

func mainMenu() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuCatalog), tgbotapi.NewKeyboardButton(menuMy)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuSupport), tgbotapi.NewKeyboardButton(menuHelp)),
	)
	kb.ResizeKeyboard = true
	return kb
}
