package telegram

import (
	"strconv"
	"strings"

	"github.com/NikoleTW/VPNBot/internal/conversation"
	"github.com/NikoleTW/VPNBot/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data prefixes carried on inline buttons.
const (
	cbCatalog      = "catalog"
	cbBuy          = "buy:"
	cbConfirm      = "confirm"
	cbPay          = "pay:"
	cbPaid         = "paid"
	cbCancel       = "cancel"
	cbMy           = "my"
	cbRefresh      = "refresh"
	cbConfig       = "cfg:"
	cbAdminConfirm = "admin_confirm:"
)

// Main menu labels of the reply keyboard.
const (
	menuCatalog = "🛒 Catalog"
	menuMy      = "🔑 My configs"
	menuSupport = "💬 Support"
	menuHelp    = "❓ Help"
)

var commands = map[string]conversation.ActionKind{
	"start":   conversation.ActionStart,
	"help":    conversation.ActionHelp,
	"catalog": conversation.ActionBrowse,
	"buy":     conversation.ActionBrowse,
	"my":      conversation.ActionMyCredentials,
	"support": conversation.ActionSupport,
	"cancel":  conversation.ActionCancel,
	"admin":   conversation.ActionAdminInbox,
}

var menu = map[string]conversation.ActionKind{
	menuCatalog: conversation.ActionBrowse,
	menuMy:      conversation.ActionMyCredentials,
	menuSupport: conversation.ActionSupport,
	menuHelp:    conversation.ActionHelp,
}

// ParseUpdate maps a chat update to a dialogue action. The second result is
// false for updates the bot ignores.
func ParseUpdate(u tgbotapi.Update) (conversation.Action, bool) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.From == nil {
			return conversation.Action{}, false
		}
		a := conversation.Action{From: buyerFrom(q.From), ChatID: q.From.ID}
		if q.Message != nil && q.Message.Chat != nil {
			a.ChatID = q.Message.Chat.ID
		}
		kind, id, ok := parseCallback(q.Data)
		if !ok {
			return conversation.Action{}, false
		}
		a.Kind, a.ID = kind, id
		return a, true

	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.Chat == nil {
			return conversation.Action{}, false
		}
		a := conversation.Action{From: buyerFrom(m.From), ChatID: m.Chat.ID, Text: m.Text}
		if m.IsCommand() {
			kind, ok := commands[m.Command()]
			if !ok {
				kind = conversation.ActionText
			}
			a.Kind = kind
			if kind == conversation.ActionAdminInbox {
				if id, err := strconv.ParseUint(strings.TrimSpace(m.CommandArguments()), 10, 64); err == nil {
					a.Kind, a.ID = conversation.ActionAdminConfirm, uint(id)
				}
			}
			return a, true
		}
		if kind, ok := menu[strings.TrimSpace(m.Text)]; ok {
			a.Kind = kind
			return a, true
		}
		a.Kind = conversation.ActionText
		return a, true
	}
	return conversation.Action{}, false
}

func parseCallback(data string) (conversation.ActionKind, uint, bool) {
	withID := func(prefix string, kind conversation.ActionKind) (conversation.ActionKind, uint, bool) {
		id, err := strconv.ParseUint(strings.TrimPrefix(data, prefix), 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return kind, uint(id), true
	}
	switch {
	case data == cbCatalog:
		return conversation.ActionBrowse, 0, true
	case data == cbConfirm:
		return conversation.ActionConfirm, 0, true
	case data == cbPaid:
		return conversation.ActionPaid, 0, true
	case data == cbCancel:
		return conversation.ActionCancel, 0, true
	case data == cbMy:
		return conversation.ActionMyCredentials, 0, true
	case data == cbRefresh:
		return conversation.ActionRefreshCredentials, 0, true
	case strings.HasPrefix(data, cbBuy):
		return withID(cbBuy, conversation.ActionSelectItem)
	case strings.HasPrefix(data, cbPay):
		return withID(cbPay, conversation.ActionChooseMethod)
	case strings.HasPrefix(data, cbConfig):
		return withID(cbConfig, conversation.ActionCredentialLink)
	case strings.HasPrefix(data, cbAdminConfirm):
		return withID(cbAdminConfirm, conversation.ActionAdminConfirm)
	}
	return 0, 0, false
}

func buyerFrom(u *tgbotapi.User) domain.Buyer {
	return domain.Buyer{
		TelegramID: u.ID,
		Username:   u.UserName,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
	}
}
