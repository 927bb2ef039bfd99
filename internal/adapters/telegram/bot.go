// Package telegram connects the buyer dialogue to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NikoleTW/VPNBot/internal/conversation"
	"github.com/NikoleTW/VPNBot/internal/descriptor"
	"github.com/NikoleTW/VPNBot/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// botAPI is the part of tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot polls for updates and sends rendered replies. Telegram allows about
// 30 messages per second per bot; the limiter stays below that.
type Bot struct {
	api      botAPI
	renderer *Renderer
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func New(token string, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "username", api.Self.UserName)
	return newBot(api, NewRenderer(language.Russian, ""), logger), nil
}

func newBot(api botAPI, renderer *Renderer, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		api:      api,
		renderer: renderer,
		limiter:  rate.NewLimiter(rate.Limit(25), 5),
		logger:   logger,
	}
}

// Updates long-polls Telegram and forwards parsed actions to out until ctx
// is done. Callback queries are answered right away so buttons stop spinning.
func (b *Bot) Updates(ctx context.Context, out chan<- conversation.Action) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := b.api.GetUpdatesChan(cfg)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.CallbackQuery != nil {
				if _, err := b.api.Request(tgbotapi.NewCallback(u.CallbackQuery.ID, "")); err != nil {
					b.logger.Debug("answer callback failed", "error", err)
				}
			}
			action, ok := ParseUpdate(u)
			if !ok {
				continue
			}
			select {
			case out <- action:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Send delivers one reply. It implements conversation.Sender.
func (b *Bot) Send(ctx context.Context, rep conversation.Reply) error {
	if rep.ChatID == 0 {
		return errors.New("telegram: reply without chat")
	}
	return b.send(ctx, b.renderer.Render(rep))
}

// CredentialReady pushes a fresh credential to its owner.
func (b *Bot) CredentialReady(ctx context.Context, telegramID int64, c domain.Credential) error {
	link, err := descriptor.FormatForUser(c)
	if err != nil {
		return err
	}
	return b.send(ctx, b.renderer.CredentialReady(telegramID, c, link))
}

func (b *Bot) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	for attempt := 0; ; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := b.api.Send(msg)
		if err == nil {
			return nil
		}
		var apiErr *tgbotapi.Error
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			b.logger.Warn("telegram rate limited", "chat_id", msg.ChatID, "retry_after", apiErr.RetryAfter)
			select {
			case <-time.After(time.Duration(apiErr.RetryAfter) * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return fmt.Errorf("telegram send to %d: %w", msg.ChatID, err)
	}
}
