// Package notify delivers trigger events to users. Delivery is best-effort:
// callers log a returned error and move on.
package notify

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/models"
)

// Dispatcher delivers one trigger event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.TriggerEvent) error
}

// LogDispatcher writes every event to the log. It is the fallback when no
// transport is configured.
type LogDispatcher struct {
	logger logger.Logger
}

func NewLogDispatcher(log logger.Logger) *LogDispatcher {
	return &LogDispatcher{logger: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, event models.TriggerEvent) error {
	d.logger.Info("Alert triggered",
		logger.String("user_id", event.UserID),
		logger.String("product_id", event.ProductID),
		logger.String("rule", event.RuleType),
		logger.String("message", event.Message),
	)
	return nil
}

// Sender is the part of *tgbotapi.BotAPI the Telegram dispatcher uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UserLookup resolves the user an event is addressed to.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// TelegramDispatcher sends the event message to the user's Telegram chat.
// Users without a linked chat are skipped.
type TelegramDispatcher struct {
	sender Sender
	users  UserLookup
	logger logger.Logger
}

func NewTelegramDispatcher(sender Sender, users UserLookup, log logger.Logger) *TelegramDispatcher {
	return &TelegramDispatcher{sender: sender, users: users, logger: log}
}

// NewTelegramBot authorizes token against the Telegram API.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	bot.Debug = false
	return bot, nil
}

func (d *TelegramDispatcher) Dispatch(ctx context.Context, event models.TriggerEvent) error {
	user, err := d.users.GetUser(ctx, event.UserID)
	if errors.Is(err, apperrors.ErrNotFound) {
		d.logger.Debug("Skipping telegram delivery for unknown user", logger.String("user_id", event.UserID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: resolve telegram chat: %v", apperrors.ErrDependencyUnavailable, err)
	}
	if user.TelegramChatID == nil {
		return nil
	}

	msg := tgbotapi.NewMessage(*user.TelegramChatID, event.Message)
	if _, err := d.sender.Send(msg); err != nil {
		return fmt.Errorf("%w: telegram send: %v", apperrors.ErrDependencyUnavailable, err)
	}
	return nil
}

// Multi fans an event out to every dispatcher. All dispatchers are tried;
// their errors are joined.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, event models.TriggerEvent) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
