package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"course-booking-engine/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*TelegramNotifier)(nil)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends the notification text to the member's linked chat.
// Members without a chat id are skipped.
type TelegramNotifier struct {
	bot messageSender
}

func NewTelegramNotifier(token string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot}, nil
}

func (t *TelegramNotifier) Notify(ctx context.Context, n adapter.Notification) error {
	if n.ChatID == 0 || n.Text == "" {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := t.bot.Send(tgbotapi.NewMessage(n.ChatID, n.Text))
	return err
}
