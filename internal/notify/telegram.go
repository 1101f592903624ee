package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier отправляет уведомления администраторам
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string) error
}

// Sender - часть API бота, которой достаточно для отправки сообщений
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier рассылает уведомления в чаты администраторов
type TelegramNotifier struct {
	bot     Sender
	chatIDs []int64
	logger  *zap.Logger
}

// NewTelegramNotifier создает уведомитель
func NewTelegramNotifier(bot Sender, chatIDs []int64, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:     bot,
		chatIDs: chatIDs,
		logger:  logger,
	}
}

// NotifyAdmins отправляет HTML сообщение во все чаты. Если HTML не принят, отправляется
// экранированный текст. Ошибки по отдельным чатам объединяются.
func (n *TelegramNotifier) NotifyAdmins(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = "HTML"

		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Warn("ошибка отправки HTML сообщения, отправляем как обычный текст",
				zap.Int64("chat_id", chatID), zap.Error(err))

			fallback := tgbotapi.NewMessage(chatID, html.EscapeString(text))
			if _, err := n.bot.Send(fallback); err != nil {
				errs = append(errs, fmt.Errorf("чат %d: %w", chatID, err))
				continue
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("ошибка отправки уведомления: %w", errors.Join(errs...))
	}
	return nil
}

// NopNotifier ничего не отправляет
type NopNotifier struct{}

func (NopNotifier) NotifyAdmins(ctx context.Context, text string) error { return nil }
