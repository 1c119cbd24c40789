package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

func (b *Bot) handleCallbackQuery(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	_, chatID := updateSender(update)

	err := b.withEmptyCallbackAnswer(ctx, callback, func() error {
		switch data := strings.TrimSpace(callback.Data); data {
		case callbackMenu:
			return b.sendMenu(ctx, chatID)
		case callbackCompanies:
			return b.sendCompanies(ctx, chatID)
		case callbackSources:
			return b.sendSources(ctx, chatID)
		case callbackStatus:
			return b.sendStatus(ctx, chatID)
		case callbackRun:
			return b.runNow(ctx, chatID)
		default:
			return fmt.Errorf("unknown callback data %q", data)
		}
	})

	b.logHandlerError(ctx, err, update, "callback")
}

func (b *Bot) withEmptyCallbackAnswer(
	ctx context.Context,
	callback *models.CallbackQuery,
	fn func() error,
) error {
	var errs []error

	if _, err := b.api.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
	}); err != nil {
		errs = append(errs, fmt.Errorf("answer callback query: %w", err))
	}

	if err := fn(); err != nil {
		errs = append(errs, fmt.Errorf("call fn: %w", err))
	}

	return errors.Join(errs...)
}
