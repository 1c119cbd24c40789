package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tenderwatch/internal/markdown"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// handleText answers every message no command handler took.
func (b *Bot) handleText(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	_, chatID := updateSender(update)
	err := b.askAssistant(ctx, chatID, update.Message.Text)
	b.logHandlerError(ctx, err, update, "text")
}

func (b *Bot) askAssistant(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)

	switch {
	case text == "":
		return b.sendMessageWithKeyboard(ctx, chatID, "⚠️ Send a text question\\.", nil)
	case strings.HasPrefix(text, "/"):
		return b.sendMessageWithKeyboard(ctx, chatID, "✖️ Unknown command\\.", b.menuKeyboard)
	case b.deps.Assistant == nil:
		return b.sendMessageWithKeyboard(ctx, chatID, "✖️ Assistant is not configured\\.", b.menuKeyboard)
	}

	var answer string
	err := b.withSpinner(ctx, chatID, func() error {
		var askErr error
		answer, askErr = b.deps.Assistant.Ask(ctx, chatID, text)
		return askErr
	})
	if err != nil {
		sendErr := b.sendMessageWithKeyboard(ctx, chatID,
			"❌ Assistant error: `"+markdown.EscapeCode(err.Error())+"`", nil)
		return errors.Join(fmt.Errorf("ask assistant: %w", err), sendErr)
	}

	return b.sendPlainText(ctx, chatID, answer)
}
