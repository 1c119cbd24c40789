package bot

import (
	"context"
	"strings"
	"unicode/utf8"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const (
	telegramMessageMaxLength = 4096

	callbackPrefix    = "menu"
	callbackMenu      = "menu"
	callbackCompanies = "menu_companies"
	callbackSources   = "menu_sources"
	callbackStatus    = "menu_status"
	callbackRun       = "menu_run"
)

func (b *Bot) sendMessageWithKeyboard(
	ctx context.Context,
	chatID int64,
	text string,
	keyboard *models.InlineKeyboardMarkup,
) error {
	params := &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   b.normalizeText(ctx, chatID, text),
		// See https://core.telegram.org/bots/api#markdownv2-style.
		ParseMode:          models.ParseModeMarkdown,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: tgbot.True()},
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	return b.send(ctx, chatID, params)
}

// sendPlainText splits text into messages Telegram accepts and sends them without markup.
func (b *Bot) sendPlainText(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitPlainText(b.normalizeText(ctx, chatID, text), telegramMessageMaxLength) {
		if err := b.send(ctx, chatID, &tgbot.SendMessageParams{ChatID: chatID, Text: part}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) send(ctx context.Context, chatID int64, params *tgbot.SendMessageParams) error {
	if b.rateLimiter != nil {
		if err := b.rateLimiter.Wait(ctx, chatID); err != nil {
			return err
		}
	}

	_, err := b.api.SendMessage(ctx, params)
	return err
}

func (b *Bot) normalizeText(ctx context.Context, chatID int64, text string) string {
	normalizedText := strings.ToValidUTF8(text, "?")
	if normalizedText != text {
		b.log.WarnContext(ctx, "Message text had invalid UTF-8 and was normalized",
			"chatID", chatID,
			"originalLen", len(text),
			"normalizedLen", len(normalizedText))
	}
	return normalizedText
}

// splitPlainText cuts text into parts of at most maxRunes, preferring line breaks.
func splitPlainText(text string, maxRunes int) []string {
	var parts []string

	for utf8.RuneCountInString(text) > maxRunes {
		runes := []rune(text)
		cut := maxRunes

		if i := strings.LastIndex(string(runes[:maxRunes]), "\n"); i > 0 {
			cut = utf8.RuneCountInString(text[:i])
		}

		parts = append(parts, strings.TrimSpace(string(runes[:cut])))
		text = strings.TrimSpace(string(runes[cut:]))
	}

	if text = strings.TrimSpace(text); text != "" {
		parts = append(parts, text)
	}

	return parts
}

func getReturnKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "⬅️ Return to menu", CallbackData: callbackMenu}},
		},
	}
}

func getMenuKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🏢 Companies", CallbackData: callbackCompanies},
				{Text: "🌐 Sources", CallbackData: callbackSources},
			},
			{
				{Text: "📊 Status", CallbackData: callbackStatus},
				{Text: "🔍 Run now", CallbackData: callbackRun},
			},
		},
	}
}
