package bot

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"tenderwatch/internal/database"
	"tenderwatch/internal/domain"
	"tenderwatch/internal/pipeline"
	"tenderwatch/internal/ratelimiter"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const updateProcessingTimeout = 60 * time.Second

// telegramAPI is the part of the Telegram client the bot uses.
type telegramAPI interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *tgbot.SendChatActionParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error)
}

type Runner interface {
	Run(ctx context.Context, trigger domain.Trigger, d pipeline.Deliverer) (*pipeline.Report, error)
	Check(ctx context.Context, sources []domain.FeedSource) pipeline.Preview
	Sources() []domain.FeedSource
	Watchlist() domain.Watchlist
}

type StatusStore interface {
	LastRun(ctx context.Context) (*database.RunRecord, error)
	CountSeen(ctx context.Context) (int, error)
}

type Asker interface {
	Ask(ctx context.Context, chatID int64, question string) (string, error)
	Reset(chatID int64)
}

type Deps struct {
	Pipeline Runner
	Store    StatusStore
	// Assistant is optional.
	Assistant Asker
	// NextRun is optional and reports the next scheduled run.
	NextRun func() time.Time

	AllowedUsers []int64
	RunTimeout   time.Duration
	Location     *time.Location
}

type Bot struct {
	client         *tgbot.Bot
	api            telegramAPI
	rateLimiter    *ratelimiter.RateLimiter
	deps           Deps
	menuKeyboard   *models.InlineKeyboardMarkup
	returnKeyboard *models.InlineKeyboardMarkup
	log            *slog.Logger
}

func New(token string, deps Deps, log *slog.Logger) (*Bot, error) {
	b := newBot(nil, deps, log)
	b.rateLimiter = ratelimiter.New(log)

	client, err := tgbot.New(strings.TrimSpace(token),
		tgbot.WithDefaultHandler(b.handleText),
		tgbot.WithMiddlewares(b.withTimeout, b.allowedOnly),
		tgbot.WithErrorsHandler(func(err error) {
			log.Error("Telegram client error",
				"error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	b.client = client
	b.api = client
	b.registerHandlers()

	return b, nil
}

func newBot(api telegramAPI, deps Deps, log *slog.Logger) *Bot {
	if deps.Location == nil {
		deps.Location = time.UTC
	}

	return &Bot{
		api:            api,
		deps:           deps,
		menuKeyboard:   getMenuKeyboard(),
		returnKeyboard: getReturnKeyboard(),
		log:            log,
	}
}

func (b *Bot) registerHandlers() {
	commands := []struct {
		pattern string
		handler tgbot.HandlerFunc
	}{
		{"/start", b.handleStart},
		{"/menu", b.handleMenu},
		{"/companies", b.handleCompanies},
		{"/sources", b.handleSources},
		{"/status", b.handleStatus},
		{"/run", b.handleRun},
		{"/test_parse", b.handleRun},
		{"/check", b.handleCheck},
		{"/reset", b.handleReset},
	}

	for _, c := range commands {
		b.client.RegisterHandler(tgbot.HandlerTypeMessageText, c.pattern, tgbot.MatchTypePrefix, c.handler)
	}

	b.client.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, callbackPrefix, tgbot.MatchTypePrefix,
		b.handleCallbackQuery)
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	b.log.InfoContext(ctx, "Bot is started")
	b.client.Start(ctx)
	b.log.InfoContext(ctx, "Bot is stopped",
		"error", ctx.Err())
}

// Deliverer sends digest chunks to chatID in order and stops at the first failure.
func (b *Bot) Deliverer(chatID int64) pipeline.Deliverer {
	return pipeline.DelivererFunc(func(ctx context.Context, chunks []string) error {
		return b.deliver(ctx, chatID, chunks)
	})
}

func (b *Bot) deliver(ctx context.Context, chatID int64, chunks []string) error {
	for i, chunk := range chunks {
		var keyboard *models.InlineKeyboardMarkup
		if i == len(chunks)-1 {
			keyboard = b.returnKeyboard
		}

		if err := b.sendMessageWithKeyboard(ctx, chatID, chunk, keyboard); err != nil {
			return &pipeline.DeliveryError{Sent: i, Total: len(chunks), Err: err}
		}
	}

	return nil
}

func (b *Bot) withTimeout(next tgbot.HandlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, client *tgbot.Bot, update *models.Update) {
		ctx, cancel := context.WithTimeout(ctx, max(updateProcessingTimeout, b.deps.RunTimeout))
		defer cancel()

		next(ctx, client, update)
	}
}

func (b *Bot) allowedOnly(next tgbot.HandlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, client *tgbot.Bot, update *models.Update) {
		user, chatID := updateSender(update)
		if user == nil {
			return
		}

		if !b.userAllowed(user.ID) {
			b.log.DebugContext(ctx, "User is not allowed",
				"userID", user.ID,
				"chatID", chatID,
				"username", user.Username)

			return
		}

		next(ctx, client, update)
	}
}

func (b *Bot) userAllowed(userID int64) bool {
	return slices.Contains(b.deps.AllowedUsers, userID)
}

// updateSender returns the author of a message or callback query and the chat to answer in.
func updateSender(update *models.Update) (*models.User, int64) {
	switch {
	case update == nil:
		return nil, 0
	case update.Message != nil:
		return update.Message.From, update.Message.Chat.ID
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		chatID := cb.From.ID
		if cb.Message.Message != nil {
			chatID = cb.Message.Message.Chat.ID
		}
		return &cb.From, chatID
	default:
		return nil, 0
	}
}

func (b *Bot) logHandlerError(ctx context.Context, err error, update *models.Update, operation string) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	user, chatID := updateSender(update)

	fields := []any{
		"error", err,
		"chatID", chatID,
		"operation", operation,
	}
	if user != nil {
		fields = append(fields, "userID", user.ID)
	}

	b.log.ErrorContext(ctx, "Failed to handle update", fields...)
}
