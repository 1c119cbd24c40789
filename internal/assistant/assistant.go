// Package assistant answers free-text operator questions through an OpenAI-compatible
// chat-completions endpoint (GigaChat by default).
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultGigaChatModel = "GigaChat"
	DefaultOpenAIModel   = "gpt-4o-mini"

	defaultMaxTokens   int64 = 2000
	defaultTemperature       = 0.3

	historyMaxChats = 64
	historyMaxTurns = 6
	historyTTL      = 2 * time.Hour

	systemPrompt = `You are an assistant of an IT presales engineer who tracks public tenders.
Answer briefly and to the point, in the language of the question.
When asked about vendors, equipment or procurement, give concrete facts and avoid speculation.
Reply with plain text without Markdown.`
)

var ErrEmptyQuestion = errors.New("question is empty")

type Config struct {
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

type Assistant struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
	history     *history
	now         func() time.Time
	log         *slog.Logger
}

func New(cfg Config, creds CredentialSource, log *slog.Logger) *Assistant {
	if cfg.Model == "" {
		cfg.Model = DefaultGigaChatModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = defaultTemperature
	}

	opts := []option.RequestOption{
		option.WithAPIKey("unused"),
		option.WithMiddleware(authMiddleware(creds)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Assistant{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		history:     newHistory(historyMaxChats, historyMaxTurns, historyTTL),
		now:         time.Now,
		log:         log,
	}
}

// authMiddleware puts a fresh bearer token on every outgoing request.
func authMiddleware(creds CredentialSource) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		token, _, err := creds.EnsureValid(req.Context())
		if err != nil {
			return nil, fmt.Errorf("ensure credentials: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("RqUID", uuid.NewString())

		return next(req)
	}
}

// Ask sends question with the recent conversation of chatID and returns the answer.
func (a *Assistant) Ask(ctx context.Context, chatID int64, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt)}
	for _, t := range a.history.get(chatID, a.now()) {
		messages = append(messages, openai.UserMessage(t.question), openai.AssistantMessage(t.answer))
	}
	messages = append(messages, openai.UserMessage(question))

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(a.model),
		Messages:    messages,
		MaxTokens:   openai.Int(a.maxTokens),
		Temperature: openai.Float(a.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("response has no choices")
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("answer is empty (finish reason = %s)", resp.Choices[0].FinishReason)
	}

	a.history.add(chatID, turn{question: question, answer: answer}, a.now())

	a.log.DebugContext(ctx, "Assistant answered",
		"chatID", chatID,
		"model", a.model,
		"promptTokens", resp.Usage.PromptTokens,
		"completionTokens", resp.Usage.CompletionTokens)

	return answer, nil
}

// Reset forgets the conversation of chatID.
func (a *Assistant) Reset(chatID int64) {
	a.history.reset(chatID)
}
