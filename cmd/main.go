package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenderwatch/internal/assistant"
	"tenderwatch/internal/bot"
	"tenderwatch/internal/config"
	"tenderwatch/internal/database"
	"tenderwatch/internal/digest"
	"tenderwatch/internal/feed"
	"tenderwatch/internal/filter"
	"tenderwatch/internal/pipeline"
	"tenderwatch/internal/scheduler"
)

func main() {
	start := time.Now()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("Failed to load config",
			"error", err)

		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err = run(cfg, log, start); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger, start time.Time) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchlist, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load watchlist",
			"error", err,
			"path", cfg.WatchlistPath)

		return err
	}
	log.InfoContext(ctx, "Watchlist is loaded",
		"path", cfg.WatchlistPath,
		"sources", len(watchlist.Sources),
		"companies", len(watchlist.Companies),
		"vendors", len(watchlist.Vendors),
		"keywords", len(watchlist.Keywords))

	if len(watchlist.Sources) == 0 {
		log.WarnContext(ctx, "No feed sources are configured so every run will be empty",
			"path", cfg.WatchlistPath)
	}

	db, err := database.New(ctx, cfg.DBPath, cfg.DatabaseURL, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath,
			"postgres", cfg.DatabaseURL != "")

		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", closeErr)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath,
		"postgres", cfg.DatabaseURL != "")

	loc := cfg.Location()
	domainWatchlist := watchlist.Domain()

	p := pipeline.New(pipeline.Params{
		Sources:       watchlist.FeedSources(),
		Watchlist:     domainWatchlist,
		MaxEntryAge:   cfg.MaxEntryAge,
		SeenRetention: cfg.SeenRetention,
		SendEmpty:     cfg.SendEmptyDigest,
		Fetcher:       feed.NewFetcher(cfg.FetchTimeout, log),
		Parser:        feed.NewParser(log),
		Matcher:       filter.New(domainWatchlist, filter.Options{CompanyNameWords: cfg.CompanyNameWords}),
		Formatter: digest.New(digest.Options{
			GroupBy:   digest.GroupBy(cfg.DigestGroupBy),
			ChunkSize: cfg.DigestChunkSize,
			Location:  loc,
		}),
		Store: db,
		Log:   log,
	})

	deps := bot.Deps{
		Pipeline:     p,
		Store:        db,
		AllowedUsers: cfg.AllowedUsers,
		RunTimeout:   cfg.RunTimeout,
		Location:     loc,
	}
	if a := initAssistant(ctx, cfg, log); a != nil {
		deps.Assistant = a
	}

	// The scheduler needs the bot for delivery and the bot asks the scheduler for the next run.
	var sched *scheduler.Scheduler
	deps.NextRun = func() time.Time {
		if sched == nil {
			return time.Time{}
		}
		return sched.Next()
	}

	botInst, err := bot.New(cfg.Token, deps, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize bot",
			"error", err,
			"allowedUsersCount", len(cfg.AllowedUsers))

		return err
	}
	log.InfoContext(ctx, "Bot is initialized",
		"allowedUsersCount", len(cfg.AllowedUsers))

	sched = scheduler.New(ctx, scheduler.Options{
		Spec:       cfg.Schedule,
		Location:   loc,
		Jitter:     cfg.ScheduleJitter,
		RunTimeout: cfg.RunTimeout,
	}, p, botInst.Deliverer(cfg.OperatorID), log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", cfg.Schedule,
			"timezone", loc.String())

		return err
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"spec", cfg.Schedule,
		"timezone", loc.String(),
		"nextRun", sched.Next())

	done := make(chan struct{})
	go func() {
		defer close(done)
		botInst.Start(ctx)
	}()

	<-ctx.Done()
	log.InfoContext(ctx, "Shutdown signal is received",
		"uptimeSeconds", time.Since(start).Seconds())

	<-done

	log.InfoContext(ctx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())

	return nil
}

// initAssistant prefers GigaChat and falls back to OpenAI. It returns nil when neither is configured.
func initAssistant(ctx context.Context, cfg config.Config, log *slog.Logger) *assistant.Assistant {
	switch {
	case cfg.GigaChatAuthKey != "":
		creds := assistant.NewGigaChatCredentials(cfg.GigaChatAuthURL, cfg.GigaChatAuthKey,
			cfg.GigaChatScope, nil, log)

		model := cfg.AssistantModel
		if model == "" {
			model = assistant.DefaultGigaChatModel
		}

		log.InfoContext(ctx, "Assistant is initialized",
			"provider", "gigachat",
			"model", model)

		return assistant.New(assistant.Config{
			BaseURL:     cfg.GigaChatBaseURL,
			Model:       model,
			MaxTokens:   cfg.AssistantMaxTokens,
			Temperature: cfg.AssistantTemp,
		}, creds, log)
	case cfg.OpenAIAPIKey != "":
		model := cfg.AssistantModel
		if model == "" {
			model = assistant.DefaultOpenAIModel
		}

		log.InfoContext(ctx, "Assistant is initialized",
			"provider", "openai",
			"model", model)

		return assistant.New(assistant.Config{
			Model:       model,
			MaxTokens:   cfg.AssistantMaxTokens,
			Temperature: cfg.AssistantTemp,
		}, assistant.StaticCredentials(cfg.OpenAIAPIKey), log)
	default:
		log.WarnContext(ctx, "Neither GIGACHAT_AUTH_KEY nor OPENAI_API_KEY is set so the assistant is disabled")

		return nil
	}
}
