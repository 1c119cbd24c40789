package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	_ "time/tzdata" // Container images may ship without zoneinfo.

	"github.com/caarlos0/env/v11"
)

const (
	GroupByCompany  = "company"
	GroupByPlatform = "platform"
)

type Config struct {
	Token        string  `env:"TOKEN,required,notEmpty"`
	OperatorID   int64   `env:"OPERATOR_ID,required"`
	AllowedUsers []int64 `env:"ALLOWED_USERS"`

	DBPath      string `env:"DB_PATH"      envDefault:"db.sqlite"`
	DatabaseURL string `env:"DATABASE_URL"`

	WatchlistPath string `env:"WATCHLIST_PATH"`

	Schedule       string        `env:"SCHEDULE"        envDefault:"0 10 * * *"`
	Timezone       string        `env:"TIMEZONE"        envDefault:"Europe/Moscow"`
	ScheduleJitter time.Duration `env:"SCHEDULE_JITTER" envDefault:"2m"`

	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT"  envDefault:"30s"`
	RunTimeout    time.Duration `env:"RUN_TIMEOUT"    envDefault:"10m"`
	MaxEntryAge   time.Duration `env:"MAX_ENTRY_AGE"  envDefault:"48h"`
	SeenRetention time.Duration `env:"SEEN_RETENTION" envDefault:"2160h"`

	DigestGroupBy    string `env:"DIGEST_GROUP_BY"    envDefault:"company"`
	DigestChunkSize  int    `env:"DIGEST_CHUNK_SIZE"  envDefault:"3500"`
	SendEmptyDigest  bool   `env:"SEND_EMPTY_DIGEST"  envDefault:"true"`
	CompanyNameWords int    `env:"COMPANY_NAME_WORDS" envDefault:"2"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	GigaChatAuthKey string `env:"GIGACHAT_AUTH_KEY"`
	GigaChatScope   string `env:"GIGACHAT_SCOPE"    envDefault:"GIGACHAT_API_PERS"`
	GigaChatAuthURL string `env:"GIGACHAT_AUTH_URL" envDefault:"https://ngw.devices.sberbank.ru:9443/api/v2/oauth"`
	GigaChatBaseURL string `env:"GIGACHAT_BASE_URL" envDefault:"https://gigachat.devices.sberbank.ru/api/v1/"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`

	AssistantModel     string  `env:"ASSISTANT_MODEL"`
	AssistantMaxTokens int64   `env:"ASSISTANT_MAX_TOKENS" envDefault:"2000"`
	AssistantTemp      float64 `env:"ASSISTANT_TEMPERATURE" envDefault:"0.3"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.DigestGroupBy = strings.ToLower(strings.TrimSpace(cfg.DigestGroupBy))
	if len(cfg.AllowedUsers) == 0 {
		cfg.AllowedUsers = []int64{cfg.OperatorID}
	} else if !slices.Contains(cfg.AllowedUsers, cfg.OperatorID) {
		cfg.AllowedUsers = append(cfg.AllowedUsers, cfg.OperatorID)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.OperatorID == 0 {
		errs = append(errs, errors.New("OPERATOR_ID must be non-zero"))
	}
	if c.DigestGroupBy != GroupByCompany && c.DigestGroupBy != GroupByPlatform {
		errs = append(errs, fmt.Errorf("DIGEST_GROUP_BY must be %q or %q, got %q",
			GroupByCompany, GroupByPlatform, c.DigestGroupBy))
	}
	if c.DigestChunkSize < 500 {
		errs = append(errs, fmt.Errorf("DIGEST_CHUNK_SIZE must be at least 500, got %d", c.DigestChunkSize))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, errors.New("RUN_TIMEOUT must be positive"))
	}
	if c.CompanyNameWords < 0 {
		errs = append(errs, errors.New("COMPANY_NAME_WORDS must not be negative"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	return errors.Join(errs...)
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}
