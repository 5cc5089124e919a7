package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissing marks configuration that must be present before any I/O happens.
var ErrMissing = errors.New("missing required configuration")

type Config struct {
	BotmakerBaseURL    string `yaml:"botmaker_base_url"`
	BotmakerAPIToken   string `yaml:"botmaker_api_token"`
	BotmakerBusinessID string `yaml:"botmaker_business_id"`

	ChatwootBaseURL        string `yaml:"chatwoot_base_url"`
	ChatwootAPIAccessToken string `yaml:"chatwoot_api_access_token"`
	ChatwootAccountID      string `yaml:"chatwoot_account_id"`
	ChatwootInboxID        string `yaml:"chatwoot_inbox_id"`

	StorageBackend string `yaml:"storage_backend"`
	DataDir        string `yaml:"data_dir"`
	LogDir         string `yaml:"log_dir"`
	MappingsDir    string `yaml:"mappings_dir"`
	DatabaseURL    string `yaml:"database_url"`

	RateLimitRPS       float64 `yaml:"rate_limit_rps"`
	HTTPTimeoutSeconds int     `yaml:"http_timeout_seconds"`
	ChunkSize          int     `yaml:"chunk_size"`

	ExtractStart    string `yaml:"extract_start"`
	ExtractEnd      string `yaml:"extract_end"`
	PriorityChannel string `yaml:"priority_channel"`

	Port          int    `yaml:"port"`
	LogLevel      string `yaml:"log_level"`
	NatsURL       string `yaml:"nats_url"`
	NatsToken     string `yaml:"nats_token"`
	SlackBotToken string `yaml:"slack_bot_token"`
	SlackChannel  string `yaml:"slack_channel"`
}

// Defaults returns the configuration used when neither a file nor the environment
// supplies a value.
func Defaults() Config {
	return Config{
		BotmakerBaseURL:    "https://api.botmaker.com/v2.0",
		ChatwootBaseURL:    "https://app.chatwoot.com",
		StorageBackend:     "local",
		DataDir:            "data",
		MappingsDir:        "mappings",
		RateLimitRPS:       4,
		HTTPTimeoutSeconds: 30,
		ChunkSize:          200,
		PriorityChannel:    "whatsapp",
		Port:               8760,
		LogLevel:           "info",
	}
}

// Load reads .env (when present) and the process environment on top of Defaults.
func Load() Config {
	_ = godotenv.Load()
	return fromEnv(Defaults())
}

// LoadFile layers a YAML file between Defaults and the environment.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()
	base := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fromEnv(base), nil
}

func fromEnv(base Config) Config {
	return Config{
		BotmakerBaseURL:    envStr("BOTMAKER_BASE_URL", base.BotmakerBaseURL),
		BotmakerAPIToken:   envStr("BOTMAKER_API_TOKEN", base.BotmakerAPIToken),
		BotmakerBusinessID: envStr("BOTMAKER_BUSINESS_ID", base.BotmakerBusinessID),

		ChatwootBaseURL:        envStr("CHATWOOT_BASE_URL", base.ChatwootBaseURL),
		ChatwootAPIAccessToken: envStr("CHATWOOT_API_ACCESS_TOKEN", base.ChatwootAPIAccessToken),
		ChatwootAccountID:      envStr("CHATWOOT_ACCOUNT_ID", base.ChatwootAccountID),
		ChatwootInboxID:        envStr("CHATWOOT_INBOX_ID", base.ChatwootInboxID),

		StorageBackend: envStr("STORAGE_BACKEND", base.StorageBackend),
		DataDir:        envStr("DATA_DIR", base.DataDir),
		LogDir:         envStr("LOG_DIR", base.LogDir),
		MappingsDir:    envStr("MAPPINGS_DIR", base.MappingsDir),
		DatabaseURL:    envStr("DATABASE_URL", envStr("SUPABASE_DB_URL", base.DatabaseURL)),

		RateLimitRPS:       envFloat("RATE_LIMIT_RPS", base.RateLimitRPS),
		HTTPTimeoutSeconds: envInt("HTTP_TIMEOUT_SECONDS", base.HTTPTimeoutSeconds),
		ChunkSize:          envInt("CHUNK_SIZE", base.ChunkSize),

		ExtractStart:    envStr("EXTRACT_START", base.ExtractStart),
		ExtractEnd:      envStr("EXTRACT_END", base.ExtractEnd),
		PriorityChannel: envStr("PRIORITY_CHANNEL", base.PriorityChannel),

		Port:          envInt("FERRY_PORT", base.Port),
		LogLevel:      envStr("LOG_LEVEL", base.LogLevel),
		NatsURL:       envStr("NATS_URL", base.NatsURL),
		NatsToken:     envStr("NATS_TOKEN", base.NatsToken),
		SlackBotToken: envStr("SLACK_BOT_TOKEN", base.SlackBotToken),
		SlackChannel:  envStr("SLACK_CHANNEL", base.SlackChannel),
	}
}

// ValidateSource checks the credentials needed to talk to Botmaker.
func (c Config) ValidateSource() error {
	if c.BotmakerAPIToken == "" {
		return fmt.Errorf("%w: BOTMAKER_API_TOKEN", ErrMissing)
	}
	return nil
}

// ValidateAccount checks the credentials needed to read from the Chatwoot account.
func (c Config) ValidateAccount() error {
	if missing := c.missingAccount(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateDestination checks the credentials and ids needed to write to Chatwoot.
func (c Config) ValidateDestination() error {
	missing := c.missingAccount()
	if c.ChatwootInboxID == "" {
		missing = append(missing, "CHATWOOT_INBOX_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	if _, err := c.InboxID(); err != nil {
		return err
	}
	return nil
}

func (c Config) missingAccount() []string {
	var missing []string
	if c.ChatwootAPIAccessToken == "" {
		missing = append(missing, "CHATWOOT_API_ACCESS_TOKEN")
	}
	if c.ChatwootAccountID == "" {
		missing = append(missing, "CHATWOOT_ACCOUNT_ID")
	}
	return missing
}

// ValidateStorage checks that the selected storage backend is usable.
func (c Config) ValidateStorage() error {
	switch c.StorageBackend {
	case "local", "":
		return nil
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL (required by STORAGE_BACKEND=postgres)", ErrMissing)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported STORAGE_BACKEND %q", ErrMissing, c.StorageBackend)
	}
}

// InboxID parses the configured Chatwoot inbox id.
func (c Config) InboxID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.ChatwootInboxID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: CHATWOOT_INBOX_ID must be numeric, got %q", ErrMissing, c.ChatwootInboxID)
	}
	return id, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
