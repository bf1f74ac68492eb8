package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"notification-relay/internal/classifier"
	"notification-relay/internal/errors"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Relay struct {
		ServerURL     string
		ClientType    string
		ClientVersion string
		Source        string
		Announce      bool
	}
	Loop struct {
		PollInterval time.Duration
		BatchSize    int
		QueueSize    int
		DedupWindow  int
	}
	Reconnect struct {
		Delay       time.Duration
		MaxAttempts int
		Multiplier  float64
		MaxDelay    time.Duration
	}
	Transport struct {
		HeartbeatInterval time.Duration
		WriteTimeout      time.Duration
	}
	Filter struct {
		Platform          string
		PriorityKeyword   string
		PriorityOnly      bool
		MentionOnly       bool
		MentionPatterns   []string
		ChannelIndicators []string
		EmailDomains      []string
	}
	API struct {
		Port     string
		BasePath string
	}
	Log struct {
		Dir   string
		Level string
	}
	DB struct {
		DSN string
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	Telegram struct {
		BotToken  string
		ChatID    int64
		RateLimit int
	}
}

// ClassifierOptions converts the filter settings.
func (c Config) ClassifierOptions() classifier.Options {
	return classifier.Options{
		Platform:          c.Filter.Platform,
		Source:            c.Relay.Source,
		PriorityKeyword:   c.Filter.PriorityKeyword,
		PriorityOnly:      c.Filter.PriorityOnly,
		MentionOnly:       c.Filter.MentionOnly,
		MentionPatterns:   c.Filter.MentionPatterns,
		ChannelIndicators: c.Filter.ChannelIndicators,
		EmailDomains:      c.Filter.EmailDomains,
	}
}

// env reads variables and collects every parse failure.
type env struct {
	problems []string
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: not an integer %q", key, v))
		return def
	}
	return n
}

func (e *env) integer64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: not an integer %q", key, v))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: not a number %q", key, v))
		return def
	}
	return f
}

func (e *env) boolean(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: not a boolean %q", key, v))
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: not a duration %q", key, v))
		return def
	}
	return d
}

// list splits a comma-separated value. An unset variable yields def.
func (e *env) list(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads envFile if it exists, then the environment, applies defaults,
// and validates. Every invalid or missing variable is reported at once.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, errors.NewConfig("load env file", fmt.Errorf("%s: %w", envFile, err))
		}
	}

	e := &env{}
	var cfg Config

	// Relay identity
	cfg.Relay.ServerURL = e.str("RELAY_SERVER_URL", "")
	cfg.Relay.ClientType = e.str("RELAY_CLIENT_TYPE", "windows_notifier")
	cfg.Relay.ClientVersion = e.str("RELAY_CLIENT_VERSION", "2.1.0")
	cfg.Relay.Source = e.str("RELAY_SOURCE", "background_monitor")
	cfg.Relay.Announce = e.boolean("RELAY_ANNOUNCE", false)

	// Relay loop
	cfg.Loop.PollInterval = e.duration("POLL_INTERVAL", 500*time.Millisecond)
	cfg.Loop.BatchSize = e.integer("BATCH_SIZE", 10)
	cfg.Loop.QueueSize = e.integer("QUEUE_SIZE", 0)
	cfg.Loop.DedupWindow = e.integer("DEDUP_WINDOW", 1000)

	// Reconnect policy
	cfg.Reconnect.Delay = e.duration("RECONNECT_DELAY", 5*time.Second)
	cfg.Reconnect.MaxAttempts = e.integer("MAX_RECONNECT_ATTEMPTS", 0)
	cfg.Reconnect.Multiplier = e.float("RECONNECT_MULTIPLIER", 1)
	cfg.Reconnect.MaxDelay = e.duration("RECONNECT_MAX_DELAY", time.Minute)

	cfg.Transport.HeartbeatInterval = e.duration("HEARTBEAT_INTERVAL", 30*time.Second)
	cfg.Transport.WriteTimeout = e.duration("WRITE_TIMEOUT", 10*time.Second)

	// Classification
	cfg.Filter.Platform = e.str("FILTER_PLATFORM", "Windows")
	cfg.Filter.PriorityKeyword = e.str("PRIORITY_KEYWORD", "slack")
	cfg.Filter.PriorityOnly = e.boolean("PRIORITY_ONLY", false)
	cfg.Filter.MentionOnly = e.boolean("MENTION_ONLY", false)
	cfg.Filter.MentionPatterns = e.list("MENTION_PATTERNS", classifier.DefaultMentionPatterns)
	cfg.Filter.ChannelIndicators = e.list("CHANNEL_INDICATORS", classifier.DefaultChannelIndicators)
	cfg.Filter.EmailDomains = e.list("EMAIL_DOMAINS", classifier.DefaultEmailDomains)

	// API settings
	cfg.API.Port = e.str("API_PORT", ":8080")
	cfg.API.BasePath = e.str("API_BASE_PATH", "/api/v0")

	cfg.Log.Dir = e.str("LOG_DIR", "logs")
	cfg.Log.Level = e.str("LOG_LEVEL", "info")

	// Optional integrations
	cfg.DB.DSN = e.str("DB_DSN", "")
	cfg.Kafka.Broker = e.str("KAFKA_BROKER", "")
	cfg.Kafka.Topic = e.str("KAFKA_TOPIC", "")
	cfg.Kafka.GroupID = e.str("KAFKA_GROUP_ID", "notification-relay")
	cfg.Telegram.BotToken = e.str("TELEGRAM_BOT_TOKEN", "")
	cfg.Telegram.ChatID = e.integer64("TELEGRAM_CHAT_ID", 0)
	cfg.Telegram.RateLimit = e.integer("TELEGRAM_RATE_LIMIT", 1)

	problems := append(e.problems, validate(cfg)...)
	if len(problems) > 0 {
		return Config{}, errors.NewConfig("validate", fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; ")))
	}
	return cfg, nil
}

func validate(cfg Config) []string {
	var problems []string
	if cfg.Relay.ServerURL == "" {
		problems = append(problems, "RELAY_SERVER_URL: required")
	} else if u, err := url.Parse(cfg.Relay.ServerURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("RELAY_SERVER_URL: want ws:// or wss:// URL, got %q", cfg.Relay.ServerURL))
	}
	if cfg.Loop.PollInterval <= 0 {
		problems = append(problems, "POLL_INTERVAL: must be positive")
	}
	if cfg.Loop.BatchSize <= 0 {
		problems = append(problems, "BATCH_SIZE: must be positive")
	}
	if cfg.Loop.QueueSize < 0 {
		problems = append(problems, "QUEUE_SIZE: must not be negative")
	}
	if cfg.Loop.DedupWindow < 2 {
		problems = append(problems, "DEDUP_WINDOW: must be at least 2")
	}
	if cfg.Reconnect.Delay <= 0 {
		problems = append(problems, "RECONNECT_DELAY: must be positive")
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		problems = append(problems, "MAX_RECONNECT_ATTEMPTS: must not be negative")
	}
	if cfg.Reconnect.Multiplier < 1 {
		problems = append(problems, "RECONNECT_MULTIPLIER: must be at least 1")
	}
	if cfg.Transport.HeartbeatInterval < 0 {
		problems = append(problems, "HEARTBEAT_INTERVAL: must not be negative")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL: unknown level %q", cfg.Log.Level))
	}
	if cfg.Kafka.Broker != "" && cfg.Kafka.Topic == "" {
		problems = append(problems, "KAFKA_TOPIC: required when KAFKA_BROKER is set")
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID == 0 {
		problems = append(problems, "TELEGRAM_CHAT_ID: required when TELEGRAM_BOT_TOKEN is set")
	}
	if cfg.Telegram.RateLimit <= 0 {
		problems = append(problems, "TELEGRAM_RATE_LIMIT: must be positive")
	}
	return problems
}
