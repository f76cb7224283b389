package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"basegraph.app/warden/core/db"
	"basegraph.app/warden/internal/ratelimit"
)

type Config struct {
	OTel      OTelConfig
	GitHub    GitHubConfig
	GitLab    GitLabConfig
	CircleCI  CircleCIConfig
	Jira      JiraConfig
	Notify    NotifyConfig
	Policy    PolicyConfig
	Audit     AuditConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cost      CostConfig
	Analyzer  AnalyzerConfig
	CodeGen   CodeGenConfig
	Worker    WorkerConfig
	Env       string
	Port      string
	// LogLevel overrides the environment's default level (debug in
	// development, info elsewhere).
	LogLevel string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	// SampleRatio is the fraction of root traces kept; children follow
	// their parent's decision.
	SampleRatio float64
}

type GitHubConfig struct {
	Token         string
	APIURL        string
	WebhookSecret string
}

type GitLabConfig struct {
	Token        string
	BaseURL      string
	WebhookToken string
}

type CircleCIConfig struct {
	WebhookSecret string
}

type JiraConfig struct {
	BaseURL       string
	User          string
	Token         string
	WebhookSecret string
}

type NotifyConfig struct {
	SlackWebhookURL string
	SMTPServer      string // host:port
	SMTPFrom        string
	SMTPUser        string
	SMTPPassword    string
	Email           string
}

type PolicyConfig struct {
	// DryRun makes every adapter return a synthetic echo instead of
	// calling the external system.
	DryRun           bool
	AutoApproveFixes bool
	AdapterTimeout   time.Duration
	WorktreeDir      string
}

type AuditConfig struct {
	Path string
	DB   db.Config
}

type RedisConfig struct {
	URL       string
	Stream    string
	MaxLen    int64
	Group     string
	Consumer  string
	DLQStream string
}

type RateLimitConfig struct {
	Default ratelimit.Rule
	Rules   map[string]ratelimit.Rule
	// APIKeys are the X-Api-Key values that get their own bucket. Any
	// other caller is keyed by client ip.
	APIKeys []string
}

type CostConfig struct {
	DailyLimit    int64
	WarnThreshold float64
}

type AnalyzerConfig struct {
	PatternsFile string
}

type CodeGenConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type WorkerConfig struct {
	Interval        time.Duration
	WarnAge         time.Duration
	TTL             time.Duration
	NotifyQueueSize int
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files first
// (.env.server, .env.worker), falling back to .env.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("WARDEN_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	rules, err := ratelimit.ParseRules(getEnv("RATE_LIMIT_RULES", "submit=30/1m,resolve=60/1m,webhook=120/1m,analyze=10/1m"))
	if err != nil {
		return Config{}, fmt.Errorf("RATE_LIMIT_RULES: %w", err)
	}
	defaultRule, err := ratelimit.ParseRule(getEnv("RATE_LIMIT_DEFAULT", "60/1m"))
	if err != nil {
		return Config{}, fmt.Errorf("RATE_LIMIT_DEFAULT: %w", err)
	}

	cfg := Config{
		Env:  getEnv("WARDEN_ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", ""),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "warden"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			SampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		GitHub: GitHubConfig{
			Token:         getEnv("GITHUB_TOKEN", ""),
			APIURL:        getEnv("GITHUB_API_URL", "https://api.github.com"),
			WebhookSecret: getEnv("GITHUB_WEBHOOK_SECRET", ""),
		},
		GitLab: GitLabConfig{
			Token:        getEnv("GITLAB_TOKEN", ""),
			BaseURL:      getEnv("GITLAB_BASE_URL", ""),
			WebhookToken: getEnv("GITLAB_WEBHOOK_TOKEN", ""),
		},
		CircleCI: CircleCIConfig{
			WebhookSecret: getEnv("CIRCLECI_WEBHOOK_SECRET", ""),
		},
		Jira: JiraConfig{
			BaseURL:       getEnv("JIRA_BASE_URL", ""),
			User:          getEnv("JIRA_USER", ""),
			Token:         getEnv("JIRA_TOKEN", ""),
			WebhookSecret: getEnv("JIRA_WEBHOOK_SECRET", ""),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			SMTPServer:      getEnv("SMTP_SERVER", ""),
			SMTPFrom:        getEnv("SMTP_FROM", "warden@localhost"),
			SMTPUser:        getEnv("SMTP_USER", ""),
			SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
			Email:           getEnv("NOTIFY_EMAIL", ""),
		},
		Policy: PolicyConfig{
			DryRun:           getEnvBool("DRY_RUN", true),
			AutoApproveFixes: getEnvBool("AUTO_APPROVE_FIXES", false),
			AdapterTimeout:   getEnvDuration("ADAPTER_TIMEOUT", 30*time.Second),
			WorktreeDir:      getEnv("WORKTREE_DIR", "worktrees"),
		},
		Audit: AuditConfig{
			Path: getEnv("AUDIT_LOG_PATH", "audit.log"),
			DB: db.Config{
				DSN:      getEnv("AUDIT_DATABASE_URL", ""),
				MaxConns: getEnvInt32("AUDIT_DB_MAX_CONNS", 4),
				MinConns: getEnvInt32("AUDIT_DB_MIN_CONNS", 1),
			},
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			Stream:    getEnv("REDIS_STREAM", "warden_approvals"),
			MaxLen:    getEnvInt64("REDIS_STREAM_MAXLEN", 10000),
			Group:     getEnv("REDIS_GROUP", "warden-relay"),
			Consumer:  getEnv("REDIS_CONSUMER", hostname()),
			DLQStream: getEnv("REDIS_DLQ_STREAM", "warden_approvals_dlq"),
		},
		RateLimit: RateLimitConfig{
			Default: defaultRule,
			Rules:   rules,
			APIKeys: getEnvList("API_KEYS"),
		},
		Cost: CostConfig{
			DailyLimit:    getEnvInt64("COST_DAILY_LIMIT", 200000),
			WarnThreshold: getEnvFloat("COST_WARN_THRESHOLD", 0.8),
		},
		Analyzer: AnalyzerConfig{
			PatternsFile: getEnv("PATTERNS_FILE", ""),
		},
		CodeGen: CodeGenConfig{
			APIKey:    getEnv("CODEGEN_API_KEY", ""),
			BaseURL:   getEnv("CODEGEN_BASE_URL", ""),
			Model:     getEnv("CODEGEN_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvInt("CODEGEN_MAX_TOKENS", 4096),
		},
		Worker: WorkerConfig{
			Interval:        getEnvDuration("WORKER_INTERVAL", time.Minute),
			WarnAge:         getEnvDuration("APPROVAL_WARN_AGE", 30*time.Minute),
			TTL:             getEnvDuration("APPROVAL_TTL", 0),
			NotifyQueueSize: getEnvInt("NOTIFY_QUEUE_SIZE", 200),
		},
	}

	if cfg.Cost.WarnThreshold <= 0 || cfg.Cost.WarnThreshold > 1 {
		return Config{}, fmt.Errorf("COST_WARN_THRESHOLD must be in (0, 1], got %v", cfg.Cost.WarnThreshold)
	}

	if serviceType == ServiceTypeWorker && !cfg.Redis.Enabled() {
		return Config{}, fmt.Errorf("REDIS_URL is required for the worker")
	}

	if serviceType == ServiceTypeServer && cfg.IsProduction() && cfg.GitHub.WebhookSecret == "" {
		return Config{}, fmt.Errorf("GITHUB_WEBHOOK_SECRET is required in production")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c GitLabConfig) Enabled() bool {
	return c.Token != ""
}

func (c JiraConfig) Enabled() bool {
	return c.BaseURL != "" && c.User != "" && c.Token != ""
}

func (c NotifyConfig) SlackEnabled() bool {
	return c.SlackWebhookURL != ""
}

func (c NotifyConfig) EmailEnabled() bool {
	return c.SMTPServer != "" && c.Email != ""
}

func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func (c CodeGenConfig) Enabled() bool {
	return c.APIKey != ""
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "warden-relay-1"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
