package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nholik/relay-sentinel/internal/watchdog"
)

const (
	envPollInterval    = "RS_POLL_INTERVAL"
	envProbeTimeout    = "RS_PROBE_TIMEOUT"
	envStatusTimeout   = "RS_STATUS_TIMEOUT"
	envRestartTimeout  = "RS_RESTART_TIMEOUT"
	envSettleDelay     = "RS_SETTLE_DELAY"
	envNotifyTimeout   = "RS_NOTIFY_TIMEOUT"
	envProbeHost       = "RS_PROBE_HOST"
	envDockerHost      = "RS_DOCKER_HOST"
	envServicesFile    = "RS_SERVICES_FILE"
	envComposeFile     = "RS_COMPOSE_FILE"
	envParallel        = "RS_PARALLEL"
	envTelegramToken   = "TELEGRAM_BOT_TOKEN"
	envTelegramChatID  = "TELEGRAM_CHAT_ID"
	envSlackWebhookURL = "RS_SLACK_WEBHOOK_URL"
	envWebhookURL      = "RS_WEBHOOK_URL"
	envWebhookTemplate = "RS_WEBHOOK_TEMPLATE"
	envDryRun          = "RS_DRY_RUN"
	envStateFile       = "RS_STATE_FILE"
	envHealthPort      = "RS_HEALTH_PORT"
	envMetricsPort     = "RS_METRICS_PORT"
	envLogLevel        = "RS_LOG_LEVEL"
	envLogFormat       = "RS_LOG_FORMAT"
)

const (
	defaultPollInterval = 60 * time.Second
	defaultProbeHost    = "127.0.0.1"
	defaultLogLevel     = "info"
	defaultLogFormat    = "json"
)

// dotEnvFiles are loaded in order; the first file to define a key wins and
// the real environment always wins over both. config.env is the name the
// relay deployment scripts write.
var dotEnvFiles = []string{".env", "config.env"}

// Config describes runtime configuration loaded from the environment.
type Config struct {
	PollInterval time.Duration
	Timeouts     watchdog.Timeouts
	ProbeHost    string
	DockerHost   string
	ServicesFile string
	ComposeFile  string
	Parallel     bool

	TelegramBotToken string
	TelegramChatID   string
	SlackWebhookURL  string
	WebhookURL       string
	WebhookTemplate  string
	DryRun           bool

	StateFile   string
	HealthPort  int
	MetricsPort int
	LogLevel    string
	LogFormat   string
}

// TelegramEnabled reports whether both Telegram credentials are present.
func (c Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// TelegramIncomplete reports whether exactly one Telegram credential is set.
// Telegram alerts stay disabled in that case.
func (c Config) TelegramIncomplete() bool {
	return (c.TelegramBotToken == "") != (c.TelegramChatID == "")
}

// Load reads configuration from environment variables and local dotenv files if present.
// Existing environment variables take precedence over values in dotenv files.
func Load() (Config, error) {
	for _, path := range dotEnvFiles {
		if err := loadDotEnvIfPresent(path); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		PollInterval: defaultPollInterval,
		Timeouts:     watchdog.DefaultTimeouts(),
		ProbeHost:    defaultProbeHost,
		LogLevel:     defaultLogLevel,
		LogFormat:    defaultLogFormat,
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{envPollInterval, &cfg.PollInterval},
		{envProbeTimeout, &cfg.Timeouts.Probe},
		{envStatusTimeout, &cfg.Timeouts.Status},
		{envRestartTimeout, &cfg.Timeouts.Restart},
		{envSettleDelay, &cfg.Timeouts.Settle},
		{envNotifyTimeout, &cfg.Timeouts.Notify},
	}
	for _, d := range durations {
		if err := parsePositiveDuration(d.key, d.target); err != nil {
			return Config{}, err
		}
	}

	strs := []struct {
		key    string
		target *string
	}{
		{envProbeHost, &cfg.ProbeHost},
		{envDockerHost, &cfg.DockerHost},
		{envServicesFile, &cfg.ServicesFile},
		{envComposeFile, &cfg.ComposeFile},
		{envTelegramToken, &cfg.TelegramBotToken},
		{envTelegramChatID, &cfg.TelegramChatID},
		{envSlackWebhookURL, &cfg.SlackWebhookURL},
		{envWebhookURL, &cfg.WebhookURL},
		{envWebhookTemplate, &cfg.WebhookTemplate},
		{envStateFile, &cfg.StateFile},
		{envLogLevel, &cfg.LogLevel},
		{envLogFormat, &cfg.LogFormat},
	}
	for _, s := range strs {
		if value, ok := lookupTrimmed(s.key); ok && value != "" {
			*s.target = value
		}
	}

	bools := []struct {
		key    string
		target *bool
	}{
		{envParallel, &cfg.Parallel},
		{envDryRun, &cfg.DryRun},
	}
	for _, b := range bools {
		if err := parseBool(b.key, b.target); err != nil {
			return Config{}, err
		}
	}

	ports := []struct {
		key    string
		target *int
	}{
		{envHealthPort, &cfg.HealthPort},
		{envMetricsPort, &cfg.MetricsPort},
	}
	for _, p := range ports {
		if err := parsePort(p.key, p.target); err != nil {
			return Config{}, err
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.SlackWebhookURL != "" {
		if err := validateHTTPURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return err
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateHTTPURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return err
		}
	}
	if cfg.WebhookTemplate != "" && cfg.WebhookURL == "" {
		return fmt.Errorf("%s requires %s", envWebhookTemplate, envWebhookURL)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid %s: %q (want json or console)", envLogFormat, cfg.LogFormat)
	}
	return nil
}

func parsePositiveDuration(key string, target *time.Duration) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("%s must be greater than zero", key)
	}
	*target = parsed
	return nil
}

func parseBool(key string, target *bool) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func parsePort(key string, target *int) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 || parsed > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535", key)
	}
	*target = parsed
	return nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateHTTPURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", name)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include host", name)
	}
	return nil
}
