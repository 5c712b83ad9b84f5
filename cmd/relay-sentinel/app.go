package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nholik/relay-sentinel/internal/config"
	"github.com/nholik/relay-sentinel/internal/logging"
	"github.com/nholik/relay-sentinel/internal/metrics"
	"github.com/nholik/relay-sentinel/internal/notify"
	"github.com/nholik/relay-sentinel/internal/probe"
	"github.com/nholik/relay-sentinel/internal/watchdog"
	"github.com/rs/zerolog"
)

// app holds the process-wide wiring. The factory fields are replaced in tests.
type app struct {
	stdout io.Writer
	stderr io.Writer

	loadConfig func() (config.Config, error)
	newLogger  func(cfg config.Config) zerolog.Logger
	newProbes  func(ctx context.Context, logger zerolog.Logger, cfg config.Config) (watchdog.Probes, func(), error)
	hostname   func() string
	// newNotifier defaults to buildNotifier.
	newNotifier func(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error)
}

func newApp() *app {
	a := &app{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		loadConfig: config.Load,
		newLogger: func(cfg config.Config) zerolog.Logger {
			return logging.NewWithOptions(cfg.LogLevel, cfg.LogFormat)
		},
		newProbes: dockerProbes,
		hostname: func() string {
			host, err := os.Hostname()
			if err != nil {
				return ""
			}
			return host
		},
	}
	a.newNotifier = a.buildNotifier
	return a
}

// runtime is everything a command needs after configuration has been resolved.
type runtime struct {
	cfg      config.Config
	logger   zerolog.Logger
	services config.ServiceSet
	notifier notify.Notifier
	engine   *watchdog.Engine
	cleanup  func()
}

func (a *app) setup(ctx context.Context, m *metrics.Metrics) (*runtime, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, configError(err)
	}
	logger := a.newLogger(cfg)

	services, err := config.ResolveServices(ctx, cfg)
	if err != nil {
		return nil, configError(err)
	}
	event := logger.Info().
		Str("source", string(services.Source)).
		Int("services", len(services.Services))
	if services.Fingerprint != "" {
		event = event.Str("compose_fingerprint", services.Fingerprint)
	}
	event.Msg("services resolved")

	notifier, err := a.newNotifier(logger, cfg)
	if err != nil {
		return nil, configError(err)
	}

	probes, cleanup, err := a.newProbes(ctx, logger, cfg)
	if err != nil {
		return nil, configError(err)
	}

	engine, err := watchdog.New(logger, services.Services, probes,
		watchdog.WithNotifier(notifier),
		watchdog.WithMetrics(m),
		watchdog.WithTimeouts(cfg.Timeouts),
		watchdog.WithProbeHost(cfg.ProbeHost),
		watchdog.WithParallel(cfg.Parallel),
	)
	if err != nil {
		cleanup()
		return nil, configError(err)
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		services: services,
		notifier: notifier,
		engine:   engine,
		cleanup:  cleanup,
	}, nil
}

func (a *app) buildNotifier(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error) {
	host := a.hostname()

	var notifiers []notify.Notifier
	if cfg.TelegramIncomplete() {
		logger.Warn().Msg("telegram alerts disabled: TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must both be set")
	}
	if cfg.TelegramEnabled() {
		notifiers = append(notifiers, notify.NewTelegramNotifier(logger, cfg.TelegramBotToken, cfg.TelegramChatID,
			notify.WithTelegramHost(host)))
	}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL, notify.WithSlackHost(host)))
	}
	if cfg.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate, host)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, webhook)
	}

	if len(notifiers) == 0 {
		return notify.NewNoop(logger, "no notifier configured"), nil
	}

	var notifier notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if cfg.DryRun {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}
	logger.Info().Int("notifiers", len(notifiers)).Bool("dry_run", cfg.DryRun).Msg("alerting configured")
	return notifier, nil
}

func dockerProbes(ctx context.Context, logger zerolog.Logger, cfg config.Config) (watchdog.Probes, func(), error) {
	docker, err := probe.NewDockerClient(cfg.DockerHost, cfg.Timeouts.Status)
	if err != nil {
		return watchdog.Probes{}, nil, fmt.Errorf("docker client: %w", err)
	}

	// An unreachable daemon is not fatal: containers then probe as not running
	// and the pass reports it.
	if err := docker.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("docker daemon not reachable")
	}

	cleanup := func() {
		if err := docker.Close(); err != nil {
			logger.Debug().Err(err).Msg("docker client close failed")
		}
	}

	return watchdog.Probes{
		Ports:      probe.NewTCPProber(),
		Containers: docker,
		Restarter:  docker,
	}, cleanup, nil
}
