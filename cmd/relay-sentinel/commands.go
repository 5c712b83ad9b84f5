package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nholik/relay-sentinel/internal/healthcheck"
	"github.com/nholik/relay-sentinel/internal/metrics"
	"github.com/nholik/relay-sentinel/internal/notify"
	"github.com/nholik/relay-sentinel/internal/runner"
	"github.com/nholik/relay-sentinel/internal/server"
	"github.com/nholik/relay-sentinel/internal/state"
	"github.com/nholik/relay-sentinel/internal/watchdog"
	"github.com/spf13/cobra"
)

func (a *app) rootCmd() *cobra.Command {
	var (
		checkOnly bool
		asJSON    bool
	)

	root := &cobra.Command{
		Use:   "relay-sentinel",
		Short: "Health watchdog and auto-restart for relay containers",
		Long: "relay-sentinel probes each relay service's TCP port and container state,\n" +
			"restarts unhealthy containers once, re-verifies them and sends alerts.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkOnly {
				return a.runCheck(cmd, nil, asJSON)
			}
			return a.runPass(cmd, asJSON)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.Flags().BoolVar(&checkOnly, "check-only", false, "only check health, do not restart")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON on stdout")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run one remediation pass; exits 1 if any restart failed",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runPass(cmd, asJSON)
			},
		},
		&cobra.Command{
			Use:   "check [service...]",
			Short: "Check service health without restarting",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.runCheck(cmd, args, asJSON)
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Run passes on an interval and serve health and metrics endpoints",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runWatch(cmd)
			},
		},
		&cobra.Command{
			Use:   "notify-test",
			Short: "Send a test message through the configured notifiers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runNotifyTest(cmd)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the last persisted pass report",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.runStatus(cmd)
			},
		},
	)

	return root
}

func (a *app) runPass(cmd *cobra.Command, asJSON bool) error {
	rt, err := a.setup(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer rt.cleanup()

	opts := []runner.Option{
		runner.WithEngine(rt.engine),
		runner.WithProvenance(string(rt.services.Source), rt.services.Fingerprint),
	}
	if rt.cfg.StateFile != "" {
		opts = append(opts, runner.WithStateStore(state.NewFileStore(rt.cfg.StateFile, rt.logger), nil))
	}
	r := runner.New(rt.logger, rt.cfg.PollInterval, opts...)

	report, err := r.Pass(cmd.Context())
	if err != nil {
		rt.logger.Warn().Err(err).Msg("pass bookkeeping failed")
	}

	if asJSON {
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
	} else {
		for _, outcome := range report.Outcomes {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", outcome.Service.Name, outcome.Result)
		}
	}

	if report.Failed() {
		return &exitError{code: exitPassFailed}
	}
	return nil
}

func (a *app) runCheck(cmd *cobra.Command, names []string, asJSON bool) error {
	rt, err := a.setup(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer rt.cleanup()

	var states []watchdog.HealthState
	if len(names) == 0 {
		states = rt.engine.Snapshot(cmd.Context())
	} else {
		for _, name := range names {
			hs, err := rt.engine.CheckByName(cmd.Context(), name)
			if errors.Is(err, watchdog.ErrUnknownService) {
				return configError(err)
			}
			states = append(states, hs)
		}
	}

	results := make(map[string]bool, len(states))
	for _, hs := range states {
		results[hs.Service.Name] = hs.Healthy
		if hs.Healthy {
			rt.logger.Info().Str("service", hs.Service.Name).Msg(hs.Message())
		} else {
			rt.logger.Warn().Str("service", hs.Service.Name).Str("reason", hs.Reason).Msg(hs.Message())
		}
	}

	if asJSON {
		return writeJSON(cmd, results)
	}
	for _, hs := range states {
		fmt.Fprintln(cmd.OutOrStdout(), hs.Message())
	}
	return nil
}

func (a *app) runWatch(cmd *cobra.Command) error {
	m := metrics.New()
	rt, err := a.setup(cmd.Context(), m)
	if err != nil {
		return err
	}
	defer rt.cleanup()

	tracker := healthcheck.NewTracker()
	opts := []runner.Option{
		runner.WithEngine(rt.engine),
		runner.WithMetrics(m),
		runner.WithTracker(tracker),
		runner.WithProvenance(string(rt.services.Source), rt.services.Fingerprint),
	}
	if rt.cfg.StateFile != "" {
		opts = append(opts, runner.WithStateStore(state.NewFileStore(rt.cfg.StateFile, rt.logger), &sync.Mutex{}))
	}
	r := runner.New(rt.logger, rt.cfg.PollInterval, opts...)

	server.Start(cmd.Context(), rt.logger, server.Config{
		PollInterval: rt.cfg.PollInterval,
		PassBudget:   rt.engine.PassBudget(),
		HealthPort:   rt.cfg.HealthPort,
		MetricsPort:  rt.cfg.MetricsPort,
		Tracker:      tracker,
		Metrics:      m,
		LastReport:   r.LastReport,
	})

	rt.logger.Info().
		Dur("poll_interval", rt.cfg.PollInterval).
		Bool("parallel", rt.cfg.Parallel).
		Msg("relay-sentinel watching")

	return r.Run(cmd.Context())
}

func (a *app) runNotifyTest(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return configError(err)
	}
	logger := a.newLogger(cfg)

	notifier, err := a.newNotifier(logger, cfg)
	if err != nil {
		return configError(err)
	}
	tester, ok := notifier.(notify.Tester)
	if !ok {
		return configError(errors.New("no notifier configured; set TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID, RS_SLACK_WEBHOOK_URL or RS_WEBHOOK_URL"))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeouts.Notify)
	defer cancel()
	if err := tester.NotifyTest(ctx); err != nil {
		return &exitError{code: exitPassFailed, err: fmt.Errorf("test notification failed: %w", err)}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "test notification sent")
	return nil
}

func (a *app) runStatus(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return configError(err)
	}
	if cfg.StateFile == "" {
		return configError(errors.New("RS_STATE_FILE is not set"))
	}
	logger := a.newLogger(cfg)

	st, err := state.NewFileStore(cfg.StateFile, logger).Load(cmd.Context())
	if err != nil {
		return &exitError{code: exitPassFailed, err: fmt.Errorf("load state: %w", err)}
	}
	if st.LastReport == nil {
		return &exitError{code: exitPassFailed, err: fmt.Errorf("no pass recorded in %s", cfg.StateFile)}
	}
	return writeJSON(cmd, st)
}

func writeJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

