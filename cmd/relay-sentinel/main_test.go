package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nholik/relay-sentinel/internal/config"
	"github.com/nholik/relay-sentinel/internal/notify"
	"github.com/nholik/relay-sentinel/internal/watchdog"
	"github.com/rs/zerolog"
)

type fakeHost struct {
	mu         sync.Mutex
	listening  map[int]bool
	running    map[string]bool
	restartErr error
	restarts   []string
}

func (h *fakeHost) ProbeTCP(_ context.Context, _ string, port int, _ time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listening[port]
}

func (h *fakeHost) IsRunning(_ context.Context, ref string, _ time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running[ref]
}

// Restart brings the container and its port back unless restartErr is set.
func (h *fakeHost) Restart(_ context.Context, ref string, _ time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restarts = append(h.restarts, ref)
	if h.restartErr != nil {
		return h.restartErr
	}
	h.running[ref] = true
	for _, spec := range watchdog.DefaultServices() {
		if spec.ProcessRef == ref {
			h.listening[spec.Port] = true
		}
	}
	return nil
}

func healthyHost() *fakeHost {
	return &fakeHost{
		listening: map[int]bool{443: true, 8388: true},
		running:   map[string]bool{"xray-reality": true, "shadowsocks-fallback": true},
	}
}

func testConfig() config.Config {
	return config.Config{
		PollInterval: time.Minute,
		Timeouts: watchdog.Timeouts{
			Probe:   50 * time.Millisecond,
			Status:  50 * time.Millisecond,
			Restart: 100 * time.Millisecond,
			Settle:  time.Millisecond,
			Notify:  100 * time.Millisecond,
		},
		ProbeHost: "127.0.0.1",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

func testApp(cfg config.Config, host *fakeHost) (*app, *bytes.Buffer) {
	stdout := &bytes.Buffer{}
	a := &app{
		stdout:     stdout,
		stderr:     &bytes.Buffer{},
		loadConfig: func() (config.Config, error) { return cfg, nil },
		newLogger:  func(config.Config) zerolog.Logger { return zerolog.Nop() },
		newProbes: func(context.Context, zerolog.Logger, config.Config) (watchdog.Probes, func(), error) {
			return watchdog.Probes{Ports: host, Containers: host, Restarter: host}, func() {}, nil
		},
		hostname: func() string { return "relay-1" },
	}
	a.newNotifier = a.buildNotifier
	return a, stdout
}

// stuckTester never answers until its context ends, like an API that keeps
// replying 429.
type stuckTester struct{}

func (stuckTester) NotifyDown(context.Context, string, int, string) error { return nil }
func (stuckTester) NotifyRestored(context.Context, string) error         { return nil }
func (stuckTester) NotifyTest(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestExecute_RunHealthy(t *testing.T) {
	host := healthyHost()
	a, stdout := testApp(testConfig(), host)

	if code := execute(context.Background(), a, []string{"run"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "xray: healthy") || !strings.Contains(stdout.String(), "shadowsocks: healthy") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
	if len(host.restarts) != 0 {
		t.Fatalf("healthy services must not be restarted: %v", host.restarts)
	}
}

func TestExecute_DefaultCommandRestartsAndRecovers(t *testing.T) {
	host := healthyHost()
	host.listening[443] = false
	host.running["xray-reality"] = false
	a, stdout := testApp(testConfig(), host)

	if code := execute(context.Background(), a, nil); code != exitOK {
		t.Fatalf("expected exit 0 after successful restart, got %d", code)
	}
	if !strings.Contains(stdout.String(), "xray: restarted") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
	if len(host.restarts) != 1 || host.restarts[0] != "xray-reality" {
		t.Fatalf("expected one xray restart, got %v", host.restarts)
	}
}

func TestExecute_RestartFailureExitsOne(t *testing.T) {
	host := healthyHost()
	host.running["shadowsocks-fallback"] = false
	host.restartErr = errors.New("no such container")
	a, stdout := testApp(testConfig(), host)

	if code := execute(context.Background(), a, []string{"run"}); code != exitPassFailed {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stdout.String(), "shadowsocks: restart_failed") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}

func TestExecute_CheckOnlyNeverRestarts(t *testing.T) {
	host := healthyHost()
	host.listening[443] = false
	a, stdout := testApp(testConfig(), host)

	if code := execute(context.Background(), a, []string{"--check-only", "--json"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if len(host.restarts) != 0 {
		t.Fatalf("check must not restart: %v", host.restarts)
	}

	var results map[string]bool
	if err := json.Unmarshal(stdout.Bytes(), &results); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout.String())
	}
	if results["xray"] || !results["shadowsocks"] || len(results) != 2 {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestExecute_CheckNamedService(t *testing.T) {
	host := healthyHost()
	host.running["xray-reality"] = false
	a, stdout := testApp(testConfig(), host)

	if code := execute(context.Background(), a, []string{"check", "xray"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	want := "xray unhealthy: container xray-reality not running"
	if !strings.Contains(stdout.String(), want) {
		t.Fatalf("expected %q in output:\n%s", want, stdout.String())
	}

	if code := execute(context.Background(), a, []string{"check", "wireguard"}); code != exitConfigError {
		t.Fatalf("expected exit 2 for unknown service, got %d", code)
	}
}

func TestExecute_ConfigErrorExitsTwo(t *testing.T) {
	a, _ := testApp(testConfig(), healthyHost())
	a.loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("RS_PROBE_TIMEOUT must be greater than zero")
	}

	if code := execute(context.Background(), a, []string{"run"}); code != exitConfigError {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if code := execute(context.Background(), a, []string{"bogus"}); code != exitConfigError {
		t.Fatalf("expected exit 2 for unknown command, got %d", code)
	}
}

func TestExecute_RunPersistsStateForStatus(t *testing.T) {
	cfg := testConfig()
	cfg.StateFile = filepath.Join(t.TempDir(), "state.json")
	host := healthyHost()
	a, stdout := testApp(cfg, host)

	if code := execute(context.Background(), a, []string{"status"}); code != exitPassFailed {
		t.Fatalf("expected exit 1 before any pass, got %d", code)
	}

	if code := execute(context.Background(), a, []string{"run"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}

	stdout.Reset()
	if code := execute(context.Background(), a, []string{"status"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var st struct {
		Passes        int    `json:"passes"`
		ServiceSource string `json:"service_source"`
		LastReport    struct {
			Outcomes []struct {
				Result string `json:"result"`
			} `json:"outcomes"`
		} `json:"last_report"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v\n%s", err, stdout.String())
	}
	if st.Passes != 1 || st.ServiceSource != "builtin" || len(st.LastReport.Outcomes) != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestExecute_StatusWithoutStateFile(t *testing.T) {
	a, _ := testApp(testConfig(), healthyHost())
	if code := execute(context.Background(), a, []string{"status"}); code != exitConfigError {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestExecute_NotifyTest(t *testing.T) {
	a, _ := testApp(testConfig(), healthyHost())
	if code := execute(context.Background(), a, []string{"notify-test"}); code != exitConfigError {
		t.Fatalf("expected exit 2 without notifiers, got %d", code)
	}

	cfg := testConfig()
	cfg.SlackWebhookURL = "https://hooks.slack.invalid/services/T/B/X"
	cfg.DryRun = true
	a, stdout := testApp(cfg, healthyHost())
	if code := execute(context.Background(), a, []string{"notify-test"}); code != exitOK {
		t.Fatalf("expected exit 0 in dry-run, got %d", code)
	}
	if !strings.Contains(stdout.String(), "test notification sent") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}

func TestExecute_WatchStopsOnCancel(t *testing.T) {
	host := healthyHost()
	a, _ := testApp(testConfig(), host)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- execute(ctx, a, []string{"watch"})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		if code != exitOK {
			t.Fatalf("expected exit 0, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not stop after cancel")
	}
}

func TestExecute_NotifyTestIsBoundedByNotifyTimeout(t *testing.T) {
	a, _ := testApp(testConfig(), healthyHost())
	a.newNotifier = func(zerolog.Logger, config.Config) (notify.Notifier, error) {
		return stuckTester{}, nil
	}

	done := make(chan int, 1)
	go func() {
		done <- execute(context.Background(), a, []string{"notify-test"})
	}()

	select {
	case code := <-done:
		if code != exitPassFailed {
			t.Fatalf("expected exit 1 after the notify timeout, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notify-test did not respect the notify timeout")
	}
}

func TestExecute_StatusUnreadableStateExitsOne(t *testing.T) {
	cfg := testConfig()
	// A directory cannot be read as a state file.
	cfg.StateFile = t.TempDir()
	a, _ := testApp(cfg, healthyHost())

	if code := execute(context.Background(), a, []string{"status"}); code != exitPassFailed {
		t.Fatalf("expected exit 1 for an unreadable state file, got %d", code)
	}
}

func TestExecute_PartialTelegramStillRunsPass(t *testing.T) {
	cfg := testConfig()
	cfg.TelegramBotToken = "123:abc"
	host := healthyHost()
	host.listening[443] = false
	host.running["xray-reality"] = false
	a, stdout := testApp(cfg, host)

	if code := execute(context.Background(), a, []string{"run"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "xray: restarted") {
		t.Fatalf("unexpected output:\n%s", stdout.String())
	}
}
