package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nholik/relay-sentinel/internal/watchdog"
	"github.com/rs/zerolog"
)

func failedReport(at time.Time) watchdog.Report {
	return watchdog.Report{
		StartedAt: at,
		Duration:  6 * time.Second,
		Outcomes: []watchdog.Outcome{
			{
				Service: watchdog.ServiceSpec{Name: "xray", Port: 443, ProcessRef: "xray-reality"},
				Result:  watchdog.ResultRestartFailed,
				Reason:  "port 443 not listening",
				Detail:  "still unhealthy after restart: port 443 not listening",
			},
			{
				Service: watchdog.ServiceSpec{Name: "shadowsocks", Port: 8388, ProcessRef: "shadowsocks-fallback"},
				Result:  watchdog.ResultHealthy,
			},
		},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")
	store := NewFileStore(path, zerolog.Nop())

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	st := State{ComposeFingerprint: "abc123", ServiceSource: "compose"}
	st.Record(failedReport(now), now)

	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("save state: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	if loaded.ComposeFingerprint != "abc123" || loaded.ServiceSource != "compose" {
		t.Fatalf("unexpected provenance: %+v", loaded)
	}
	if loaded.Passes != 1 {
		t.Fatalf("expected 1 pass, got %d", loaded.Passes)
	}
	if loaded.LastReport == nil || len(loaded.LastReport.Outcomes) != 2 {
		t.Fatalf("expected last report with two outcomes, got %+v", loaded.LastReport)
	}
	if loaded.LastReport.Outcomes[0].Result != watchdog.ResultRestartFailed {
		t.Fatalf("unexpected xray result: %s", loaded.LastReport.Outcomes[0].Result)
	}
	if loaded.LastReport.Outcomes[0].Service.ProcessRef != "xray-reality" {
		t.Fatalf("unexpected process ref: %s", loaded.LastReport.Outcomes[0].Service.ProcessRef)
	}
	if !loaded.LastReport.StartedAt.Equal(now) {
		t.Fatalf("unexpected started at: %s", loaded.LastReport.StartedAt)
	}
	if loaded.LastFailure == nil || !loaded.LastFailure.Failed() {
		t.Fatalf("expected last failure to be kept")
	}
}

func TestState_RecordKeepsLastFailure(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var st State
	st.Record(failedReport(now), now)

	healthy := watchdog.Report{
		StartedAt: now.Add(time.Minute),
		Outcomes: []watchdog.Outcome{
			{Service: watchdog.ServiceSpec{Name: "xray"}, Result: watchdog.ResultHealthy},
		},
	}
	st.Record(healthy, now.Add(time.Minute))

	if st.Passes != 2 {
		t.Fatalf("expected 2 passes, got %d", st.Passes)
	}
	if st.LastReport.Failed() {
		t.Fatalf("last report should be the healthy pass")
	}
	if st.LastFailure == nil || !st.LastFailure.StartedAt.Equal(now) {
		t.Fatalf("last failure should survive healthy passes: %+v", st.LastFailure)
	}
	if !st.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected updated at: %s", st.UpdatedAt)
	}
}

func TestFileStore_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "missing.json")
	store := NewFileStore(path, zerolog.Nop())

	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	if st.Passes != 0 || st.LastReport != nil {
		t.Fatalf("expected empty state, got %+v", st)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")
	store := NewFileStore(path, zerolog.Nop())

	if err := os.WriteFile(path, []byte("{not-json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	if st.Passes != 0 || st.LastReport != nil {
		t.Fatalf("expected empty state, got %+v", st)
	}
}

func TestFileStore_CreatesNestedDirAndLeavesNoTempFiles(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, "nested")
	store := NewFileStore(filepath.Join(dir, "state.json"), zerolog.Nop())

	if err := store.Save(context.Background(), State{Passes: 3}); err != nil {
		t.Fatalf("save state: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Fatalf("expected only state.json, got %v", entries)
	}
	if store.Path() != filepath.Join(dir, "state.json") {
		t.Fatalf("unexpected path: %s", store.Path())
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, State{}); err == nil {
		t.Fatalf("expected save to fail on canceled context")
	}
	if _, err := store.Load(ctx); err == nil {
		t.Fatalf("expected load to fail on canceled context")
	}
}
