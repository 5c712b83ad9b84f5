package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

type countingNotifier struct {
	down     int
	restored int
	tests    int
	err      error
}

func (n *countingNotifier) NotifyDown(context.Context, string, int, string) error {
	n.down++
	return n.err
}

func (n *countingNotifier) NotifyRestored(context.Context, string) error {
	n.restored++
	return n.err
}

func (n *countingNotifier) NotifyTest(context.Context) error {
	n.tests++
	return n.err
}

func TestDryRunNotifierSuppressesDelivery(t *testing.T) {
	inner := &countingNotifier{}
	dryRun := NewDryRunNotifier(zerolog.Nop(), inner)

	if err := dryRun.NotifyDown(context.Background(), "xray", 443, "port 443 not listening"); err != nil {
		t.Fatalf("NotifyDown error: %v", err)
	}
	if err := dryRun.NotifyRestored(context.Background(), "xray"); err != nil {
		t.Fatalf("NotifyRestored error: %v", err)
	}
	if err := dryRun.NotifyTest(context.Background()); err != nil {
		t.Fatalf("NotifyTest error: %v", err)
	}
	if inner.down != 0 || inner.restored != 0 || inner.tests != 0 {
		t.Fatalf("expected no notifier calls, got down=%d restored=%d tests=%d", inner.down, inner.restored, inner.tests)
	}
}
