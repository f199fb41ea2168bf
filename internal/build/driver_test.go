package build

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/binderhub-go/coordinator/internal/events"
	"github.com/binderhub-go/coordinator/internal/metrics"
)

func newTestDriver(t *testing.T) (*Driver, []events.ClientEvent) {
	t.Helper()
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	var captured []events.ClientEvent
	d := &Driver{
		Metrics: reg,
		Emit: func(e events.ClientEvent) error {
			captured = append(captured, e)
			return nil
		},
		Log: testr.New(t),
	}
	return d, captured
}

func TestRunSuccessfulBuild(t *testing.T) {
	d, _ := newTestDriver(t)
	var captured []events.ClientEvent
	d.Emit = func(e events.ClientEvent) error {
		captured = append(captured, e)
		return nil
	}

	fb := NewFakeBuild(SuccessfulBuildScript(), 0)
	result, err := d.Run(context.Background(), fb, metrics.RepoLabels{Provider: "gh", Repo: "owner/repo"}, "my-image:abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Succeeded {
		t.Fatal("expected success")
	}

	var gotBuilt bool
	for _, e := range captured {
		if e.Phase == events.PhaseBuilt {
			gotBuilt = true
			if e.ImageName != "my-image:abc123" {
				t.Errorf("built event ImageName = %q", e.ImageName)
			}
		}
	}
	if !gotBuilt {
		t.Fatal("expected a built event")
	}
}

func TestRunFailedBuild(t *testing.T) {
	d, _ := newTestDriver(t)
	var captured []events.ClientEvent
	d.Emit = func(e events.ClientEvent) error {
		captured = append(captured, e)
		return nil
	}

	fb := NewFakeBuild(FailedBuildScript(), 0)
	result, err := d.Run(context.Background(), fb, metrics.RepoLabels{Provider: "gh", Repo: "owner/repo"}, "my-image:abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected failure")
	}

	var sawFailedLog bool
	for _, e := range captured {
		if e.Phase == "failed" && e.Message != "" {
			sawFailedLog = true
		}
	}
	if !sawFailedLog {
		t.Fatal("expected the failed log line to be forwarded")
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	d, _ := newTestDriver(t)
	d.Emit = func(events.ClientEvent) error { return nil }

	fb := NewFakeBuild(SuccessfulBuildScript(), 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, fb, metrics.RepoLabels{Provider: "gh", Repo: "owner/repo"}, "img")
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}
