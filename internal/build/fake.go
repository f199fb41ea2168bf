package build

import (
	"context"
	"time"
)

// FakeBuild replays a fixed sequence of BuildEvents instead of talking
// to Kubernetes, the "FakeBuild" escape hatch the reference deployment
// uses for local development and for exercising the Driver's state
// machine without a cluster (spec.md §12).
type FakeBuild struct {
	// Script is played back in order, one event per tick of Delay.
	Script []BuildEvent
	// Delay paces playback; zero sends every event immediately.
	Delay time.Duration

	events chan BuildEvent
}

func NewFakeBuild(script []BuildEvent, delay time.Duration) *FakeBuild {
	return &FakeBuild{Script: script, Delay: delay, events: make(chan BuildEvent, len(script)+1)}
}

func (f *FakeBuild) Events() <-chan BuildEvent { return f.events }

func (f *FakeBuild) Submit(ctx context.Context) error {
	go func() {
		defer close(f.events)
		for _, ev := range f.Script {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if f.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(f.Delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case f.events <- ev:
			}
		}
	}()
	return nil
}

// StreamLogs is a no-op: FakeBuild's script already interleaves any
// KindLog events it wants played back.
func (f *FakeBuild) StreamLogs(_ context.Context) {}

func (f *FakeBuild) Stop(_ context.Context) error { return nil }

// SuccessfulBuildScript is a convenience script producing the minimal
// event sequence the driver needs to report a successful build: a
// Pending and a Running transition (to exercise log-stream startup), one
// build log line, then the Deleted event that builder.py's loop treats
// as completion.
func SuccessfulBuildScript() []BuildEvent {
	return []BuildEvent{
		{Kind: KindPodPhaseChange, Phase: PodPending},
		{Kind: KindPodPhaseChange, Phase: PodRunning},
		{Kind: KindLog, Log: LogPayload{Phase: "building", Message: "Step 1/5\n"}},
		{Kind: KindPodPhaseChange, Phase: PodDeleted},
	}
}

// FailedBuildScript produces a log line reporting failure before the
// pod is deleted, matching the only way builder.py can distinguish a
// failed build from a successful one purely from pod-phase events.
func FailedBuildScript() []BuildEvent {
	return []BuildEvent{
		{Kind: KindPodPhaseChange, Phase: PodPending},
		{Kind: KindPodPhaseChange, Phase: PodRunning},
		{Kind: KindLog, Log: LogPayload{Phase: "failed", Message: "build step failed\n"}},
		{Kind: KindPodPhaseChange, Phase: PodDeleted},
	}
}
