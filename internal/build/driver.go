package build

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/binderhub-go/coordinator/internal/events"
	"github.com/binderhub-go/coordinator/internal/metrics"
)

// Result is what the coordinator needs to know once Run returns: did
// the build succeed, and how long it took.
type Result struct {
	Succeeded bool
	Duration  time.Duration
}

// Driver consumes one Build's event queue end to end and translates it
// into client-facing frames, mirroring BuildHandler's main build loop
// (spec.md §4.5): Pending is ignored, Running starts log streaming,
// Deleted is success unless a prior log line already reported failure,
// and any other phase is forwarded as-is.
type Driver struct {
	Metrics *metrics.Registry
	Emit    func(events.ClientEvent) error
	Log     logr.Logger
}

// Run submits build and drains its event channel until the pod is
// deleted or ctx is canceled. imageName is only used to populate the
// terminal "built" frame.
func (d *Driver) Run(ctx context.Context, build Build, repo metrics.RepoLabels, imageName string) (Result, error) {
	d.Metrics.BuildsInProgress.Inc()
	defer d.Metrics.BuildsInProgress.Dec()

	start := time.Now()

	if err := d.Emit(events.ClientEvent{Phase: events.PhaseWaiting, Message: "Waiting for build to start...\n"}); err != nil {
		return Result{}, err
	}

	if err := build.Submit(ctx); err != nil {
		return Result{}, err
	}

	logsStarted := false
	failed := false

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case ev, ok := <-build.Events():
			if !ok {
				if err := ctx.Err(); err != nil {
					return Result{}, err
				}
				duration := time.Since(start)
				status := metrics.StatusSuccess
				if failed {
					status = metrics.StatusFailure
				}
				d.Metrics.ObserveBuildTime(status, duration.Seconds())
				d.Metrics.IncBuildCount(status, repo)
				return Result{Succeeded: !failed, Duration: duration}, nil
			}

			switch ev.Kind {
			case KindPodPhaseChange:
				switch ev.Phase {
				case PodPending:
					continue
				case PodDeleted:
					if !failed {
						if err := d.Emit(events.ClientEvent{
							Phase:     events.PhaseBuilt,
							Message:   "Built image, launching...\n",
							ImageName: imageName,
						}); err != nil {
							return Result{}, err
						}
					}
					if err := build.Stop(ctx); err != nil {
						d.Log.Error(err, "stopping build after pod deletion")
					}
					duration := time.Since(start)
					status := metrics.StatusSuccess
					if failed {
						status = metrics.StatusFailure
					}
					d.Metrics.ObserveBuildTime(status, duration.Seconds())
					d.Metrics.IncBuildCount(status, repo)
					return Result{Succeeded: !failed, Duration: duration}, nil
				case PodRunning:
					if !logsStarted {
						logsStarted = true
						go build.StreamLogs(ctx)
					}
					continue
				case PodSucceeded:
					continue
				default:
					if err := d.Emit(events.ClientEvent{Phase: string(ev.Phase)}); err != nil {
						return Result{}, err
					}
				}
			case KindLog:
				if ev.Log.Phase == "failure" || ev.Log.Phase == "failed" {
					failed = true
				}
				if err := d.Emit(events.ClientEvent{Phase: ev.Log.Phase, Message: ev.Log.Message}); err != nil {
					return Result{}, err
				}
			}
		}
	}
}
