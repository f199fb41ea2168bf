// Package build drives a single image build to completion: it submits
// a build pod, consumes the pod-phase and log events that pod emits,
// and turns them into the client-facing event stream (spec.md §4.5).
package build

import (
	"context"
)

// EventKind tags the two shapes a BuildEvent can carry.
type EventKind string

const (
	KindPodPhaseChange EventKind = "pod.phasechange"
	KindLog            EventKind = "log"
)

// PodPhase mirrors the subset of Kubernetes pod phases the driver
// reacts to, plus the synthetic "Deleted" phase emitted once the
// watcher observes the build pod's removal.
type PodPhase string

const (
	PodPending   PodPhase = "Pending"
	PodRunning   PodPhase = "Running"
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
	PodDeleted   PodPhase = "Deleted"
	PodUnknown   PodPhase = "Unknown"
)

// LogPayload is the structured shape of a single build-log line, the
// same contract the external builder image writes to stdout.
type LogPayload struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// BuildEvent is the tagged union flowing out of a Build's event queue.
// Exactly one of Phase or Log is meaningful, selected by Kind.
type BuildEvent struct {
	Kind  EventKind
	Phase PodPhase
	Log   LogPayload
}

// Build is the capability a Driver depends on: submit a build pod,
// consume its phase/log events, and stream its tail once running.
// Distinct implementations back this with a real Kubernetes build pod
// or (in tests, and in the reference deployment's FakeBuild mode) a
// scripted sequence of events, per spec.md §12.
type Build interface {
	// Submit schedules the build pod and begins publishing BuildEvents
	// to the channel returned by Events. It returns once the pod has
	// been created (or the scripted fake has queued its events), not
	// once the build completes.
	Submit(ctx context.Context) error

	// StreamLogs begins tailing the build pod's log output, translating
	// each line into a KindLog BuildEvent. Called once the pod reaches
	// PodRunning.
	StreamLogs(ctx context.Context)

	// Events returns the channel BuildEvents are published to. Closed
	// once the underlying pod is deleted or the context is canceled.
	Events() <-chan BuildEvent

	// Stop releases any watch held by the Build. It does not delete the
	// build pod.
	Stop(ctx context.Context) error
}
