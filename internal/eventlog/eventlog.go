// Package eventlog is the audit-record sink the coordinator emits to
// on a successful launch (spec.md §4.7 step 8, §12).
package eventlog

import (
	"context"

	"github.com/go-logr/logr"
)

// LaunchRecord is the payload of the "binderhub.jupyter.org/launch"
// schema, version 4.
type LaunchRecord struct {
	Provider string `json:"provider"`
	Spec     string `json:"spec"`
	Ref      string `json:"ref"`
	Status   string `json:"status"`
	Origin   string `json:"origin"`
}

// Sink is the narrow interface the coordinator depends on; spec.md §6
// treats the event log as an external collaborator.
type Sink interface {
	Emit(ctx context.Context, schemaName string, version int, payload any) error
}

// LaunchSchema and LaunchSchemaVersion identify the audit record the
// coordinator emits on every successful launch.
const (
	LaunchSchema        = "binderhub.jupyter.org/launch"
	LaunchSchemaVersion = 4
)

// LogSink is a Sink that writes audit records through a structured
// logger, the default wiring when no external event-log backend (e.g.
// a Kafka topic) is configured.
type LogSink struct {
	Logger logr.Logger
}

func (l LogSink) Emit(_ context.Context, schemaName string, version int, payload any) error {
	l.Logger.Info("event", "schema", schemaName, "version", version, "payload", payload)
	return nil
}
