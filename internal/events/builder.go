// Package events builds and publishes runner lifecycle events.
package events

import (
	"jobrunner/pkg/cloudevent"

	"github.com/google/uuid"
)

// Event types for runner lifecycle callbacks
const (
	TypeJobStarted   = "runner.job.started"
	TypeJobCompleted = "runner.job.completed"
	TypeJobsStopped  = "runner.jobs.stopped"
	TypeJobsDrained  = "runner.jobs.drained"
)

// shortNames maps event types to the compact names used on the
// status stream.
var shortNames = map[string]string{
	TypeJobStarted:   "job_started",
	TypeJobCompleted: "job_completed",
	TypeJobsStopped:  "jobs_stopped",
	TypeJobsDrained:  "all_jobs_completed",
}

// ShortName returns the stream name for an event type, or the type
// itself when no mapping exists.
func ShortName(eventType string) string {
	if s, ok := shortNames[eventType]; ok {
		return s
	}
	return eventType
}

// Builder builds CloudEvents for runner lifecycle events.
type Builder struct {
	source string
}

// NewBuilder creates a Builder. Source identifies the runner emitting
// the events.
func NewBuilder(runnerID string) *Builder {
	return &Builder{source: "runner/" + runnerID}
}

// Build creates a new CloudEvent with the given type, subject and data.
func (b *Builder) Build(eventType, subject string, data map[string]any) *cloudevent.CloudEvent {
	return cloudevent.New(eventType, b.source, subject, uuid.NewString(), data)
}

// BuildJobStarted creates a job started event.
func (b *Builder) BuildJobStarted(jobKey, applyURL string) *cloudevent.CloudEvent {
	return b.Build(TypeJobStarted, jobKey, map[string]any{
		"jobKey":   jobKey,
		"applyUrl": applyURL,
	})
}

// BuildJobCompleted creates a job completed event.
func (b *Builder) BuildJobCompleted(jobKey, result string) *cloudevent.CloudEvent {
	return b.Build(TypeJobCompleted, jobKey, map[string]any{
		"jobKey": jobKey,
		"result": result,
	})
}

// BuildJobsStopped creates a chain halt event carrying the halt reason.
func (b *Builder) BuildJobsStopped(reason string) *cloudevent.CloudEvent {
	return b.Build(TypeJobsStopped, b.source, map[string]any{
		"reason": reason,
	})
}

// BuildJobsDrained creates a queue drained event.
func (b *Builder) BuildJobsDrained(processed int) *cloudevent.CloudEvent {
	return b.Build(TypeJobsDrained, b.source, map[string]any{
		"processed": processed,
	})
}
