package events

import (
	"log/slog"

	"jobrunner/internal/dispatcher"
	"jobrunner/pkg/cloudevent"
)

// BroadcastFunc pushes an event onto the local status stream.
type BroadcastFunc func(name string, data map[string]any)

// Publisher fans lifecycle events out to the observer webhook and the
// local status stream. Both paths are best-effort.
type Publisher struct {
	builder     *Builder
	dispatcher  dispatcher.Dispatcher
	observerURL string
	observerKey string
	broadcast   BroadcastFunc
	logger      *slog.Logger
}

// PublisherConfig holds configuration for a Publisher.
type PublisherConfig struct {
	RunnerID    string
	Dispatcher  dispatcher.Dispatcher // nil disables webhook delivery
	ObserverURL string                // empty disables webhook delivery
	ObserverKey string                // HMAC key for signing, empty = no signing
	Broadcast   BroadcastFunc         // nil disables stream fanout
}

// NewPublisher creates a Publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	return &Publisher{
		builder:     NewBuilder(cfg.RunnerID),
		dispatcher:  cfg.Dispatcher,
		observerURL: cfg.ObserverURL,
		observerKey: cfg.ObserverKey,
		broadcast:   cfg.Broadcast,
		logger:      slog.With("component", "events"),
	}
}

// Builder exposes the underlying event builder.
func (p *Publisher) Builder() *Builder {
	return p.builder
}

// Publish fans an event out to all configured sinks.
func (p *Publisher) Publish(event *cloudevent.CloudEvent) {
	if p.broadcast != nil {
		p.broadcast(ShortName(event.Type), event.Data)
	}

	if p.dispatcher == nil || p.observerURL == "" {
		return
	}
	err := p.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     event,
		Destination: p.observerURL,
		SigningKey:  p.observerKey,
	})
	if err != nil {
		p.logger.Warn("Failed to queue event", "type", event.Type, "error", err)
	}
}

// JobStarted publishes a job started event.
func (p *Publisher) JobStarted(jobKey, applyURL string) {
	p.Publish(p.builder.BuildJobStarted(jobKey, applyURL))
}

// JobCompleted publishes a job completed event.
func (p *Publisher) JobCompleted(jobKey, result string) {
	p.Publish(p.builder.BuildJobCompleted(jobKey, result))
}

// JobsStopped publishes a chain halt event.
func (p *Publisher) JobsStopped(reason string) {
	p.Publish(p.builder.BuildJobsStopped(reason))
}

// JobsDrained publishes a queue drained event.
func (p *Publisher) JobsDrained(processed int) {
	p.Publish(p.builder.BuildJobsDrained(processed))
}
