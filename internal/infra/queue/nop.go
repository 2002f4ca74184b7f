package queue

import (
	"context"

	"github.com/rs/zerolog"

	"radish-rewards/internal/domain"
)

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates the publisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger.With().Str("component", "events").Logger()}
}

// Publish implements domain.EventPublisher.
func (p *LogPublisher) Publish(_ context.Context, event domain.JobEvent) error {
	p.log.Debug().Str("event_id", event.ID).Str("type", string(event.Type)).Interface("payload", event.Payload).Msg("event published")
	return nil
}

var _ domain.EventPublisher = (*LogPublisher)(nil)
