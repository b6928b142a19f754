package events

import (
	"context"
	"fmt"

	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		// Extract common fields from payload if available
		var cardID, jobID, businessID string
		if payload, ok := event.Payload.(map[string]interface{}); ok {
			if id, ok := payload["card_id"].(string); ok {
				cardID = id
			}
			if id, ok := payload["job_id"].(string); ok {
				jobID = id
			}
			if id, ok := payload["business_id"].(string); ok {
				businessID = id
			}
		}

		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if cardID != "" {
			logEvent = logEvent.Str("card_id", cardID)
		}
		if jobID != "" {
			logEvent = logEvent.Str("job_id", jobID)
		}
		if businessID != "" {
			logEvent = logEvent.Str("business_id", businessID)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventCardUploaded,
		interfaces.EventCardAssigned,
		interfaces.EventCardApproved,
		interfaces.EventCardRejected,
		interfaces.EventJobQueued,
		interfaces.EventJobClaimed,
		interfaces.EventJobDone,
		interfaces.EventJobFailed,
		interfaces.EventJobRequeued,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Info().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
