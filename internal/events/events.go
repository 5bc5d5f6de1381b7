// Package events publishes trip lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/route-playback/core"
	"github.com/signalsfoundry/route-playback/model"
)

// Source is the CloudEvent source of everything this service emits.
const Source = "route-playback"

// Event types.
const (
	TripStarted   = "trip.started"
	TripPaused    = "trip.paused"
	TripResumed   = "trip.resumed"
	TripReset     = "trip.reset"
	TripCompleted = "trip.completed"
	TripUnmounted = "trip.unmounted"
)

// TypeForChange maps a controller change to an event type. Plain ticks have
// no event.
func TypeForChange(ch core.Change) (string, bool) {
	switch ch.Kind {
	case core.ChangeTick:
		if ch.CompletedTrip() {
			return TripCompleted, true
		}
		return "", false
	case core.ChangePause:
		return TripPaused, true
	case core.ChangeResume:
		return TripResumed, true
	case core.ChangeReset:
		return TripReset, true
	case core.ChangeClose:
		return TripUnmounted, true
	default:
		return "", false
	}
}

// TripEvent is the data payload of every trip event.
type TripEvent struct {
	SessionID    string      `json:"session_id"`
	RouteID      string      `json:"route_id"`
	Variant      string      `json:"variant"`
	CurrentIndex int         `json:"current_index"`
	RouteLength  int         `json:"route_length"`
	Phase        model.Phase `json:"phase"`
	Ticks        int         `json:"ticks"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

// CloudEvent is the envelope written to the broker.
type CloudEvent struct {
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Subject         string          `json:"subject,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// NewCloudEvent wraps data in an envelope with a fresh ID.
func NewCloudEvent(eventType, subject string, data any) (CloudEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return CloudEvent{}, fmt.Errorf("marshal %s data: %w", eventType, err)
	}
	return CloudEvent{
		ID:              uuid.NewString(),
		Source:          Source,
		SpecVersion:     "1.0",
		Type:            eventType,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Subject:         subject,
		Data:            raw,
	}, nil
}

// Publisher delivers trip events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, eventType string, evt TripEvent) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, TripEvent) error { return nil }
func (NoopPublisher) Close() error                                     { return nil }
