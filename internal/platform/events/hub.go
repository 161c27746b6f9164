package events

import (
	"context"

	"github.com/clinicflow/waitroom/internal/platform/websocket"
)

// HubSink forwards events to screens subscribed to the clinic's queue topic.
type HubSink struct {
	hub websocket.EventPublisher
}

func NewHubSink(hub websocket.EventPublisher) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Publish(ctx context.Context, ev Event) error {
	return s.hub.Publish(ctx, websocket.Event{
		Type:          ev.Type,
		Topic:         websocket.QueueTopic(ev.ClinicID),
		ClinicID:      ev.ClinicID,
		AppointmentID: ev.AppointmentID,
		Timestamp:     ev.OccurredAt,
		Data:          ev.Data,
	})
}
