package consumer

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventLogHandler appends consumed run events to run_event_log. Redelivered
// records (same topic, partition and offset) are ignored.
type EventLogHandler struct {
	pool *pgxpool.Pool
}

// NewEventLogHandler constructs a handler backed by the provided pool.
func NewEventLogHandler(pool *pgxpool.Pool) *EventLogHandler {
	return &EventLogHandler{pool: pool}
}

// Handle stores the event payload.
func (h *EventLogHandler) Handle(ctx context.Context, msg Message) error {
	var runID *int64
	if msg.RunID != 0 {
		runID = &msg.RunID
	}
	var eventID *string
	if msg.EventID != "" {
		eventID = &msg.EventID
	}

	_, err := h.pool.Exec(ctx,
		`INSERT INTO run_event_log (event_uuid, event_type, run_id, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
         ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		eventID,
		msg.EventType,
		runID,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	)
	return err
}
