package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/livesession/internal/connection"
	"github.com/rickgao/livesession/internal/dispatch"
)

// Record is one row of the connection_events table.
type Record struct {
	ID            uuid.UUID
	OccurredAt    time.Time
	Event         string
	ConnectionID  string
	ParticipantID string
	Code          int // close code; 0 when not applicable
	Attempt       int // reconnect attempt; 0 when not applicable
	Detail        string
}

// LifecycleEvents are the event names the writer journals.
var LifecycleEvents = []string{
	connection.EventConnected,
	connection.EventDisconnected,
	connection.EventError,
	connection.EventReconnectScheduled,
	connection.EventReconnectExhausted,
}

// FromEvent converts a lifecycle event into a record. It returns false for
// payloads that are not lifecycle events.
func FromEvent(ev dispatch.Event, participantID string, at time.Time) (Record, bool) {
	rec := Record{
		ID:            uuid.New(),
		OccurredAt:    at,
		Event:         ev.Name,
		ParticipantID: participantID,
	}

	switch v := ev.Data.(type) {
	case connection.Connected:
		rec.ConnectionID = v.ConnectionID
		rec.ParticipantID = v.ParticipantID
		rec.Detail = v.Address
	case connection.Disconnected:
		rec.ConnectionID = v.ConnectionID
		rec.Code = v.Code
		rec.Detail = v.Reason
	case connection.Errored:
		rec.ConnectionID = v.ConnectionID
		if v.Err != nil {
			rec.Detail = v.Err.Error()
		}
	case connection.ReconnectScheduled:
		rec.ConnectionID = v.ConnectionID
		rec.Attempt = v.Attempt
		rec.Detail = v.Delay.String()
	case connection.ReconnectExhausted:
		rec.ParticipantID = v.ParticipantID
		rec.Attempt = v.Attempts
		rec.Detail = v.Address
	default:
		return Record{}, false
	}

	return rec, true
}

// nullable maps zero to SQL NULL.
func nullable(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
