// Package events defines the session lifecycle events published by the
// sparcd server and the bus that delivers them.
package events

import (
	"time"

	"github.com/sparc-project/sparcd/internal/calc"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Server lifecycle events
	EventServerListening EventType = "server_listening"
	EventServerStopped   EventType = "server_stopped"

	// Session events
	EventSessionOpened  EventType = "session_opened"
	EventRequestHandled EventType = "request_handled"
	EventStateChanged   EventType = "state_changed"
	EventSessionClosed  EventType = "session_closed"

	// Health events
	EventHeartbeat   EventType = "heartbeat"
	EventHealthAlert EventType = "health_alert"
)

// AllTypes lists every event type in emission order of a typical run.
func AllTypes() []EventType {
	return []EventType{
		EventServerListening,
		EventSessionOpened,
		EventRequestHandled,
		EventStateChanged,
		EventSessionClosed,
		EventServerStopped,
		EventHeartbeat,
		EventHealthAlert,
	}
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// ServerListeningPayload is emitted once the listening socket is bound.
type ServerListeningPayload struct {
	Addr     string `json:"addr"`
	MaxQueue int    `json:"max_queue"`
	Engine   string `json:"engine"`
}

// ServerStoppedPayload is emitted when Serve returns.
type ServerStoppedPayload struct {
	Reason   string `json:"reason"`
	Sessions int    `json:"sessions"`
}

// SessionOpenedPayload is emitted when a driver connection is accepted.
type SessionOpenedPayload struct {
	SessionID string    `json:"session_id"`
	Remote    string    `json:"remote"`
	OpenedAt  time.Time `json:"opened_at"`
}

// RequestHandledPayload describes one dispatched request.
type RequestHandledPayload struct {
	SessionID string        `json:"session_id"`
	Kind      string        `json:"kind"`
	Status    int           `json:"status"`
	Duration  time.Duration `json:"duration"`
	BytesIn   int64         `json:"bytes_in"`
	BytesOut  int64         `json:"bytes_out"`
	Error     string        `json:"error,omitempty"`
}

// StateChangedPayload carries a copy of the calculation state after INIT,
// POSDATA or a computation.
type StateChangedPayload struct {
	SessionID string        `json:"session_id"`
	Snapshot  calc.Snapshot `json:"snapshot"`
}

// SessionClosedPayload is emitted after the session has released its state
// and closed its connection.
type SessionClosedPayload struct {
	SessionID string    `json:"session_id"`
	Remote    string    `json:"remote"`
	Reason    string    `json:"reason"`
	Status    int       `json:"status"`
	Requests  int       `json:"requests"`
	BytesIn   int64     `json:"bytes_in"`
	BytesOut  int64     `json:"bytes_out"`
	ClosedAt  time.Time `json:"closed_at"`
}

// HeartbeatPayload is emitted periodically while sparcd runs.
type HeartbeatPayload struct {
	Sessions  int   `json:"sessions"`
	UptimeSec int64 `json:"uptime_sec"`
}

// HealthAlertPayload reports a health check crossing a threshold.
type HealthAlertPayload struct {
	Check   string `json:"check"`
	Level   string `json:"level"`
	Message string `json:"message"`
}
