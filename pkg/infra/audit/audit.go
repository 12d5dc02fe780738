package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Level grades an audit event.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelAlert   Level = "ALERT"
)

// Event is a durable record of a security state transition. The engine
// writes events and never reads them back.
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Type      string                 `json:"type"`
	Subject   string                 `json:"subject"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(level Level, eventType, subject string, details map[string]interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Level:     level,
		Type:      eventType,
		Subject:   subject,
		Details:   details,
	}
}

// Sink records security events. Implementations must be safe for
// concurrent use; a failing sink is logged by the caller, never
// propagated.
//
//go:generate mockery --name=Sink --dir=. --output=./mocks --filename=sink_mock.go --case=underscore --with-expecter
type Sink interface {
	Record(ctx context.Context, event Event) error
}
