package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// logrusSink writes audit events to the structured log. It is the default
// sink when no durable backend is configured.
type logrusSink struct {
	logger logrus.FieldLogger
}

func NewLogrusSink(logger logrus.FieldLogger) Sink {
	return &logrusSink{logger: logger}
}

func (s *logrusSink) Record(ctx context.Context, event Event) error {
	entry := s.logger.WithFields(logrus.Fields{
		"audit_id": event.ID.String(),
		"type":     event.Type,
		"subject":  event.Subject,
		"details":  event.Details,
	})

	switch event.Level {
	case LevelAlert:
		entry.Error("security alert")
	case LevelWarning:
		entry.Warn("security warning")
	default:
		entry.Info("security event")
	}
	return nil
}
