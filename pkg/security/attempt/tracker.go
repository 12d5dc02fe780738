package attempt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/workpulse/secwatch/pkg/common"
	"github.com/workpulse/secwatch/pkg/infra/prometheus"
	"github.com/workpulse/secwatch/pkg/infra/store"
)

var (
	ErrEmptyDomain     = errors.New("attempt: domain must not be empty")
	ErrEmptyIdentifier = errors.New("attempt: identifier must not be empty")
	ErrInvalidWindow   = errors.New("attempt: window must be positive")
)

// Tracker counts rate-sensitive events per identifier within a rolling TTL
// window.
//
//go:generate mockery --name=Tracker --dir=. --output=../../../mocks --filename=attempt_tracker_mock.go --case=underscore --with-expecter
type Tracker interface {
	// Record increments the counter for {domain, identifier} and returns
	// the post-increment count. A count of zero means the store was
	// unavailable and no attempt was recorded (fail-open).
	Record(ctx context.Context, domain, identifier string, window time.Duration) (int64, error)
}

type tracker struct {
	store  store.Store
	logger logrus.FieldLogger
}

func NewTracker(s store.Store, logger logrus.FieldLogger) Tracker {
	return &tracker{
		store:  s,
		logger: logger,
	}
}

func (t *tracker) Record(ctx context.Context, domain, identifier string, window time.Duration) (int64, error) {
	if domain == "" {
		return 0, ErrEmptyDomain
	}
	if identifier == "" {
		return 0, ErrEmptyIdentifier
	}
	if window <= 0 {
		return 0, ErrInvalidWindow
	}

	key := fmt.Sprintf(common.AttemptKeyPattern, domain, identifier)

	count, err := t.store.Incr(ctx, key)
	if err != nil {
		t.degrade(err, key, "failed to increment attempt counter")
		return 0, nil
	}

	// Only the creator of the key sets the TTL. Two concurrent creators can
	// both see 1 only if the key expired between their INCRs, in which case
	// the second EXPIRE merely extends the window by milliseconds; an
	// accepted race.
	if count == 1 {
		if _, err := t.store.Expire(ctx, key, window); err != nil {
			t.degrade(err, key, "failed to set attempt counter ttl")
		}
	}

	return count, nil
}

func (t *tracker) degrade(err error, key, msg string) {
	prometheus.StoreDegradationsTotal.Inc()
	t.logger.WithError(err).WithField("key", key).Warn(msg + ", continuing fail-open")
}
