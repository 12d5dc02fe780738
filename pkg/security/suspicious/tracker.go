package suspicious

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/workpulse/secwatch/pkg/common"
	"github.com/workpulse/secwatch/pkg/infra/audit"
	"github.com/workpulse/secwatch/pkg/infra/prometheus"
	"github.com/workpulse/secwatch/pkg/infra/store"
	"github.com/workpulse/secwatch/pkg/types"
)

var (
	ErrEmptyIP     = errors.New("suspicious: ip must not be empty")
	ErrEmptyReason = errors.New("suspicious: reason must not be empty")
)

// Tracker accumulates a case file (count plus distinct reasons) per IP over
// a sliding 24h window and raises an alert once the threshold is reached.
//
//go:generate mockery --name=Tracker --dir=. --output=../../../mocks --filename=suspicious_tracker_mock.go --case=underscore --with-expecter
type Tracker interface {
	Track(ctx context.Context, ip, reason string) (bool, error)
}

type tracker struct {
	store     store.Store
	sink      audit.Sink
	logger    logrus.FieldLogger
	threshold int
}

func NewTracker(s store.Store, sink audit.Sink, logger logrus.FieldLogger, threshold int) Tracker {
	return &tracker{
		store:     s,
		sink:      sink,
		logger:    logger,
		threshold: threshold,
	}
}

// Track performs a get-modify-put on the IP's case file. The two store
// operations are not atomic end-to-end: under concurrent suspicious events
// for the same IP a reason may occasionally be dropped. This is a
// monitoring heuristic, not a security boundary, so eventual consistency
// is accepted here rather than fixed with locking.
func (t *tracker) Track(ctx context.Context, ip, reason string) (bool, error) {
	if ip == "" {
		return false, ErrEmptyIP
	}
	if reason == "" {
		return false, ErrEmptyReason
	}

	key := fmt.Sprintf(common.SuspiciousIPKeyPattern, ip)

	activity, err := t.load(ctx, key)
	if err != nil {
		prometheus.StoreDegradationsTotal.Inc()
		t.logger.WithError(err).WithField("ip", ip).Warn("failed to load suspicious activity, continuing fail-open")
		return false, nil
	}

	activity.Count++
	activity.Reasons = addReason(activity.Reasons, reason)

	payload, err := json.Marshal(activity)
	if err != nil {
		return false, fmt.Errorf("failed to marshal suspicious activity: %w", err)
	}

	// Writing refreshes the TTL, so the 24h window slides with every new
	// suspicious event for the IP.
	if err := t.store.Set(ctx, key, string(payload), common.SuspiciousIPTTL); err != nil {
		prometheus.StoreDegradationsTotal.Inc()
		t.logger.WithError(err).WithField("ip", ip).Warn("failed to store suspicious activity, continuing fail-open")
		return false, nil
	}

	if activity.Count < t.threshold {
		return false, nil
	}

	prometheus.SuspiciousIPAlertsTotal.Inc()
	event := audit.NewEvent(audit.LevelAlert, "suspicious_ip_threshold", ip, map[string]interface{}{
		"count":     activity.Count,
		"reasons":   activity.Reasons,
		"threshold": t.threshold,
	})
	if err := t.sink.Record(ctx, event); err != nil {
		t.logger.WithError(err).Warn("failed to record suspicious ip alert")
	}

	return true, nil
}

func (t *tracker) load(ctx context.Context, key string) (types.SuspiciousActivity, error) {
	raw, err := t.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return types.SuspiciousActivity{}, nil
	}
	if err != nil {
		return types.SuspiciousActivity{}, err
	}

	var activity types.SuspiciousActivity
	if err := json.Unmarshal([]byte(raw), &activity); err != nil {
		// A corrupt case file starts over rather than poisoning the window.
		t.logger.WithError(err).WithField("key", key).Warn("discarding corrupt suspicious activity record")
		return types.SuspiciousActivity{}, nil
	}
	return activity, nil
}

// addReason inserts a novel reason keeping the set sorted, so the
// serialized form is deterministic.
func addReason(reasons []string, reason string) []string {
	idx := sort.SearchStrings(reasons, reason)
	if idx < len(reasons) && reasons[idx] == reason {
		return reasons
	}
	reasons = append(reasons, "")
	copy(reasons[idx+1:], reasons[idx:])
	reasons[idx] = reason
	return reasons
}
