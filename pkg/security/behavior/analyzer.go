package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/workpulse/secwatch/pkg/common"
	"github.com/workpulse/secwatch/pkg/infra/audit"
	"github.com/workpulse/secwatch/pkg/infra/geo"
	"github.com/workpulse/secwatch/pkg/infra/prometheus"
	"github.com/workpulse/secwatch/pkg/infra/store"
	"github.com/workpulse/secwatch/pkg/infra/useragent"
	"github.com/workpulse/secwatch/pkg/types"
)

var (
	ErrEmptyUserID = errors.New("behavior: user id must not be empty")
	ErrEmptyAction = errors.New("behavior: action must not be empty")
)

const (
	frequencyWindow   = 5 * time.Minute
	geographicWindow  = 1 * time.Hour
	timePatternWindow = 1 * time.Hour

	distinctCountryLimit   = 3
	nightActivityThreshold = 10
)

// Config carries the analyzer's tunable thresholds.
type Config struct {
	UserActionsPer5Min      int
	RepeatedActionThreshold int
}

// Analyzer maintains a bounded recent-activity log per user and runs four
// heuristics over it. It only detects and reports; blocking policy belongs
// to the caller.
//
//go:generate mockery --name=Analyzer --dir=. --output=../../../mocks --filename=behavior_analyzer_mock.go --case=underscore --with-expecter
type Analyzer interface {
	Track(ctx context.Context, userID, action string, metadata map[string]interface{}) ([]types.AnomalyReport, error)
}

type AnalyzerOpts struct {
	TimeProvider func() time.Time
}

type analyzer struct {
	store        store.Store
	resolver     geo.Resolver
	sink         audit.Sink
	logger       logrus.FieldLogger
	config       Config
	timeProvider func() time.Time
}

func NewAnalyzer(
	s store.Store,
	resolver geo.Resolver,
	sink audit.Sink,
	logger logrus.FieldLogger,
	config Config,
	opts *AnalyzerOpts,
) Analyzer {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &analyzer{
		store:        s,
		resolver:     resolver,
		sink:         sink,
		logger:       logger,
		config:       config,
		timeProvider: timeProvider,
	}
}

func (a *analyzer) Track(ctx context.Context, userID, action string, metadata map[string]interface{}) ([]types.AnomalyReport, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if action == "" {
		return nil, ErrEmptyAction
	}

	key := fmt.Sprintf(common.UserBehaviorKeyPattern, userID)
	now := a.timeProvider()

	entries, err := a.load(ctx, key)
	if err != nil {
		prometheus.StoreDegradationsTotal.Inc()
		a.logger.WithError(err).WithField("user_id", userID).Warn("failed to load activity log, continuing fail-open")
		return nil, nil
	}

	current := newEntry(now, action, metadata)
	entries = append(entries, current)
	// Strict FIFO cap: the oldest entries are the ones evicted.
	if len(entries) > common.UserBehaviorMaxSize {
		entries = entries[len(entries)-common.UserBehaviorMaxSize:]
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity log: %w", err)
	}
	// Every write refreshes the 24h TTL.
	if err := a.store.Set(ctx, key, string(payload), common.UserBehaviorTTL); err != nil {
		prometheus.StoreDegradationsTotal.Inc()
		a.logger.WithError(err).WithField("user_id", userID).Warn("failed to store activity log, continuing fail-open")
		return nil, nil
	}

	// Detector-declaration order, stable for deterministic consumers.
	var reports []types.AnomalyReport
	reports = append(reports, a.detectHighFrequency(entries, now)...)
	reports = append(reports, a.detectRepeatedActions(entries, now)...)
	reports = append(reports, a.detectGeographicAnomaly(ctx, entries, now)...)
	reports = append(reports, a.detectUnusualTimePattern(entries, now)...)

	if len(reports) > 0 {
		a.report(ctx, userID, current, reports)
	}

	return reports, nil
}

func newEntry(now time.Time, action string, metadata map[string]interface{}) types.ActivityEntry {
	entry := types.ActivityEntry{
		Timestamp: now,
		Action:    action,
	}
	if len(metadata) == 0 {
		return entry
	}

	rest := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		switch k {
		case "ip":
			if ip, ok := v.(string); ok {
				entry.IP = ip
				continue
			}
		case "user_agent":
			if ua, ok := v.(string); ok {
				entry.UserAgent = ua
				continue
			}
		}
		rest[k] = v
	}
	if len(rest) > 0 {
		entry.Metadata = rest
	}
	return entry
}

func (a *analyzer) load(ctx context.Context, key string) ([]types.ActivityEntry, error) {
	raw, err := a.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []types.ActivityEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		a.logger.WithError(err).WithField("key", key).Warn("discarding corrupt activity log")
		return nil, nil
	}
	return entries, nil
}

func (a *analyzer) detectHighFrequency(entries []types.ActivityEntry, now time.Time) []types.AnomalyReport {
	cutoff := now.Add(-frequencyWindow)
	count := 0
	for _, entry := range entries {
		if !entry.Timestamp.Before(cutoff) {
			count++
		}
	}
	if count < a.config.UserActionsPer5Min {
		return nil
	}
	return []types.AnomalyReport{{
		Type:     types.AnomalyHighFrequency,
		Severity: types.SeverityHigh,
		Details: map[string]interface{}{
			"count":     count,
			"timeframe": "5min",
		},
	}}
}

func (a *analyzer) detectRepeatedActions(entries []types.ActivityEntry, now time.Time) []types.AnomalyReport {
	cutoff := now.Add(-frequencyWindow)
	counts := make(map[string]int)
	var order []string
	for _, entry := range entries {
		if entry.Timestamp.Before(cutoff) {
			continue
		}
		if _, seen := counts[entry.Action]; !seen {
			order = append(order, entry.Action)
		}
		counts[entry.Action]++
	}

	// One report per qualifying action, in first-seen order.
	var reports []types.AnomalyReport
	for _, action := range order {
		if counts[action] < a.config.RepeatedActionThreshold {
			continue
		}
		reports = append(reports, types.AnomalyReport{
			Type:     types.AnomalyRepeatedAction,
			Severity: types.SeverityMedium,
			Details: map[string]interface{}{
				"action": action,
				"count":  counts[action],
			},
		})
	}
	return reports
}

func (a *analyzer) detectGeographicAnomaly(ctx context.Context, entries []types.ActivityEntry, now time.Time) []types.AnomalyReport {
	cutoff := now.Add(-geographicWindow)

	// Memoize lookups per call; the same IP appears in many entries.
	resolved := make(map[string]string)
	var locations []string
	var ips []string
	seenIPs := make(map[string]bool)

	for _, entry := range entries {
		if entry.Timestamp.Before(cutoff) || entry.IP == "" {
			continue
		}
		if !seenIPs[entry.IP] {
			seenIPs[entry.IP] = true
			ips = append(ips, entry.IP)
		}

		country, cached := resolved[entry.IP]
		if !cached {
			var err error
			country, err = a.resolver.Country(ctx, entry.IP)
			if err != nil {
				// Unknown location: excluded from the distinct-country
				// set, never aborts the detector.
				country = ""
			}
			resolved[entry.IP] = country
		}
		if country == "" {
			continue
		}
		if !contains(locations, country) {
			locations = append(locations, country)
		}
	}

	if len(locations) <= distinctCountryLimit {
		return nil
	}
	return []types.AnomalyReport{{
		Type:     types.AnomalyGeographic,
		Severity: types.SeverityHigh,
		Details: map[string]interface{}{
			"locations": locations,
			"ips":       ips,
			"timeframe": "1hour",
		},
	}}
}

func (a *analyzer) detectUnusualTimePattern(entries []types.ActivityEntry, now time.Time) []types.AnomalyReport {
	cutoff := now.Add(-timePatternWindow)
	count := 0
	for _, entry := range entries {
		if entry.Timestamp.Before(cutoff) {
			continue
		}
		hour := entry.Timestamp.Local().Hour()
		if hour == 23 || hour <= 4 {
			count++
		}
	}
	if count < nightActivityThreshold {
		return nil
	}
	return []types.AnomalyReport{{
		Type:     types.AnomalyUnusualTimePattern,
		Severity: types.SeverityMedium,
		Details: map[string]interface{}{
			"count":     count,
			"timeframe": "1hour",
		},
	}}
}

func (a *analyzer) report(ctx context.Context, userID string, current types.ActivityEntry, reports []types.AnomalyReport) {
	for _, r := range reports {
		prometheus.AnomalyReportsTotal.WithLabelValues(string(r.Type), string(r.Severity)).Inc()
	}

	details := map[string]interface{}{
		"reports": reports,
	}
	if info := useragent.Parse(current.UserAgent); info != nil {
		details["client"] = info
	}
	event := audit.NewEvent(audit.LevelWarning, "user_behavior_anomaly", userID, details)
	if err := a.sink.Record(ctx, event); err != nil {
		a.logger.WithError(err).WithField("user_id", userID).Warn("failed to record anomaly report")
	}
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
