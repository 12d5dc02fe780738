package monitor

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/workpulse/secwatch/pkg/common"
	"github.com/workpulse/secwatch/pkg/config"
	"github.com/workpulse/secwatch/pkg/infra/audit"
	"github.com/workpulse/secwatch/pkg/infra/geo"
	"github.com/workpulse/secwatch/pkg/infra/prometheus"
	"github.com/workpulse/secwatch/pkg/infra/store"
	"github.com/workpulse/secwatch/pkg/security/attempt"
	"github.com/workpulse/secwatch/pkg/security/behavior"
	"github.com/workpulse/secwatch/pkg/security/blocklist"
	"github.com/workpulse/secwatch/pkg/security/suspicious"
	"github.com/workpulse/secwatch/pkg/types"
)

// SecurityMonitor is the public surface of the engine. It is constructed
// once at process start and injected into every caller; there is no hidden
// global instance.
type SecurityMonitor struct {
	store      store.Store
	attempts   attempt.Tracker
	blocklist  blocklist.Manager
	suspicious suspicious.Tracker
	behavior   behavior.Analyzer
	sink       audit.Sink
	logger     logrus.FieldLogger
	config     config.SecurityConfig
}

type Opts struct {
	BehaviorOpts *behavior.AnalyzerOpts
}

func NewSecurityMonitor(
	s store.Store,
	resolver geo.Resolver,
	sink audit.Sink,
	logger logrus.FieldLogger,
	cfg config.SecurityConfig,
	opts *Opts,
) *SecurityMonitor {
	var behaviorOpts *behavior.AnalyzerOpts
	if opts != nil {
		behaviorOpts = opts.BehaviorOpts
	}
	return &SecurityMonitor{
		store:      s,
		attempts:   attempt.NewTracker(s, logger),
		blocklist:  blocklist.NewManager(s, logger),
		suspicious: suspicious.NewTracker(s, sink, logger, cfg.SuspiciousIPThreshold),
		behavior: behavior.NewAnalyzer(s, resolver, sink, logger, behavior.Config{
			UserActionsPer5Min:      cfg.UserActionsPer5Min,
			RepeatedActionThreshold: cfg.RepeatedActionThreshold,
		}, behaviorOpts),
		sink:   sink,
		logger: logger,
		config: cfg,
	}
}

// TrackCSRFAttempt counts a CSRF probe from ip. It returns true when the
// caller should reject the current request. Crossing the limit never
// creates a block entry by itself; repeated crossings do not escalate
// further here.
func (m *SecurityMonitor) TrackCSRFAttempt(ctx context.Context, ip, path string) bool {
	count, err := m.attempts.Record(ctx, common.CSRFDomain, ip, common.CSRFWindowTTL)
	if err != nil {
		m.logger.WithError(err).Error("invalid csrf attempt input")
		return false
	}
	if count == 0 {
		// Store unavailable, nothing recorded: fail-open.
		return false
	}

	switch {
	case count >= int64(m.config.CSRFMaxAttempts):
		prometheus.CSRFAttemptsTotal.WithLabelValues("blocked").Inc()
		m.audit(ctx, audit.NewEvent(audit.LevelAlert, "csrf_limit_exceeded", ip, map[string]interface{}{
			"path":  path,
			"count": count,
			"limit": m.config.CSRFMaxAttempts,
		}))
		return true
	case count >= int64(m.config.CSRFWarningThreshold):
		prometheus.CSRFAttemptsTotal.WithLabelValues("warning").Inc()
		m.audit(ctx, audit.NewEvent(audit.LevelWarning, "csrf_attempts_elevated", ip, map[string]interface{}{
			"path":  path,
			"count": count,
		}))
		return false
	default:
		prometheus.CSRFAttemptsTotal.WithLabelValues("ok").Inc()
		return false
	}
}

// RecordLoginAttempt records the outcome of a login. Reaching the failure
// limit blocks both the user and the IP, with independent durations. A
// success does not reset prior failures within the window; the counter
// only lapses with its TTL.
func (m *SecurityMonitor) RecordLoginAttempt(ctx context.Context, userID, ip string, success bool) {
	if success {
		m.audit(ctx, audit.NewEvent(audit.LevelInfo, "login_success", userID, map[string]interface{}{
			"ip": ip,
		}))
		return
	}

	prometheus.LoginFailuresTotal.Inc()

	identifier := userID + ":" + ip
	count, err := m.attempts.Record(ctx, common.LoginAttemptDomain, identifier, m.config.LoginBlockDuration)
	if err != nil {
		m.logger.WithError(err).Error("invalid login attempt input")
		return
	}
	if count < int64(m.config.MaxLoginAttempts) {
		return
	}

	if err := m.blocklist.Block(ctx, types.SubjectUser, userID, m.config.LoginBlockDuration); err != nil {
		m.logger.WithError(err).WithField("user_id", userID).Error("failed to block user after login failures")
	}
	if err := m.blocklist.Block(ctx, types.SubjectIP, ip, m.config.IPBlockDuration); err != nil {
		m.logger.WithError(err).WithField("ip", ip).Error("failed to block ip after login failures")
	}

	m.audit(ctx, audit.NewEvent(audit.LevelAlert, "login_failures_exceeded", userID, map[string]interface{}{
		"ip":    ip,
		"count": count,
		"limit": m.config.MaxLoginAttempts,
	}))
}

// IsUserBlocked reports whether the user or the IP currently has an active
// block.
func (m *SecurityMonitor) IsUserBlocked(ctx context.Context, userID, ip string) bool {
	return m.blocklist.IsEitherBlocked(ctx, userID, ip)
}

// TrackSuspiciousIP adds a reason to the IP's case file and reports
// whether the caller should escalate.
func (m *SecurityMonitor) TrackSuspiciousIP(ctx context.Context, ip, reason string) bool {
	escalate, err := m.suspicious.Track(ctx, ip, reason)
	if err != nil {
		m.logger.WithError(err).Error("invalid suspicious ip input")
		return false
	}
	return escalate
}

// TrackUserBehavior appends an activity entry and returns any anomaly
// reports the detectors produced. The caller decides policy.
func (m *SecurityMonitor) TrackUserBehavior(ctx context.Context, userID, action string, metadata map[string]interface{}) []types.AnomalyReport {
	reports, err := m.behavior.Track(ctx, userID, action, metadata)
	if err != nil {
		m.logger.WithError(err).Error("invalid user behavior input")
		return nil
	}
	return reports
}

// BlockUser applies an administrative user block for the configured login
// block duration.
func (m *SecurityMonitor) BlockUser(ctx context.Context, userID, reason string) error {
	if err := m.blocklist.Block(ctx, types.SubjectUser, userID, m.config.LoginBlockDuration); err != nil {
		return err
	}
	m.audit(ctx, audit.NewEvent(audit.LevelAlert, "user_blocked", userID, map[string]interface{}{
		"reason": reason,
	}))
	return nil
}

// BlockIP applies an administrative IP block for the configured IP block
// duration.
func (m *SecurityMonitor) BlockIP(ctx context.Context, ip, reason string) error {
	if err := m.blocklist.Block(ctx, types.SubjectIP, ip, m.config.IPBlockDuration); err != nil {
		return err
	}
	m.audit(ctx, audit.NewEvent(audit.LevelAlert, "ip_blocked", ip, map[string]interface{}{
		"reason": reason,
	}))
	return nil
}

// ClearUserBlock removes a user block regardless of remaining TTL.
func (m *SecurityMonitor) ClearUserBlock(ctx context.Context, userID string) error {
	if err := m.blocklist.Clear(ctx, types.SubjectUser, userID); err != nil {
		return err
	}
	m.audit(ctx, audit.NewEvent(audit.LevelInfo, "user_unblocked", userID, nil))
	return nil
}

// ClearIPBlock removes an IP block regardless of remaining TTL.
func (m *SecurityMonitor) ClearIPBlock(ctx context.Context, ip string) error {
	if err := m.blocklist.Clear(ctx, types.SubjectIP, ip); err != nil {
		return err
	}
	m.audit(ctx, audit.NewEvent(audit.LevelInfo, "ip_unblocked", ip, nil))
	return nil
}

// ExportBlocklist lists all active blocks. Administrative use only.
func (m *SecurityMonitor) ExportBlocklist(ctx context.Context) ([]blocklist.Entry, error) {
	return m.blocklist.List(ctx)
}

// Healthy reports whether the counter store is reachable.
func (m *SecurityMonitor) Healthy(ctx context.Context) bool {
	return m.store.Ping(ctx) == nil
}

func (m *SecurityMonitor) audit(ctx context.Context, event audit.Event) {
	if err := m.sink.Record(ctx, event); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"type":    event.Type,
			"subject": event.Subject,
		}).Warn("failed to record audit event")
	}
}
