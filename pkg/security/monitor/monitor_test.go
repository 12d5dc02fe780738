package monitor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workpulse/secwatch/pkg/config"
	"github.com/workpulse/secwatch/pkg/infra/audit"
	"github.com/workpulse/secwatch/pkg/infra/geo"
	"github.com/workpulse/secwatch/pkg/infra/store"
	"github.com/workpulse/secwatch/pkg/security/monitor"
	"github.com/workpulse/secwatch/pkg/types"
)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) EventsOfType(eventType string) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []audit.Event
	for _, event := range s.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type brokenStore struct{}

func (brokenStore) Incr(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("connection refused")
}
func (brokenStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}
func (brokenStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return errors.New("connection refused")
}
func (brokenStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return 0, errors.New("connection refused")
}
func (brokenStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return nil, errors.New("connection refused")
}
func (brokenStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{
		CSRFWarningThreshold:    3,
		CSRFMaxAttempts:         5,
		MaxLoginAttempts:        3,
		LoginBlockDuration:      15 * time.Minute,
		IPBlockDuration:         time.Hour,
		SuspiciousIPThreshold:   10,
		UserActionsPer5Min:      100,
		RepeatedActionThreshold: 20,
	}
}

func newTestMonitor(s store.Store, sink audit.Sink) *monitor.SecurityMonitor {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return monitor.NewSecurityMonitor(s, geo.NewNoopResolver(), sink, logger, testSecurityConfig(), nil)
}

func TestMonitor_TrackCSRFAttempt_BlocksAtLimit(t *testing.T) {
	sink := &recordingSink{}
	mon := newTestMonitor(store.NewMemoryStore(nil), sink)
	ctx := context.Background()

	for i := 1; i < 5; i++ {
		assert.False(t, mon.TrackCSRFAttempt(ctx, "10.0.0.1", "/api/users"), "attempt %d must pass", i)
	}
	assert.True(t, mon.TrackCSRFAttempt(ctx, "10.0.0.1", "/api/users"), "final attempt must be rejected")

	assert.Len(t, sink.EventsOfType("csrf_attempts_elevated"), 2, "attempts 3 and 4 warn")
	alerts := sink.EventsOfType("csrf_limit_exceeded")
	require.Len(t, alerts, 1)
	assert.Equal(t, audit.LevelAlert, alerts[0].Level)
	assert.Equal(t, "10.0.0.1", alerts[0].Subject)
}

func TestMonitor_TrackCSRFAttempt_DoesNotCreateBlockEntry(t *testing.T) {
	mon := newTestMonitor(store.NewMemoryStore(nil), &recordingSink{})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		mon.TrackCSRFAttempt(ctx, "10.0.0.1", "/api/users")
	}

	// Crossing the limit rejects the request; it does not block the IP.
	assert.False(t, mon.IsUserBlocked(ctx, "42", "10.0.0.1"))
}

func TestMonitor_RecordLoginAttempt_BlocksUserAndIP(t *testing.T) {
	sink := &recordingSink{}
	mon := newTestMonitor(store.NewMemoryStore(nil), sink)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		mon.RecordLoginAttempt(ctx, "42", "10.0.0.1", false)
		assert.False(t, mon.IsUserBlocked(ctx, "42", "10.0.0.1"))
	}

	mon.RecordLoginAttempt(ctx, "42", "10.0.0.1", false)
	assert.True(t, mon.IsUserBlocked(ctx, "42", "10.0.0.1"))

	// Both subjects are blocked independently.
	assert.True(t, mon.IsUserBlocked(ctx, "42", "203.0.113.9"), "user block holds from any ip")
	assert.True(t, mon.IsUserBlocked(ctx, "other-user", "10.0.0.1"), "ip block stops all users")

	require.Len(t, sink.EventsOfType("login_failures_exceeded"), 1)
}

func TestMonitor_RecordLoginAttempt_SuccessDoesNotResetFailures(t *testing.T) {
	sink := &recordingSink{}
	mon := newTestMonitor(store.NewMemoryStore(nil), sink)
	ctx := context.Background()

	mon.RecordLoginAttempt(ctx, "42", "10.0.0.1", false)
	mon.RecordLoginAttempt(ctx, "42", "10.0.0.1", false)
	mon.RecordLoginAttempt(ctx, "42", "10.0.0.1", true)
	require.Len(t, sink.EventsOfType("login_success"), 1)

	// Prior failures still count within the window.
	mon.RecordLoginAttempt(ctx, "42", "10.0.0.1", false)
	assert.True(t, mon.IsUserBlocked(ctx, "42", "10.0.0.1"))
}

func TestMonitor_RecordLoginAttempt_DistinctIPsTrackSeparately(t *testing.T) {
	mon := newTestMonitor(store.NewMemoryStore(nil), &recordingSink{})
	ctx := context.Background()

	mon.RecordLoginAttempt(ctx, "42", "10.0.0.1", false)
	mon.RecordLoginAttempt(ctx, "42", "10.0.0.1", false)
	mon.RecordLoginAttempt(ctx, "42", "10.0.0.2", false)

	assert.False(t, mon.IsUserBlocked(ctx, "42", "10.0.0.1"), "failures from different ips do not pool")
}

func TestMonitor_BlockAndClearAdministratively(t *testing.T) {
	sink := &recordingSink{}
	mon := newTestMonitor(store.NewMemoryStore(nil), sink)
	ctx := context.Background()

	require.NoError(t, mon.BlockUser(ctx, "42", "manual review"))
	require.NoError(t, mon.BlockIP(ctx, "10.0.0.1", "manual review"))
	assert.True(t, mon.IsUserBlocked(ctx, "42", "203.0.113.9"))
	assert.True(t, mon.IsUserBlocked(ctx, "99", "10.0.0.1"))

	entries, err := mon.ExportBlocklist(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.ElementsMatch(t, []string{"42", "10.0.0.1"}, []string{entries[0].SubjectID, entries[1].SubjectID})

	require.NoError(t, mon.ClearUserBlock(ctx, "42"))
	require.NoError(t, mon.ClearIPBlock(ctx, "10.0.0.1"))
	assert.False(t, mon.IsUserBlocked(ctx, "42", "10.0.0.1"))

	assert.Len(t, sink.EventsOfType("user_blocked"), 1)
	assert.Len(t, sink.EventsOfType("ip_blocked"), 1)
	assert.Len(t, sink.EventsOfType("user_unblocked"), 1)
	assert.Len(t, sink.EventsOfType("ip_unblocked"), 1)
}

func TestMonitor_TrackSuspiciousIP(t *testing.T) {
	sink := &recordingSink{}
	mon := newTestMonitor(store.NewMemoryStore(nil), sink)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		assert.False(t, mon.TrackSuspiciousIP(ctx, "10.0.0.1", "csrf_probe"))
	}
	assert.True(t, mon.TrackSuspiciousIP(ctx, "10.0.0.1", "rate_limit"))
	assert.Len(t, sink.EventsOfType("suspicious_ip_threshold"), 1)
}

func TestMonitor_TrackUserBehavior(t *testing.T) {
	mon := newTestMonitor(store.NewMemoryStore(nil), &recordingSink{})

	reports := mon.TrackUserBehavior(context.Background(), "42", "login", map[string]interface{}{"ip": "10.0.0.1"})
	assert.Empty(t, reports, "a single benign action yields no findings")
}

func TestMonitor_InvalidInputYieldsDefaults(t *testing.T) {
	mon := newTestMonitor(store.NewMemoryStore(nil), &recordingSink{})
	ctx := context.Background()

	assert.False(t, mon.TrackCSRFAttempt(ctx, "", "/api/users"))
	assert.False(t, mon.TrackSuspiciousIP(ctx, "10.0.0.1", ""))
	assert.Nil(t, mon.TrackUserBehavior(ctx, "", "login", nil))
}

func TestMonitor_StoreOutageFailsOpen(t *testing.T) {
	sink := &recordingSink{}
	mon := newTestMonitor(brokenStore{}, sink)
	ctx := context.Background()

	assert.False(t, mon.TrackCSRFAttempt(ctx, "10.0.0.1", "/api/users"))
	assert.False(t, mon.TrackSuspiciousIP(ctx, "10.0.0.1", "csrf_probe"))
	assert.Empty(t, mon.TrackUserBehavior(ctx, "42", "login", nil))
	assert.False(t, mon.IsUserBlocked(ctx, "42", "10.0.0.1"))
	mon.RecordLoginAttempt(ctx, "42", "10.0.0.1", false)

	assert.False(t, mon.Healthy(ctx))
}

func TestMonitor_Healthy(t *testing.T) {
	mon := newTestMonitor(store.NewMemoryStore(nil), &recordingSink{})
	assert.True(t, mon.Healthy(context.Background()))
}

func TestMonitor_ExportBlocklistEmpty(t *testing.T) {
	mon := newTestMonitor(store.NewMemoryStore(nil), &recordingSink{})

	entries, err := mon.ExportBlocklist(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMonitor_SubjectTypesAreDistinct(t *testing.T) {
	mon := newTestMonitor(store.NewMemoryStore(nil), &recordingSink{})
	ctx := context.Background()

	require.NoError(t, mon.BlockUser(ctx, "10.0.0.1", "user id that looks like an ip"))

	entries, err := mon.ExportBlocklist(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.SubjectUser, entries[0].SubjectType)
}
