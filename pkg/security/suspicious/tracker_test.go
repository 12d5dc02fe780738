package suspicious_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workpulse/secwatch/pkg/infra/audit"
	"github.com/workpulse/secwatch/pkg/infra/store"
	"github.com/workpulse/secwatch/pkg/security/suspicious"
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

func (s *recordingSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

type outageStore struct {
	store.Store
}

func (outageStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func TestTracker_TrackValidation(t *testing.T) {
	tracker := suspicious.NewTracker(store.NewMemoryStore(nil), &recordingSink{}, newTestLogger(), 10)
	ctx := context.Background()

	_, err := tracker.Track(ctx, "", "csrf_probe")
	assert.ErrorIs(t, err, suspicious.ErrEmptyIP)

	_, err = tracker.Track(ctx, "10.0.0.1", "")
	assert.ErrorIs(t, err, suspicious.ErrEmptyReason)
}

func TestTracker_ReasonsAccumulateAsSet(t *testing.T) {
	memStore := store.NewMemoryStore(nil)
	tracker := suspicious.NewTracker(memStore, &recordingSink{}, newTestLogger(), 10)
	ctx := context.Background()

	escalate, err := tracker.Track(ctx, "10.0.0.1", "csrf_probe")
	require.NoError(t, err)
	assert.False(t, escalate)

	escalate, err = tracker.Track(ctx, "10.0.0.1", "csrf_probe")
	require.NoError(t, err)
	assert.False(t, escalate)

	raw, err := memStore.Get(ctx, "security:suspicious_ip:10.0.0.1")
	require.NoError(t, err)

	var activity types.SuspiciousActivity
	require.NoError(t, json.Unmarshal([]byte(raw), &activity))
	assert.Equal(t, 2, activity.Count)
	assert.Equal(t, []string{"csrf_probe"}, activity.Reasons, "identical reasons must not duplicate")
}

func TestTracker_ReasonsStaySorted(t *testing.T) {
	memStore := store.NewMemoryStore(nil)
	tracker := suspicious.NewTracker(memStore, &recordingSink{}, newTestLogger(), 10)
	ctx := context.Background()

	for _, reason := range []string{"rate_limit", "csrf_probe", "bad_token"} {
		_, err := tracker.Track(ctx, "10.0.0.1", reason)
		require.NoError(t, err)
	}

	raw, err := memStore.Get(ctx, "security:suspicious_ip:10.0.0.1")
	require.NoError(t, err)

	var activity types.SuspiciousActivity
	require.NoError(t, json.Unmarshal([]byte(raw), &activity))
	assert.Equal(t, []string{"bad_token", "csrf_probe", "rate_limit"}, activity.Reasons)
}

func TestTracker_EscalatesAtThreshold(t *testing.T) {
	sink := &recordingSink{}
	tracker := suspicious.NewTracker(store.NewMemoryStore(nil), sink, newTestLogger(), 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		escalate, err := tracker.Track(ctx, "10.0.0.1", "csrf_probe")
		require.NoError(t, err)
		assert.False(t, escalate)
	}
	assert.Empty(t, sink.Events())

	escalate, err := tracker.Track(ctx, "10.0.0.1", "csrf_probe")
	require.NoError(t, err)
	assert.True(t, escalate)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.LevelAlert, events[0].Level)
	assert.Equal(t, "suspicious_ip_threshold", events[0].Type)
	assert.Equal(t, "10.0.0.1", events[0].Subject)
}

func TestTracker_WindowSlidesOnEveryEvent(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	memStore := store.NewMemoryStore(&store.MemoryStoreOpts{
		TimeProvider: func() time.Time { return clock },
	})
	tracker := suspicious.NewTracker(memStore, &recordingSink{}, newTestLogger(), 10)
	ctx := context.Background()

	_, err := tracker.Track(ctx, "10.0.0.1", "csrf_probe")
	require.NoError(t, err)

	// 23h later the case file is still alive; tracking refreshes its ttl.
	clock = clock.Add(23 * time.Hour)
	_, err = tracker.Track(ctx, "10.0.0.1", "rate_limit")
	require.NoError(t, err)

	clock = clock.Add(23 * time.Hour)
	raw, err := memStore.Get(ctx, "security:suspicious_ip:10.0.0.1")
	require.NoError(t, err)

	var activity types.SuspiciousActivity
	require.NoError(t, json.Unmarshal([]byte(raw), &activity))
	assert.Equal(t, 2, activity.Count)

	// Once 24h pass with no activity, the case file expires.
	clock = clock.Add(2 * time.Hour)
	_, err = memStore.Get(ctx, "security:suspicious_ip:10.0.0.1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTracker_FailsOpenOnStoreError(t *testing.T) {
	tracker := suspicious.NewTracker(outageStore{}, &recordingSink{}, newTestLogger(), 3)

	escalate, err := tracker.Track(context.Background(), "10.0.0.1", "csrf_probe")
	require.NoError(t, err, "store outage must not surface to the caller")
	assert.False(t, escalate)
}
