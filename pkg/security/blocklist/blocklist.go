package blocklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/workpulse/secwatch/pkg/common"
	"github.com/workpulse/secwatch/pkg/infra/prometheus"
	"github.com/workpulse/secwatch/pkg/infra/store"
	"github.com/workpulse/secwatch/pkg/types"
)

var (
	ErrEmptySubject       = errors.New("blocklist: subject id must not be empty")
	ErrInvalidDuration    = errors.New("blocklist: block duration must be positive")
	ErrInvalidSubjectType = errors.New("blocklist: invalid subject type")
)

// Entry describes one active block, as listed administratively.
type Entry struct {
	SubjectType types.SubjectType `json:"subject_type"`
	SubjectID   string            `json:"subject_id"`
}

// Manager maintains time-bounded block entries for user ids and IPs. A
// block is active iff its key exists; it lapses automatically when the TTL
// elapses.
//
//go:generate mockery --name=Manager --dir=. --output=../../../mocks --filename=blocklist_manager_mock.go --case=underscore --with-expecter
type Manager interface {
	// Block sets the block key with the given TTL. Reblocking resets the
	// TTL to the new duration; it does not accumulate.
	Block(ctx context.Context, subjectType types.SubjectType, subjectID string, duration time.Duration) error
	// IsBlocked reports whether the subject currently has an active block.
	// Store unavailability degrades to "not blocked".
	IsBlocked(ctx context.Context, subjectType types.SubjectType, subjectID string) bool
	// IsEitherBlocked reports whether the user OR the ip is blocked. A
	// blocked IP stops all users from it; a blocked user stops them from
	// any IP.
	IsEitherBlocked(ctx context.Context, userID, ip string) bool
	// Clear removes a block regardless of its remaining TTL.
	Clear(ctx context.Context, subjectType types.SubjectType, subjectID string) error
	// List enumerates active blocks. Administrative export only.
	List(ctx context.Context) ([]Entry, error)
}

type manager struct {
	store  store.Store
	logger logrus.FieldLogger
}

func NewManager(s store.Store, logger logrus.FieldLogger) Manager {
	return &manager{
		store:  s,
		logger: logger,
	}
}

func blockKey(subjectType types.SubjectType, subjectID string) (string, error) {
	switch subjectType {
	case types.SubjectIP:
		return fmt.Sprintf(common.BlockedIPKeyPattern, subjectID), nil
	case types.SubjectUser:
		return fmt.Sprintf(common.BlockedUserKeyPattern, subjectID), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSubjectType, subjectType)
	}
}

func (m *manager) Block(ctx context.Context, subjectType types.SubjectType, subjectID string, duration time.Duration) error {
	if subjectID == "" {
		return ErrEmptySubject
	}
	if duration <= 0 {
		return ErrInvalidDuration
	}
	key, err := blockKey(subjectType, subjectID)
	if err != nil {
		return err
	}

	if err := m.store.Set(ctx, key, "1", duration); err != nil {
		return fmt.Errorf("failed to set block entry: %w", err)
	}

	prometheus.BlocksAppliedTotal.WithLabelValues(string(subjectType)).Inc()
	m.logger.WithFields(logrus.Fields{
		"subject_type": subjectType,
		"subject_id":   subjectID,
		"duration":     duration.String(),
	}).Info("block applied")
	return nil
}

func (m *manager) IsBlocked(ctx context.Context, subjectType types.SubjectType, subjectID string) bool {
	if subjectID == "" {
		return false
	}
	key, err := blockKey(subjectType, subjectID)
	if err != nil {
		return false
	}

	blocked, err := m.store.Exists(ctx, key)
	if err != nil {
		prometheus.StoreDegradationsTotal.Inc()
		m.logger.WithError(err).WithField("key", key).Warn("failed to check block entry, treating as not blocked")
		return false
	}
	return blocked
}

func (m *manager) IsEitherBlocked(ctx context.Context, userID, ip string) bool {
	return m.IsBlocked(ctx, types.SubjectUser, userID) || m.IsBlocked(ctx, types.SubjectIP, ip)
}

func (m *manager) Clear(ctx context.Context, subjectType types.SubjectType, subjectID string) error {
	if subjectID == "" {
		return ErrEmptySubject
	}
	key, err := blockKey(subjectType, subjectID)
	if err != nil {
		return err
	}
	if _, err := m.store.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to clear block entry: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"subject_type": subjectType,
		"subject_id":   subjectID,
	}).Info("block cleared")
	return nil
}

func (m *manager) List(ctx context.Context) ([]Entry, error) {
	keys, err := m.store.Keys(ctx, common.BlockedKeysGlob)
	if err != nil {
		return nil, fmt.Errorf("failed to list block entries: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entry, ok := parseBlockKey(key)
		if !ok {
			m.logger.WithField("key", key).Debug("skipping unrecognized block key")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseBlockKey(key string) (Entry, bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "blocked" {
		return Entry{}, false
	}
	switch parts[1] {
	case string(types.SubjectIP):
		return Entry{SubjectType: types.SubjectIP, SubjectID: parts[2]}, true
	case string(types.SubjectUser):
		return Entry{SubjectType: types.SubjectUser, SubjectID: parts[2]}, true
	default:
		return Entry{}, false
	}
}
