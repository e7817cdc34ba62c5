package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/verifier"
)

type memRepStore struct {
	stats map[string]*Stats
	fail  error
}

func newMemRepStore() *memRepStore {
	return &memRepStore{stats: make(map[string]*Stats)}
}

func (s *memRepStore) UpsertReputation(_ context.Context, credentialID string, success bool, at time.Time) error {
	if s.fail != nil {
		return s.fail
	}
	st, ok := s.stats[credentialID]
	if !ok {
		st = &Stats{CredentialID: credentialID}
		s.stats[credentialID] = st
	}
	Apply(st, success, at)
	return nil
}

func (s *memRepStore) GetReputation(_ context.Context, credentialID string) (*Stats, error) {
	st, ok := s.stats[credentialID]
	if !ok {
		return nil, credential.ErrNotFound
	}
	clone := *st
	return &clone, nil
}

func TestRecordVerification(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newMemRepStore()
	agg := New(store, WithNow(func() time.Time { return now }))

	event := func(success bool) verifier.Event {
		return verifier.Event{CredentialID: "cred-001", Success: success, At: now}
	}
	agg.RecordVerification(context.Background(), event(true))
	agg.RecordVerification(context.Background(), event(true))
	agg.RecordVerification(context.Background(), event(false))

	report, err := agg.Get(context.Background(), "cred-001")
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.VerificationCount)
	assert.Equal(t, int64(2), report.SuccessCount)
	assert.Equal(t, int64(1), report.FailureCount)
	assert.Equal(t, now, report.FirstSeenAt)
	require.NotNil(t, report.LastSuccessAt)

	t.Run("events without a credential id are ignored", func(t *testing.T) {
		agg.RecordVerification(context.Background(), verifier.Event{Success: true, At: now})
		report, err := agg.Get(context.Background(), "cred-001")
		require.NoError(t, err)
		assert.Equal(t, int64(3), report.VerificationCount)
	})

	t.Run("store failure is swallowed", func(t *testing.T) {
		store.fail = errors.New("db down")
		agg.RecordVerification(context.Background(), event(true))
		store.fail = nil
	})
}

func TestGetUnknownCredential(t *testing.T) {
	agg := New(newMemRepStore())
	report, err := agg.Get(context.Background(), "cred-never-seen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.VerificationCount)
	assert.Equal(t, float64(0), report.TrustScore)

	_, err = agg.Get(context.Background(), "")
	assert.ErrorIs(t, err, credential.ErrMissingInput)
}

func TestScoreMonotonicity(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	seen := now.Add(-10 * 24 * time.Hour)

	base := Stats{
		VerificationCount: 10,
		SuccessCount:      7,
		FailureCount:      3,
		FirstSeenAt:       seen,
		LastSeenAt:        now,
		LastSuccessAt:     &seen,
	}

	t.Run("a success never lowers the score", func(t *testing.T) {
		s := base
		before := Score(s, now)
		Apply(&s, true, now)
		assert.GreaterOrEqual(t, Score(s, now), before)
	})

	t.Run("a failure never raises the score", func(t *testing.T) {
		s := base
		before := Score(s, now)
		Apply(&s, false, now)
		assert.LessOrEqual(t, Score(s, now), before)
	})

	t.Run("repeated failures trend down", func(t *testing.T) {
		s := base
		prev := Score(s, now)
		for i := 0; i < 5; i++ {
			Apply(&s, false, now)
			next := Score(s, now)
			assert.LessOrEqual(t, next, prev)
			prev = next
		}
	})

	t.Run("score is on the 0-100 scale", func(t *testing.T) {
		perfect := Stats{
			VerificationCount: 100,
			SuccessCount:      100,
			FirstSeenAt:       now.Add(-2 * 365 * 24 * time.Hour),
			LastSuccessAt:     &now,
		}
		score := Score(perfect, now)
		assert.Greater(t, score, 99.0)
		assert.LessOrEqual(t, score, 100.0)

		assert.Equal(t, float64(0), Score(Stats{}, now))
	})

	t.Run("older credentials score at least as high on longevity", func(t *testing.T) {
		young := base
		old := base
		old.FirstSeenAt = now.Add(-400 * 24 * time.Hour)
		assert.GreaterOrEqual(t, Score(old, now), Score(young, now))
	})

	t.Run("activity decays with idle time", func(t *testing.T) {
		fresh := base
		freshAt := now
		fresh.LastSuccessAt = &freshAt

		stale := base
		staleAt := now.Add(-40 * 24 * time.Hour)
		stale.LastSuccessAt = &staleAt

		assert.Greater(t, Score(fresh, now), Score(stale, now))
	})
}
