// Package reputation aggregates verification outcomes into per-credential
// counters and derives a composite trust score from them.
package reputation

import (
	"context"
	"log"
	"time"

	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/verifier"
)

// Score weighting. The exact split is a tunable, not a contract; what
// holds is that successes never lower a score and failures never raise one.
const (
	verificationWeight = 0.6
	longevityWeight    = 0.2
	activityWeight     = 0.2

	// longevityHorizonDays is the age at which the longevity component
	// saturates.
	longevityHorizonDays = 365

	// activityWindowDays is how long a successful verification keeps the
	// activity component warm.
	activityWindowDays = 30
)

// Stats holds the accumulated counters for one credential.
type Stats struct {
	CredentialID      string     `json:"credential_id"`
	VerificationCount int64      `json:"verification_count"`
	SuccessCount      int64      `json:"success_count"`
	FailureCount      int64      `json:"failure_count"`
	FirstSeenAt       time.Time  `json:"first_seen_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
}

// Report is Stats plus the derived score.
type Report struct {
	Stats
	TrustScore float64 `json:"trust_score"`
}

// Store persists reputation counters.
type Store interface {
	// UpsertReputation applies one verification outcome to the
	// credential's counters, creating the row on first sight.
	UpsertReputation(ctx context.Context, credentialID string, success bool, at time.Time) error

	// GetReputation returns the counters, or credential.ErrNotFound when
	// the credential has never been verified.
	GetReputation(ctx context.Context, credentialID string) (*Stats, error)
}

// Aggregator consumes verification events and answers score queries. It
// implements the verifier's event-recorder hook.
type Aggregator struct {
	store Store
	now   func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithNow overrides the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator.
func New(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: store, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecordVerification folds one verification event into the counters.
// Store failures are logged and swallowed: bookkeeping never propagates.
func (a *Aggregator) RecordVerification(ctx context.Context, event verifier.Event) {
	if event.CredentialID == "" {
		return
	}
	at := event.At
	if at.IsZero() {
		at = a.now()
	}
	if err := a.store.UpsertReputation(ctx, event.CredentialID, event.Success, at); err != nil {
		log.Printf("reputation: counter update for %s failed: %v", event.CredentialID, err)
	}
}

// Get returns the credential's counters and trust score. A credential with
// no recorded verifications yields a zero-count report with a neutral
// score rather than an error.
func (a *Aggregator) Get(ctx context.Context, credentialID string) (*Report, error) {
	if credentialID == "" {
		return nil, credential.NewError(credential.ErrCodeMissingInput, "credential_id is required")
	}
	stats, err := a.store.GetReputation(ctx, credentialID)
	if err != nil {
		if credential.CodeOf(err) == credential.ErrCodeNotFound {
			empty := Stats{CredentialID: credentialID}
			return &Report{Stats: empty, TrustScore: Score(empty, a.now())}, nil
		}
		if credErr, ok := credential.AsError(err); ok {
			return nil, credErr
		}
		return nil, credential.WrapError(credential.ErrCodeInternal, "reputation lookup failed", err)
	}
	return &Report{Stats: *stats, TrustScore: Score(*stats, a.now())}, nil
}

// Score derives the composite trust score on a 0-100 scale from
// accumulated counters, evaluated at the given instant.
//
// Components:
//   - verification: success ratio over all recorded verifications
//   - longevity: credential age, saturating at longevityHorizonDays
//   - activity: recency of the last successful verification, decaying
//     linearly over activityWindowDays
//
// Failures feed only the ratio's denominator, so a failure can never
// raise the score and a success can never lower it.
func Score(s Stats, now time.Time) float64 {
	var verification float64
	if s.VerificationCount > 0 {
		verification = float64(s.SuccessCount) / float64(s.VerificationCount)
	}

	var longevity float64
	if !s.FirstSeenAt.IsZero() {
		ageDays := now.Sub(s.FirstSeenAt).Hours() / 24
		longevity = clamp01(ageDays / longevityHorizonDays)
	}

	var activity float64
	if s.LastSuccessAt != nil {
		idleDays := now.Sub(*s.LastSuccessAt).Hours() / 24
		activity = clamp01(1 - idleDays/activityWindowDays)
	}

	return 100 * (verificationWeight*verification + longevityWeight*longevity + activityWeight*activity)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Apply folds one outcome into a Stats value. Store implementations use
// this to keep counter semantics in one place.
func Apply(s *Stats, success bool, at time.Time) {
	s.VerificationCount++
	if success {
		s.SuccessCount++
		t := at
		s.LastSuccessAt = &t
	} else {
		s.FailureCount++
	}
	if s.FirstSeenAt.IsZero() || at.Before(s.FirstSeenAt) {
		s.FirstSeenAt = at
	}
	if at.After(s.LastSeenAt) {
		s.LastSeenAt = at
	}
}
