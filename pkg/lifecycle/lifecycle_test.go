package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid/agentid-core/pkg/broadcast"
	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/signer"
)

type memStore struct {
	mu          sync.Mutex
	issuers     map[string]*credential.Issuer
	credentials map[string]*credential.Record
}

func newMemStore() *memStore {
	return &memStore{
		issuers:     make(map[string]*credential.Issuer),
		credentials: make(map[string]*credential.Record),
	}
}

func (s *memStore) GetCredential(_ context.Context, id string) (*credential.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.credentials[id]
	if !ok {
		return nil, credential.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *memStore) GetIssuer(_ context.Context, id string) (*credential.Issuer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issuer, ok := s.issuers[id]
	if !ok {
		return nil, credential.ErrIssuerNotFound
	}
	return issuer, nil
}

func (s *memStore) HasActiveCredential(_ context.Context, issuerID, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.credentials {
		if rec.Payload.Issuer.IssuerID == issuerID &&
			rec.Payload.AgentID == agentID &&
			rec.Status == credential.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreateCredential(_ context.Context, rec *credential.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.credentials[rec.Payload.CredentialID] = &clone
	return nil
}

func (s *memStore) UpdateCredential(_ context.Context, rec *credential.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[rec.Payload.CredentialID]; !ok {
		return credential.ErrNotFound
	}
	clone := *rec
	s.credentials[rec.Payload.CredentialID] = &clone
	return nil
}

func (s *memStore) RevokeCredential(_ context.Context, id, reason string, at time.Time) (*credential.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.credentials[id]
	if !ok {
		return nil, credential.ErrNotFound
	}
	rec.Status = credential.StatusRevoked
	rec.RevokedAt = &at
	rec.RevocationReason = reason
	rec.UpdatedAt = at
	clone := *rec
	return &clone, nil
}

func testManager(t *testing.T, opts ...Option) (*Manager, *memStore, *signer.Signer) {
	t.Helper()
	sg, err := signer.New([]byte("test-master-secret"))
	require.NoError(t, err)

	store := newMemStore()
	pub, err := sg.PublicKeyBase64("issuer-001")
	require.NoError(t, err)
	store.issuers["issuer-001"] = &credential.Issuer{
		ID:         "issuer-001",
		Name:       "Acme Corp",
		IssuerType: "organization",
		Verified:   true,
		PublicKey:  pub,
	}

	return New(store, sg, opts...), store, sg
}

func issueOne(t *testing.T, m *Manager) *credential.Record {
	t.Helper()
	rec, err := m.Issue(context.Background(), IssueRequest{
		IssuerID:  "issuer-001",
		AgentID:   "bot-42",
		AgentName: "Order Bot",
		AgentType: "autonomous",
		Permissions: []credential.Permission{
			{Resource: "orders/*", Actions: []string{"read", "create"}},
		},
		ValidityDays: 30,
	})
	require.NoError(t, err)
	return rec
}

func TestIssue(t *testing.T) {
	t.Run("signs and persists a new credential", func(t *testing.T) {
		m, store, sg := testManager(t)
		rec := issueOne(t, m)

		assert.Equal(t, credential.StatusActive, rec.Status)
		assert.NotEmpty(t, rec.Payload.CredentialID)
		assert.NotEmpty(t, rec.Payload.Signature)
		assert.Equal(t, "Acme Corp", rec.Payload.Issuer.Name)
		assert.True(t, rec.Payload.Issuer.IssuerVerified)

		pub, err := sg.PublicKeyBase64("issuer-001")
		require.NoError(t, err)
		assert.NoError(t, signer.VerifySignature(&rec.Payload, rec.Payload.Signature, pub))

		stored, err := store.GetCredential(context.Background(), rec.Payload.CredentialID)
		require.NoError(t, err)
		assert.Equal(t, rec.Payload.Signature, stored.Payload.Signature)
	})

	t.Run("rejects a second active credential for the same agent", func(t *testing.T) {
		m, _, _ := testManager(t)
		issueOne(t, m)

		_, err := m.Issue(context.Background(), IssueRequest{
			IssuerID:  "issuer-001",
			AgentID:   "bot-42",
			AgentName: "Order Bot Again",
		})
		assert.ErrorIs(t, err, credential.ErrLifecycleViolation)
	})

	t.Run("allows reissue after revocation", func(t *testing.T) {
		m, _, _ := testManager(t)
		rec := issueOne(t, m)
		_, err := m.Revoke(context.Background(), rec.Payload.CredentialID, "rotated")
		require.NoError(t, err)

		again, err := m.Issue(context.Background(), IssueRequest{
			IssuerID:  "issuer-001",
			AgentID:   "bot-42",
			AgentName: "Order Bot",
		})
		require.NoError(t, err)
		assert.NotEqual(t, rec.Payload.CredentialID, again.Payload.CredentialID)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		m, _, _ := testManager(t)
		_, err := m.Issue(context.Background(), IssueRequest{IssuerID: "issuer-001"})
		assert.ErrorIs(t, err, credential.ErrInvalidRequest)
	})

	t.Run("rejects unknown issuer", func(t *testing.T) {
		m, _, _ := testManager(t)
		_, err := m.Issue(context.Background(), IssueRequest{
			IssuerID: "issuer-nope", AgentID: "bot-1", AgentName: "Bot",
		})
		assert.ErrorIs(t, err, credential.ErrIssuerNotFound)
	})
}

func TestRenew(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("extends from valid_until when still valid", func(t *testing.T) {
		m, _, _ := testManager(t, WithNow(func() time.Time { return base }))
		rec := issueOne(t, m)
		before := rec.Payload.Constraints.ValidUntil
		beforeSig := rec.Payload.Signature

		renewed, err := m.Renew(context.Background(), rec.Payload.CredentialID, 60)
		require.NoError(t, err)
		assert.Equal(t, before.AddDate(0, 0, 60), renewed.Payload.Constraints.ValidUntil)
		assert.NotEqual(t, beforeSig, renewed.Payload.Signature, "renewal must re-sign")
		assert.Equal(t, rec.Payload.CredentialID, renewed.Payload.CredentialID, "id is stable across renewal")
	})

	t.Run("extends from now when lapsed, reviving the credential", func(t *testing.T) {
		now := base
		m, store, _ := testManager(t, WithNow(func() time.Time { return now }))
		rec := issueOne(t, m)

		// Jump past expiry.
		now = rec.Payload.Constraints.ValidUntil.Add(48 * time.Hour)
		renewed, err := m.Renew(context.Background(), rec.Payload.CredentialID, 30)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 0, 30), renewed.Payload.Constraints.ValidUntil)
		assert.Equal(t, credential.StatusActive, renewed.Status)

		stored, err := store.GetCredential(context.Background(), rec.Payload.CredentialID)
		require.NoError(t, err)
		assert.Equal(t, credential.StatusActive, stored.Status)
	})

	t.Run("revives a suspended credential", func(t *testing.T) {
		m, _, _ := testManager(t)
		rec := issueOne(t, m)
		_, err := m.Suspend(context.Background(), rec.Payload.CredentialID)
		require.NoError(t, err)

		renewed, err := m.Renew(context.Background(), rec.Payload.CredentialID, 30)
		require.NoError(t, err)
		assert.Equal(t, credential.StatusActive, renewed.Status)
	})

	t.Run("rejects revoked credentials", func(t *testing.T) {
		m, _, _ := testManager(t)
		rec := issueOne(t, m)
		_, err := m.Revoke(context.Background(), rec.Payload.CredentialID, "policy violation")
		require.NoError(t, err)

		_, err = m.Renew(context.Background(), rec.Payload.CredentialID, 30)
		assert.ErrorIs(t, err, credential.ErrLifecycleViolation)
	})

	t.Run("rejects out-of-range extend_days", func(t *testing.T) {
		m, _, _ := testManager(t)
		rec := issueOne(t, m)

		for _, days := range []int{0, -5, 366} {
			_, err := m.Renew(context.Background(), rec.Payload.CredentialID, days)
			assert.ErrorIs(t, err, credential.ErrInvalidRequest, "extend_days=%d", days)
		}
	})
}

func TestRevoke(t *testing.T) {
	t.Run("records reason and timestamp", func(t *testing.T) {
		at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		m, _, _ := testManager(t, WithNow(func() time.Time { return at }))
		rec := issueOne(t, m)

		revoked, err := m.Revoke(context.Background(), rec.Payload.CredentialID, "policy violation")
		require.NoError(t, err)
		assert.Equal(t, credential.StatusRevoked, revoked.Status)
		assert.Equal(t, "policy violation", revoked.RevocationReason)
		require.NotNil(t, revoked.RevokedAt)
		assert.Equal(t, at, *revoked.RevokedAt)
		assert.NotEmpty(t, revoked.Payload.Signature, "revocation keeps the signature")
	})

	t.Run("double revoke is rejected", func(t *testing.T) {
		m, _, _ := testManager(t)
		rec := issueOne(t, m)
		_, err := m.Revoke(context.Background(), rec.Payload.CredentialID, "first")
		require.NoError(t, err)

		_, err = m.Revoke(context.Background(), rec.Payload.CredentialID, "second")
		assert.ErrorIs(t, err, credential.ErrLifecycleViolation)
	})

	t.Run("broadcasts to live subscribers", func(t *testing.T) {
		hub := broadcast.NewHub()
		defer hub.Close()
		m, _, _ := testManager(t, WithHub(hub))
		rec := issueOne(t, m)

		ch, cancel := hub.Subscribe()
		defer cancel()

		_, err := m.Revoke(context.Background(), rec.Payload.CredentialID, "compromised")
		require.NoError(t, err)

		select {
		case rev := <-ch:
			assert.Equal(t, rec.Payload.CredentialID, rev.CredentialID)
			assert.Equal(t, "bot-42", rev.AgentID)
			assert.Equal(t, "compromised", rev.Reason)
		case <-time.After(2 * time.Second):
			t.Fatal("no revocation broadcast received")
		}
	})
}

func TestSuspend(t *testing.T) {
	m, _, _ := testManager(t)
	rec := issueOne(t, m)

	suspended, err := m.Suspend(context.Background(), rec.Payload.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, credential.StatusSuspended, suspended.Status)

	_, err = m.Suspend(context.Background(), rec.Payload.CredentialID)
	assert.ErrorIs(t, err, credential.ErrLifecycleViolation)
}

func TestBulkOperations(t *testing.T) {
	t.Run("partial failure never aborts the batch", func(t *testing.T) {
		m, _, _ := testManager(t)
		var ids []string
		for _, agent := range []string{"bot-1", "bot-2", "bot-3"} {
			rec, err := m.Issue(context.Background(), IssueRequest{
				IssuerID: "issuer-001", AgentID: agent, AgentName: agent,
			})
			require.NoError(t, err)
			ids = append(ids, rec.Payload.CredentialID)
		}
		// Pre-revoke the middle one.
		_, err := m.Revoke(context.Background(), ids[1], "early")
		require.NoError(t, err)

		results, err := m.BulkRevoke(context.Background(), ids, "cleanup")
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.True(t, results[0].Success)
		assert.False(t, results[1].Success)
		assert.Equal(t, credential.ErrCodeLifecycleViolation, results[1].Error.Code)
		assert.True(t, results[2].Success)
	})

	t.Run("batch cap", func(t *testing.T) {
		m, _, _ := testManager(t)
		ids := make([]string, MaxBatchSize+1)
		for i := range ids {
			ids[i] = "cred"
		}
		_, err := m.BulkRevoke(context.Background(), ids, "too many")
		require.Error(t, err)
		assert.Equal(t, credential.ErrCodeBatchLimitExceeded, credential.CodeOf(err))
	})

	t.Run("empty batch", func(t *testing.T) {
		m, _, _ := testManager(t)
		_, err := m.BulkRenew(context.Background(), nil, 30)
		assert.ErrorIs(t, err, credential.ErrMissingInput)
	})

	t.Run("bulk renew reports per-item outcomes", func(t *testing.T) {
		m, _, _ := testManager(t)
		rec, err := m.Issue(context.Background(), IssueRequest{
			IssuerID: "issuer-001", AgentID: "bot-9", AgentName: "bot-9",
		})
		require.NoError(t, err)

		results, err := m.BulkRenew(context.Background(), []string{rec.Payload.CredentialID, "missing-id"}, 30)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.True(t, results[0].Success)
		assert.False(t, results[1].Success)
		assert.Equal(t, credential.ErrCodeNotFound, results[1].Error.Code)
	})
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Dispatch(_ string, event string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func TestLifecycleNotifications(t *testing.T) {
	notifier := &recordingNotifier{}
	m, _, _ := testManager(t, WithNotifier(notifier))

	rec := issueOne(t, m)
	_, err := m.Renew(context.Background(), rec.Payload.CredentialID, 30)
	require.NoError(t, err)
	_, err = m.Revoke(context.Background(), rec.Payload.CredentialID, "done")
	require.NoError(t, err)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []string{"credential.issued", "credential.renewed", "credential.revoked"}, notifier.events)
}
