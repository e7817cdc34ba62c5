package verifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/signer"
)

type fakeStore struct {
	credentials map[string]*credential.Record
	issuerKeys  map[string]string
}

func (s *fakeStore) GetCredential(_ context.Context, id string) (*credential.Record, error) {
	rec, ok := s.credentials[id]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) GetIssuerPublicKey(_ context.Context, issuerID string) (string, error) {
	key, ok := s.issuerKeys[issuerID]
	if !ok {
		return "", credential.ErrIssuerNotFound
	}
	return key, nil
}

type captureRecorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{done: make(chan struct{}, 16)}
}

func (r *captureRecorder) RecordVerification(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *captureRecorder) wait(t *testing.T) Event {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("verification event was not recorded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func signedRecord(t *testing.T, sg *signer.Signer, issuerID string, from, until time.Time) *credential.Record {
	t.Helper()
	payload := &credential.Payload{
		CredentialID: "cred-001",
		AgentID:      "agent-001",
		AgentName:    "Order Bot",
		AgentType:    "autonomous",
		Issuer: credential.IssuerInfo{
			IssuerID:   issuerID,
			IssuerType: "organization",
			Name:       "Acme Corp",
		},
		Permissions: []credential.Permission{{Resource: "orders/*", Actions: []string{"read"}}},
		Constraints: credential.Constraints{ValidFrom: from, ValidUntil: until},
		IssuedAt:    from,
	}
	sig, err := sg.SignPayload(payload, issuerID)
	require.NoError(t, err)
	payload.Signature = sig
	return &credential.Record{Payload: *payload, Status: credential.StatusActive}
}

func testFixture(t *testing.T) (*fakeStore, *credential.Record, *signer.Signer) {
	t.Helper()
	sg, err := signer.New([]byte("test-master-secret"))
	require.NoError(t, err)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := signedRecord(t, sg, "issuer-001", from, until)

	pub, err := sg.PublicKeyBase64("issuer-001")
	require.NoError(t, err)

	store := &fakeStore{
		credentials: map[string]*credential.Record{rec.Payload.CredentialID: rec},
		issuerKeys:  map[string]string{"issuer-001": pub},
	}
	return store, rec, sg
}

func within(rec *credential.Record) Options {
	return Options{Now: func() time.Time {
		return rec.Payload.Constraints.ValidFrom.Add(24 * time.Hour)
	}}
}

func TestVerifyByID(t *testing.T) {
	t.Run("valid credential", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		v := New(store, nil)

		result, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, within(rec))
		require.NoError(t, err)
		assert.True(t, result.Valid)
		require.NotNil(t, result.Claims)
		assert.Equal(t, "agent-001", result.Claims.AgentID)
		assert.NotEmpty(t, result.RequestID)
		assert.GreaterOrEqual(t, result.VerificationTimeMS, int64(0))
	})

	t.Run("missing id", func(t *testing.T) {
		store, _, _ := testFixture(t)
		v := New(store, nil)

		result, err := v.VerifyByID(context.Background(), "", Options{})
		assert.ErrorIs(t, err, credential.ErrMissingInput)
		assert.False(t, result.Valid)
		assert.NotEmpty(t, result.RequestID)
	})

	t.Run("unknown id", func(t *testing.T) {
		store, _, _ := testFixture(t)
		v := New(store, nil)

		_, err := v.VerifyByID(context.Background(), "cred-nope", Options{})
		assert.ErrorIs(t, err, credential.ErrNotFound)
	})

	t.Run("revoked before window check", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		rec.Status = credential.StatusRevoked
		// Expired as well: status must win.
		v := New(store, nil)

		result, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, Options{Now: func() time.Time {
			return rec.Payload.Constraints.ValidUntil.Add(time.Hour)
		}})
		assert.ErrorIs(t, err, credential.ErrRevoked)
		require.NotNil(t, result.Err)
		assert.Contains(t, result.Err.Message, "revoked")
	})

	t.Run("suspended reported as revoked code", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		rec.Status = credential.StatusSuspended
		v := New(store, nil)

		result, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, within(rec))
		assert.ErrorIs(t, err, credential.ErrRevoked)
		assert.Contains(t, result.Err.Message, "suspended")
	})

	t.Run("not yet valid", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		v := New(store, nil)

		_, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, Options{Now: func() time.Time {
			return rec.Payload.Constraints.ValidFrom.Add(-time.Minute)
		}})
		assert.ErrorIs(t, err, credential.ErrNotYetValid)
	})

	t.Run("expired exactly at valid_until", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		v := New(store, nil)

		_, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, Options{Now: func() time.Time {
			return rec.Payload.Constraints.ValidUntil
		}})
		assert.ErrorIs(t, err, credential.ErrExpired)
	})

	t.Run("tampered payload fails signature", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		rec.Payload.AgentName = "Impostor Bot"
		v := New(store, nil)

		_, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, within(rec))
		assert.ErrorIs(t, err, credential.ErrInvalidSignature)
	})

	t.Run("unknown issuer key", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		delete(store.issuerKeys, "issuer-001")
		v := New(store, nil)

		_, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, within(rec))
		assert.ErrorIs(t, err, credential.ErrIssuerNotFound)
	})
}

func TestVerifyPayload(t *testing.T) {
	t.Run("inline payload verifies against stored issuer key", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		payload := rec.Payload
		v := New(store, nil)

		result, err := v.VerifyPayload(context.Background(), &payload, within(rec))
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("nil payload", func(t *testing.T) {
		store, _, _ := testFixture(t)
		v := New(store, nil)

		_, err := v.VerifyPayload(context.Background(), nil, Options{})
		assert.ErrorIs(t, err, credential.ErrMissingInput)
	})

	t.Run("incomplete payload", func(t *testing.T) {
		store, _, _ := testFixture(t)
		v := New(store, nil)

		_, err := v.VerifyPayload(context.Background(), &credential.Payload{CredentialID: "x"}, Options{})
		assert.ErrorIs(t, err, credential.ErrInvalidRequest)
	})

	t.Run("stored revocation overrides the caller's copy", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		payload := rec.Payload
		rec.Status = credential.StatusRevoked
		v := New(store, nil)

		_, err := v.VerifyPayload(context.Background(), &payload, within(rec))
		assert.ErrorIs(t, err, credential.ErrRevoked)
	})

	t.Run("signature from a different issuer key is rejected", func(t *testing.T) {
		store, rec, sg := testFixture(t)
		other, err := sg.PublicKeyBase64("issuer-002")
		require.NoError(t, err)
		store.issuerKeys["issuer-001"] = other
		payload := rec.Payload
		v := New(store, nil)

		_, err = v.VerifyPayload(context.Background(), &payload, within(rec))
		assert.ErrorIs(t, err, credential.ErrInvalidSignature)
	})
}

func TestVerifierRecordsEvents(t *testing.T) {
	t.Run("success event", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		recorder := newCaptureRecorder()
		v := New(store, recorder)

		result, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, within(rec))
		require.NoError(t, err)

		event := recorder.wait(t)
		assert.True(t, event.Success)
		assert.Equal(t, result.RequestID, event.RequestID)
		assert.Equal(t, "cred-001", event.CredentialID)
		assert.Equal(t, "agent-001", event.AgentID)
		assert.Empty(t, event.FailureCode)
	})

	t.Run("failure event carries the code", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		rec.Status = credential.StatusRevoked
		recorder := newCaptureRecorder()
		v := New(store, recorder)

		_, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, within(rec))
		require.Error(t, err)

		event := recorder.wait(t)
		assert.False(t, event.Success)
		assert.Equal(t, credential.ErrCodeRevoked, event.FailureCode)
	})

	t.Run("panicking recorder does not affect the result", func(t *testing.T) {
		store, rec, _ := testFixture(t)
		v := New(store, panicRecorder{})

		result, err := v.VerifyByID(context.Background(), rec.Payload.CredentialID, within(rec))
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})
}

type panicRecorder struct{}

func (panicRecorder) RecordVerification(context.Context, Event) {
	panic("recorder down")
}
