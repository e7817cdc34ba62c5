package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSubStore struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func newMemSubStore(subs ...Subscription) *memSubStore {
	s := &memSubStore{subs: make(map[string]*Subscription)}
	for i := range subs {
		sub := subs[i]
		s.subs[sub.ID] = &sub
	}
	return s
}

func (s *memSubStore) ListSubscriptions(_ context.Context, issuerID string) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Subscription
	for _, sub := range s.subs {
		if sub.IssuerID == issuerID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *memSubStore) RecordDelivery(_ context.Context, id string, failures int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		sub.ConsecutiveFailures = failures
		sub.Active = active
	}
	return nil
}

func (s *memSubStore) get(id string) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.subs[id]
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"event":"credential.revoked"}`)
	sig := Sign("topsecret", body)

	assert.True(t, VerifySignature("topsecret", body, sig))
	assert.False(t, VerifySignature("wrong", body, sig))
	assert.False(t, VerifySignature("topsecret", []byte(`{}`), sig))
}

func TestNextRetry(t *testing.T) {
	assert.Equal(t, time.Minute, NextRetry(1))
	assert.Equal(t, 5*time.Minute, NextRetry(2))
	assert.Equal(t, 4*time.Hour, NextRetry(5))
	assert.Equal(t, 4*time.Hour, NextRetry(9), "attempts past the schedule reuse the cap")
	assert.Equal(t, time.Minute, NextRetry(0))
}

func TestDelivery(t *testing.T) {
	type received struct {
		body    []byte
		headers http.Header
	}
	got := make(chan received, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, headers: r.Header.Clone()}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	store := newMemSubStore(Subscription{
		ID:       "sub-001",
		IssuerID: "issuer-001",
		URL:      server.URL,
		Secret:   "topsecret",
		Active:   true,
	})
	d := New(store, WithNow(func() time.Time { return at }))

	d.DispatchSync(context.Background(), "issuer-001", "credential.revoked",
		map[string]any{"credential_id": "cred-001"})

	select {
	case r := <-got:
		assert.Equal(t, "credential.revoked", r.headers.Get(HeaderEvent))
		assert.NotEmpty(t, r.headers.Get(HeaderTimestamp))
		_, parseErr := uuid.Parse(r.headers.Get(HeaderDelivery))
		assert.NoError(t, parseErr)
		assert.Equal(t, "application/json", r.headers.Get("Content-Type"))
		assert.True(t, VerifySignature("topsecret", r.body, r.headers.Get(HeaderSignature)))

		var payload Payload
		require.NoError(t, json.Unmarshal(r.body, &payload))
		assert.Equal(t, "credential.revoked", payload.Event)
		assert.Equal(t, at, payload.Timestamp)
		assert.Equal(t, "cred-001", payload.Data["credential_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery received")
	}
}

func TestEventFilter(t *testing.T) {
	var count int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newMemSubStore(Subscription{
		ID:       "sub-001",
		IssuerID: "issuer-001",
		URL:      server.URL,
		Secret:   "s",
		Events:   []string{"credential.revoked"},
		Active:   true,
	})
	d := New(store)

	d.DispatchSync(context.Background(), "issuer-001", "credential.issued", nil)
	d.DispatchSync(context.Background(), "issuer-001", "credential.revoked", nil)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "only subscribed events are delivered")
}

func TestAutoDisableAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newMemSubStore(Subscription{
		ID:       "sub-001",
		IssuerID: "issuer-001",
		URL:      server.URL,
		Secret:   "s",
		Active:   true,
	})
	d := New(store)

	for i := 0; i < MaxConsecutiveFailures; i++ {
		d.DispatchSync(context.Background(), "issuer-001", "credential.revoked", nil)
	}

	sub := store.get("sub-001")
	assert.False(t, sub.Active, "subscription disabled after %d failures", MaxConsecutiveFailures)
	assert.Equal(t, MaxConsecutiveFailures, sub.ConsecutiveFailures)

	// Disabled subscriptions receive nothing further.
	d.DispatchSync(context.Background(), "issuer-001", "credential.revoked", nil)
	assert.Equal(t, MaxConsecutiveFailures, store.get("sub-001").ConsecutiveFailures)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	var healthy bool
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := newMemSubStore(Subscription{
		ID: "sub-001", IssuerID: "issuer-001", URL: server.URL, Secret: "s", Active: true,
	})
	d := New(store)

	d.DispatchSync(context.Background(), "issuer-001", "credential.revoked", nil)
	d.DispatchSync(context.Background(), "issuer-001", "credential.revoked", nil)
	assert.Equal(t, 2, store.get("sub-001").ConsecutiveFailures)

	mu.Lock()
	healthy = true
	mu.Unlock()
	d.DispatchSync(context.Background(), "issuer-001", "credential.revoked", nil)
	assert.Equal(t, 0, store.get("sub-001").ConsecutiveFailures)
	assert.True(t, store.get("sub-001").Active)
}

func TestTestDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "webhook.test", r.Header.Get(HeaderEvent))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := New(newMemSubStore())
	assert.NoError(t, d.Test(context.Background(), server.URL, "s"))
	assert.Error(t, d.Test(context.Background(), "http://127.0.0.1:1/nope", "s"))
}
