// Package webhook delivers lifecycle events to issuer-registered HTTP
// endpoints. Payloads are HMAC-SHA256 signed with the subscription's
// secret; delivery is best-effort with bounded timeouts and consecutive
// failures eventually disable the subscription.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// DeliveryTimeout bounds one delivery attempt.
	DeliveryTimeout = 10 * time.Second

	// MaxConsecutiveFailures disables a subscription once reached.
	MaxConsecutiveFailures = 5

	// Delivery headers.
	HeaderEvent     = "X-AgentID-Event"
	HeaderSignature = "X-AgentID-Signature"
	HeaderTimestamp = "X-AgentID-Timestamp"
	HeaderDelivery  = "X-AgentID-Delivery"
)

// BackoffSchedule is the retry spacing a queued redelivery worker applies
// between consecutive failures of one subscription.
var BackoffSchedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
}

// NextRetry returns the wait before the given (1-based) retry attempt.
// Attempts past the schedule reuse its last entry.
func NextRetry(attempt int) time.Duration {
	if attempt < 1 {
		return BackoffSchedule[0]
	}
	if attempt > len(BackoffSchedule) {
		return BackoffSchedule[len(BackoffSchedule)-1]
	}
	return BackoffSchedule[attempt-1]
}

// Subscription is one issuer-registered delivery target.
type Subscription struct {
	ID       string   `json:"id"`
	IssuerID string   `json:"issuer_id"`
	URL      string   `json:"url"`
	Secret   string   `json:"-"`
	Events   []string `json:"events"` // empty = all events
	Active   bool     `json:"active"`

	ConsecutiveFailures int       `json:"consecutive_failures"`
	CreatedAt           time.Time `json:"created_at"`
}

// wants reports whether the subscription listens for the event.
func (s *Subscription) wants(event string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Payload is the JSON body delivered to subscribers.
type Payload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Sign computes the hex HMAC-SHA256 of the body under the secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received body against its signature header in
// constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Store persists subscriptions and their delivery state.
type Store interface {
	// ListSubscriptions returns the issuer's active subscriptions.
	ListSubscriptions(ctx context.Context, issuerID string) ([]Subscription, error)

	// RecordDelivery updates the failure counter and active flag after an
	// attempt.
	RecordDelivery(ctx context.Context, subscriptionID string, failures int, active bool) error
}

// Dispatcher fans lifecycle events out to subscriptions. It satisfies the
// lifecycle manager's notifier contract: Dispatch returns immediately and
// all failures stay internal.
type Dispatcher struct {
	store  Store
	client *http.Client
	now    func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClient overrides the HTTP client (for testing).
func WithClient(client *http.Client) Option {
	return func(d *Dispatcher) { d.client = client }
}

// WithNow overrides the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher.
func New(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: DeliveryTimeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers the event to every matching subscription in the
// background. The caller's response never waits on delivery.
func (d *Dispatcher) Dispatch(issuerID, event string, data map[string]any) {
	go func() {
		defer func() { _ = recover() }()
		ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout+5*time.Second)
		defer cancel()
		d.deliverAll(ctx, issuerID, event, data)
	}()
}

// DispatchSync delivers the event inline. Used by tests and by redelivery
// workers that manage their own scheduling.
func (d *Dispatcher) DispatchSync(ctx context.Context, issuerID, event string, data map[string]any) {
	d.deliverAll(ctx, issuerID, event, data)
}

func (d *Dispatcher) deliverAll(ctx context.Context, issuerID, event string, data map[string]any) {
	subs, err := d.store.ListSubscriptions(ctx, issuerID)
	if err != nil {
		log.Printf("webhook: subscription listing for issuer %s failed: %v", issuerID, err)
		return
	}
	for i := range subs {
		sub := subs[i]
		if !sub.Active || !sub.wants(event) {
			continue
		}
		if err := d.deliver(ctx, &sub, event, data); err != nil {
			sub.ConsecutiveFailures++
			active := sub.ConsecutiveFailures < MaxConsecutiveFailures
			if !active {
				log.Printf("webhook: disabling subscription %s after %d consecutive failures",
					sub.ID, sub.ConsecutiveFailures)
			}
			d.recordDelivery(ctx, sub.ID, sub.ConsecutiveFailures, active)
			continue
		}
		if sub.ConsecutiveFailures > 0 {
			d.recordDelivery(ctx, sub.ID, 0, true)
		}
	}
}

func (d *Dispatcher) recordDelivery(ctx context.Context, id string, failures int, active bool) {
	if err := d.store.RecordDelivery(ctx, id, failures, active); err != nil {
		log.Printf("webhook: delivery bookkeeping for %s failed: %v", id, err)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event string, data map[string]any) error {
	at := d.now().UTC()
	body, err := json.Marshal(Payload{Event: event, Timestamp: at, Data: data})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderSignature, Sign(sub.Secret, body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(at.Unix(), 10))
	req.Header.Set(HeaderDelivery, uuid.NewString())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", sub.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver to %s: status %d", sub.URL, resp.StatusCode)
	}
	return nil
}

// Test sends a synchronous test event to the URL and reports whether the
// endpoint accepted it. Used when a subscription is registered.
func (d *Dispatcher) Test(ctx context.Context, url, secret string) error {
	sub := Subscription{URL: url, Secret: secret, Active: true}
	return d.deliver(ctx, &sub, "webhook.test", map[string]any{"ping": true})
}
