package revocation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentid/agentid-core/pkg/broadcast"
)

const (
	// reconnectBase and reconnectMax bound the WebSocket reconnect backoff.
	reconnectBase = time.Second
	reconnectMax  = time.Minute

	// DefaultPollInterval drives the fallback poller. Polling runs even
	// while the stream is healthy so missed broadcasts are recovered.
	DefaultPollInterval = time.Minute

	pollTimeout = 10 * time.Second
)

// Handler receives each revocation exactly once per delivery path.
type Handler func(rev broadcast.Revocation)

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	// BaseURL is the service root, e.g. "https://api.agentid.example".
	BaseURL string

	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration

	// HTTPClient overrides the poll client (for testing).
	HTTPClient *http.Client

	// Dialer overrides the WebSocket dialer (for testing).
	Dialer *websocket.Dialer
}

// Subscriber follows the revocation stream over WebSocket, reconnecting
// with exponential backoff, and polls the listing endpoint as a fallback.
// Every revocation it sees lands in the cache and then the handler.
type Subscriber struct {
	cfg     SubscriberConfig
	cache   Cache
	handler Handler

	mu       sync.Mutex
	lastSeen time.Time
}

// NewSubscriber creates a Subscriber. handler may be nil.
func NewSubscriber(cfg SubscriberConfig, cache Cache, handler Handler) (*Subscriber, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: pollTimeout}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Subscriber{cfg: cfg, cache: cache, handler: handler}, nil
}

// Run blocks, maintaining the stream and the fallback poller until the
// context is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	go s.pollLoop(ctx)
	s.streamLoop(ctx)
	return ctx.Err()
}

// streamLoop dials the WebSocket endpoint and re-dials with exponential
// backoff whenever the connection drops.
func (s *Subscriber) streamLoop(ctx context.Context) {
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.stream(ctx); err != nil && ctx.Err() == nil {
			log.Printf("revocation: stream dropped: %v (reconnecting in %s)", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (s *Subscriber) stream(ctx context.Context) error {
	wsURL, err := streamURL(s.cfg.BaseURL)
	if err != nil {
		return err
	}

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Tear the connection down when the context ends so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var rev broadcast.Revocation
		if err := conn.ReadJSON(&rev); err != nil {
			return err
		}
		s.deliver(rev)
	}
}

// pollLoop periodically fetches revocations newer than the last one seen.
func (s *Subscriber) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				log.Printf("revocation: poll failed: %v", err)
			}
		}
	}
}

// Poll fetches revocations since the newest one seen and merges them into
// the cache.
func (s *Subscriber) Poll(ctx context.Context) error {
	endpoint, err := url.JoinPath(s.cfg.BaseURL, "/api/revocations")
	if err != nil {
		return err
	}
	s.mu.Lock()
	since := s.lastSeen
	s.mu.Unlock()
	if !since.IsZero() {
		endpoint += "?since=" + strconv.FormatInt(since.Unix(), 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll %s: status %d", endpoint, resp.StatusCode)
	}

	var listing struct {
		Revocations []broadcast.Revocation `json:"revocations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return fmt.Errorf("decode revocation listing: %w", err)
	}
	for _, rev := range listing.Revocations {
		s.deliver(rev)
	}
	return nil
}

func (s *Subscriber) deliver(rev broadcast.Revocation) {
	s.mu.Lock()
	if rev.RevokedAt.After(s.lastSeen) {
		s.lastSeen = rev.RevokedAt
	}
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.Add(rev); err != nil {
			log.Printf("revocation: cache update for %s failed: %v", rev.CredentialID, err)
		}
	}
	if s.handler != nil {
		s.handler(rev)
	}
}

// streamURL converts the HTTP base URL into the WebSocket stream endpoint.
func streamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u = u.JoinPath("/ws/revocations")
	return u.String(), nil
}
