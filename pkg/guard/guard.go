// Package guard authenticates inbound HTTP requests carrying agent
// credentials. Callers sign each request with a shared secret over the
// method, URL, timestamp, credential id, and body hash; the middleware
// checks the credential's standing and the signature before the handler
// runs.
package guard

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentid/agentid-core/pkg/credential"
)

// Request headers.
const (
	HeaderCredential = "X-AgentID-Credential"
	HeaderTimestamp  = "X-AgentID-Timestamp"
	HeaderNonce      = "X-AgentID-Nonce"
	HeaderSignature  = "X-AgentID-Signature"
)

const (
	// DefaultMaxAge is the accepted distance between the request timestamp
	// and server time.
	DefaultMaxAge = 300 * time.Second

	// nonceRetention keeps seen nonces long enough to cover the freshness
	// window on both sides.
	nonceRetention = 2 * DefaultMaxAge
)

var (
	ErrMissingHeaders   = errors.New("missing credential headers")
	ErrStaleTimestamp   = errors.New("request timestamp outside the freshness window")
	ErrReplayedNonce    = errors.New("nonce already used")
	ErrInvalidSignature = errors.New("request signature mismatch")
)

// CredentialChecker validates the credential's standing and returns its
// verified claims.
type CredentialChecker interface {
	CheckCredential(ctx context.Context, credentialID string) (*credential.Claims, error)
}

// SecretResolver returns the shared HMAC secret for a credential.
type SecretResolver interface {
	Secret(ctx context.Context, credentialID string) (string, error)
}

// SigningString builds the canonical request string that gets signed:
// method, URL, timestamp, credential id, and the hex SHA-256 of the body,
// newline-joined.
func SigningString(method, url, timestamp, credentialID string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	return strings.Join([]string{
		strings.ToUpper(method),
		url,
		timestamp,
		credentialID,
		hex.EncodeToString(bodyHash[:]),
	}, "\n")
}

// SignRequest computes the request signature a client sends in
// HeaderSignature.
func SignRequest(secret, method, url, timestamp, credentialID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SigningString(method, url, timestamp, credentialID, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Attach signs an outbound request in place: sets the credential,
// timestamp, nonce, and signature headers.
func Attach(req *http.Request, credentialID, secret, nonce string, body []byte, at time.Time) {
	ts := strconv.FormatInt(at.Unix(), 10)
	req.Header.Set(HeaderCredential, credentialID)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature,
		SignRequest(secret, req.Method, req.URL.RequestURI(), ts, credentialID, body))
}

// Guard verifies inbound signed requests.
type Guard struct {
	checker CredentialChecker
	secrets SecretResolver
	maxAge  time.Duration
	now     func() time.Time

	mu     sync.Mutex
	nonces map[string]time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithMaxAge overrides the freshness window.
func WithMaxAge(d time.Duration) Option {
	return func(g *Guard) { g.maxAge = d }
}

// WithNow overrides the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New creates a Guard.
func New(checker CredentialChecker, secrets SecretResolver, opts ...Option) *Guard {
	g := &Guard{
		checker: checker,
		secrets: secrets,
		maxAge:  DefaultMaxAge,
		now:     time.Now,
		nonces:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// VerifyInbound checks headers, freshness, nonce uniqueness, credential
// standing, and the request signature, in that order. Returns the
// credential's verified claims on success.
func (g *Guard) VerifyInbound(ctx context.Context, method, url string, header http.Header, body []byte) (*credential.Claims, error) {
	credentialID := header.Get(HeaderCredential)
	timestamp := header.Get(HeaderTimestamp)
	signature := header.Get(HeaderSignature)
	if credentialID == "" || timestamp == "" || signature == "" {
		return nil, ErrMissingHeaders
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrMissingHeaders)
	}
	now := g.now()
	age := now.Sub(time.Unix(unix, 0))
	if age > g.maxAge || age < -g.maxAge {
		return nil, ErrStaleTimestamp
	}

	if nonce := header.Get(HeaderNonce); nonce != "" {
		if !g.remember(credentialID+":"+nonce, now) {
			return nil, ErrReplayedNonce
		}
	}

	claims, err := g.checker.CheckCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	secret, err := g.secrets.Secret(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	expected := SignRequest(secret, method, url, timestamp, credentialID, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}

// remember records a nonce, reporting false when it was already seen
// inside the retention window. Expired entries are swept opportunistically.
func (g *Guard) remember(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, seen := range g.nonces {
		if now.Sub(seen) > nonceRetention {
			delete(g.nonces, k)
		}
	}
	if _, dup := g.nonces[key]; dup {
		return false
	}
	g.nonces[key] = now
	return true
}
