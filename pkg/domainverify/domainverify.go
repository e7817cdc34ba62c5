// Package domainverify proves issuer control of a domain through a DNS
// TXT challenge: the issuer publishes agentid-verify=<token> at the zone
// apex and the verifier looks it up.
package domainverify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// RecordPrefix is the TXT record marker issuers publish.
	RecordPrefix = "agentid-verify="

	// queryTimeout bounds one DNS exchange; lookups must never hang a
	// request.
	queryTimeout = 5 * time.Second

	// DefaultResolver is used when no resolver address is configured.
	DefaultResolver = "8.8.8.8:53"
)

var (
	ErrNoRecord      = errors.New("no verification TXT record found")
	ErrTokenMismatch = errors.New("verification token does not match")
)

// NewToken returns a fresh random challenge token.
func NewToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Record returns the full TXT record value an issuer must publish for the
// token.
func Record(token string) string {
	return RecordPrefix + token
}

// Verifier checks DNS TXT challenges.
type Verifier struct {
	resolver string
	client   *dns.Client
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithResolver overrides the upstream resolver address (host:port).
func WithResolver(addr string) Option {
	return func(v *Verifier) { v.resolver = addr }
}

// New creates a Verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		resolver: DefaultResolver,
		client:   &dns.Client{Timeout: queryTimeout},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Tokens returns every verification token published for the domain.
func (v *Verifier) Tokens(ctx context.Context, domain string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)

	resp, _, err := v.client.ExchangeContext(ctx, msg, v.resolver)
	if err != nil {
		return nil, fmt.Errorf("TXT lookup for %s: %w", domain, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("TXT lookup for %s: rcode %s", domain, dns.RcodeToString[resp.Rcode])
	}

	var tokens []string
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		// Long TXT values arrive as multiple character strings.
		value := strings.Join(txt.Txt, "")
		if strings.HasPrefix(value, RecordPrefix) {
			tokens = append(tokens, strings.TrimPrefix(value, RecordPrefix))
		}
	}
	if len(tokens) == 0 {
		return nil, ErrNoRecord
	}
	return tokens, nil
}

// Verify checks that the domain publishes the expected token.
func (v *Verifier) Verify(ctx context.Context, domain, token string) error {
	if domain == "" || token == "" {
		return errors.New("domain and token are required")
	}
	tokens, err := v.Tokens(ctx, domain)
	if err != nil {
		return err
	}
	for _, published := range tokens {
		if published == token {
			return nil
		}
	}
	return ErrTokenMismatch
}
