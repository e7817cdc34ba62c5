// Package a2a evaluates agent-to-agent authorization: whether a requester
// credential holds a live grant for a permission from a grantor credential.
package a2a

import (
	"context"
	"log"
	"time"

	"github.com/agentid/agentid-core/pkg/credential"
)

// Grant authorizes one requester credential to exercise one permission
// against a grantor credential, until valid_until.
type Grant struct {
	ID                    string                 `json:"id"`
	RequesterCredentialID string                 `json:"requester_credential_id"`
	GrantorCredentialID   string                 `json:"grantor_credential_id"`
	Permission            string                 `json:"permission"`
	Constraints           *credential.Conditions `json:"constraints,omitempty"`
	ValidUntil            time.Time              `json:"valid_until"`
	CreatedAt             time.Time              `json:"created_at"`
}

// Store looks up grants.
type Store interface {
	// FindGrant resolves the (requester, grantor, permission) triple.
	// Must return credential.ErrNotFound when no grant exists.
	FindGrant(ctx context.Context, requesterID, grantorID, permission string) (*Grant, error)
}

// Decision is the outcome of one authorization check. Absence of a grant
// is a negative decision, not an error.
type Decision struct {
	Authorized      bool                   `json:"authorized"`
	AuthorizationID string                 `json:"authorization_id,omitempty"`
	Constraints     *credential.Conditions `json:"constraints,omitempty"`
	ValidUntil      *time.Time             `json:"valid_until,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
}

// Checker answers authorization queries. Checks are read-only: they never
// mutate the grant or either credential.
type Checker struct {
	store Store
	now   func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithNow overrides the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// New creates a Checker.
func New(store Store, opts ...Option) *Checker {
	c := &Checker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAuthorization looks up a live grant for the triple. A missing or
// expired grant yields an unauthorized decision; only malformed input and
// store failures are errors.
func (c *Checker) CheckAuthorization(ctx context.Context, requesterID, grantorID, permission string) (*Decision, error) {
	if requesterID == "" || grantorID == "" || permission == "" {
		return nil, credential.NewError(credential.ErrCodeInvalidRequest,
			"requester_credential_id, grantor_credential_id, and permission are required")
	}

	grant, err := c.store.FindGrant(ctx, requesterID, grantorID, permission)
	if err != nil {
		if credential.CodeOf(err) == credential.ErrCodeNotFound {
			return &Decision{Authorized: false, Reason: "no matching grant"}, nil
		}
		if credErr, ok := credential.AsError(err); ok {
			return nil, credErr
		}
		return nil, credential.WrapError(credential.ErrCodeInternal, "grant lookup failed", err)
	}

	if !grant.ValidUntil.IsZero() && !c.now().Before(grant.ValidUntil) {
		log.Printf("a2a: grant %s for requester %s has expired", grant.ID, requesterID)
		return &Decision{Authorized: false, Reason: "grant expired"}, nil
	}

	validUntil := grant.ValidUntil
	return &Decision{
		Authorized:      true,
		AuthorizationID: grant.ID,
		Constraints:     grant.Constraints,
		ValidUntil:      &validUntil,
	}, nil
}
