// Package policy manages versioned permission policies. Credentials may
// reference a policy instead of carrying a static permission list; editing
// the policy changes authorization outcomes for every attached credential
// immediately, without re-signing anything.
package policy

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/agentid/agentid-core/pkg/credential"
)

// Policy is a named, versioned permission set owned by an issuer.
type Policy struct {
	ID          string                  `json:"id"`
	IssuerID    string                  `json:"issuer_id"`
	Name        string                  `json:"name"`
	Permissions []credential.Permission `json:"permissions"`
	Version     int                     `json:"version"`
	IsActive    bool                    `json:"is_active"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Version is an immutable snapshot appended on every policy update.
type Version struct {
	PolicyID     string                  `json:"policy_id"`
	Version      int                     `json:"version"`
	Permissions  []credential.Permission `json:"permissions"`
	ChangeReason string                  `json:"change_reason"`
	CreatedAt    time.Time               `json:"created_at"`
}

// Store is the persistence surface for policies.
type Store interface {
	GetPolicy(ctx context.Context, id string) (*Policy, error)

	// FindPolicyByName resolves the (issuer, name) pair. Must return
	// credential.ErrNotFound when no policy exists.
	FindPolicyByName(ctx context.Context, issuerID, name string) (*Policy, error)

	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	AppendPolicyVersion(ctx context.Context, v *Version) error
	DeletePolicy(ctx context.Context, id string) error

	// AssignPolicy attaches the policy to the given credentials and
	// returns how many were updated.
	AssignPolicy(ctx context.Context, policyID string, credentialIDs []string) (int64, error)

	// DetachPolicy clears the policy reference from every credential
	// pointing at it and returns the affected count.
	DetachPolicy(ctx context.Context, policyID string) (int64, error)

	// DetachCredentials clears the policy reference from the given
	// credentials where they point at policyID and returns the affected
	// count.
	DetachCredentials(ctx context.Context, policyID string, credentialIDs []string) (int64, error)

	ListPolicyVersions(ctx context.Context, policyID string) ([]Version, error)
}

// Engine coordinates policy writes and check-time resolution.
type Engine struct {
	store Store
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpsertRequest creates or updates a policy identified by (issuer, name).
type UpsertRequest struct {
	IssuerID     string                  `json:"issuer_id"`
	Name         string                  `json:"name"`
	Permissions  []credential.Permission `json:"permissions"`
	ChangeReason string                  `json:"change_reason,omitempty"`
}

// UpsertResult reports whether the call created a new policy and the
// version it landed on.
type UpsertResult struct {
	Policy  *Policy `json:"policy"`
	Created bool    `json:"created"`
	Version int     `json:"version"`
}

// Upsert creates the policy at version 1, or bumps the version and appends
// a snapshot when one already exists for the (issuer, name) pair.
func (e *Engine) Upsert(ctx context.Context, req UpsertRequest) (*UpsertResult, error) {
	if req.IssuerID == "" || req.Name == "" {
		return nil, credential.NewError(credential.ErrCodeInvalidRequest,
			"issuer_id and name are required")
	}
	if len(req.Permissions) == 0 {
		return nil, credential.NewError(credential.ErrCodeInvalidRequest,
			"permissions must not be empty")
	}

	now := e.now().UTC()
	existing, err := e.store.FindPolicyByName(ctx, req.IssuerID, req.Name)
	switch {
	case err == nil:
		existing.Permissions = req.Permissions
		existing.Version++
		existing.UpdatedAt = now
		if err := e.store.UpdatePolicy(ctx, existing); err != nil {
			return nil, wrapStoreErr("policy update failed", err)
		}
		snapshot := &Version{
			PolicyID:     existing.ID,
			Version:      existing.Version,
			Permissions:  req.Permissions,
			ChangeReason: req.ChangeReason,
			CreatedAt:    now,
		}
		if err := e.store.AppendPolicyVersion(ctx, snapshot); err != nil {
			return nil, wrapStoreErr("version snapshot failed", err)
		}
		return &UpsertResult{Policy: existing, Version: existing.Version}, nil

	case credential.CodeOf(err) == credential.ErrCodeNotFound:
		p := &Policy{
			ID:          uuid.NewString(),
			IssuerID:    req.IssuerID,
			Name:        req.Name,
			Permissions: req.Permissions,
			Version:     1,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.store.CreatePolicy(ctx, p); err != nil {
			return nil, wrapStoreErr("policy insert failed", err)
		}
		snapshot := &Version{
			PolicyID:     p.ID,
			Version:      1,
			Permissions:  req.Permissions,
			ChangeReason: req.ChangeReason,
			CreatedAt:    now,
		}
		if err := e.store.AppendPolicyVersion(ctx, snapshot); err != nil {
			return nil, wrapStoreErr("version snapshot failed", err)
		}
		return &UpsertResult{Policy: p, Created: true, Version: 1}, nil

	default:
		return nil, wrapStoreErr("policy lookup failed", err)
	}
}

// Assign attaches a policy to credentials and reports the affected count.
func (e *Engine) Assign(ctx context.Context, policyID string, credentialIDs []string) (int64, error) {
	if policyID == "" || len(credentialIDs) == 0 {
		return 0, credential.NewError(credential.ErrCodeInvalidRequest,
			"policy_id and credential_ids are required")
	}
	if _, err := e.store.GetPolicy(ctx, policyID); err != nil {
		return 0, wrapStoreErr("policy lookup failed", err)
	}
	n, err := e.store.AssignPolicy(ctx, policyID, credentialIDs)
	if err != nil {
		return 0, wrapStoreErr("policy assignment failed", err)
	}
	return n, nil
}

// Remove detaches a policy from the given credentials and reports the
// affected count. Each detached credential falls back to its static
// permissions; the policy itself is untouched. Credentials attached to a
// different policy (or none) are left alone and not counted.
func (e *Engine) Remove(ctx context.Context, policyID string, credentialIDs []string) (int64, error) {
	if policyID == "" || len(credentialIDs) == 0 {
		return 0, credential.NewError(credential.ErrCodeInvalidRequest,
			"policy_id and credential_ids are required")
	}
	if _, err := e.store.GetPolicy(ctx, policyID); err != nil {
		return 0, wrapStoreErr("policy lookup failed", err)
	}
	n, err := e.store.DetachCredentials(ctx, policyID, credentialIDs)
	if err != nil {
		return 0, wrapStoreErr("policy removal failed", err)
	}
	return n, nil
}

// Delete removes a policy after detaching every credential referencing it.
// Detached credentials fall back to their own static permissions; nothing
// is revoked. Returns the detached count.
func (e *Engine) Delete(ctx context.Context, policyID string) (int64, error) {
	if policyID == "" {
		return 0, credential.NewError(credential.ErrCodeMissingInput, "policy_id is required")
	}
	if _, err := e.store.GetPolicy(ctx, policyID); err != nil {
		return 0, wrapStoreErr("policy lookup failed", err)
	}
	detached, err := e.store.DetachPolicy(ctx, policyID)
	if err != nil {
		return 0, wrapStoreErr("policy detach failed", err)
	}
	if err := e.store.DeletePolicy(ctx, policyID); err != nil {
		return 0, wrapStoreErr("policy delete failed", err)
	}
	return detached, nil
}

// History returns the policy's version snapshots, oldest first.
func (e *Engine) History(ctx context.Context, policyID string) ([]Version, error) {
	versions, err := e.store.ListPolicyVersions(ctx, policyID)
	if err != nil {
		return nil, wrapStoreErr("version listing failed", err)
	}
	return versions, nil
}

// EffectivePermissions resolves a credential's permission set at check
// time: the attached policy's current permissions when one exists and is
// active, otherwise the credential's static list. The returned version is
// 0 for static permissions.
func (e *Engine) EffectivePermissions(ctx context.Context, rec *credential.Record) ([]credential.Permission, int, error) {
	if rec.PolicyID == "" {
		return rec.Payload.Permissions, 0, nil
	}
	p, err := e.store.GetPolicy(ctx, rec.PolicyID)
	if err != nil {
		// A dangling reference behaves like a deleted policy: fall back
		// to the static list.
		if credential.CodeOf(err) == credential.ErrCodeNotFound {
			return rec.Payload.Permissions, 0, nil
		}
		return nil, 0, wrapStoreErr("policy lookup failed", err)
	}
	if !p.IsActive {
		return rec.Payload.Permissions, 0, nil
	}
	return p.Permissions, p.Version, nil
}

// RequestContext carries caller-supplied attributes that a structured
// permission's conditions are checked against. Zero values mean the
// attribute was not supplied, which skips the corresponding condition.
type RequestContext struct {
	Region string  `json:"region,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

// Decision is the outcome of a permission check.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

// Check walks the permission set in order. A permission that does not
// cover the (resource, action) pair is skipped; the first covering
// permission has its conditions enforced, and a condition violation
// denies the request instead of falling through to later permissions.
func Check(perms []credential.Permission, resource, action string, rc RequestContext) Decision {
	for _, perm := range perms {
		if !covers(perm, resource, action) {
			continue
		}
		if perm.Conditions != nil {
			if reason := conditionViolation(perm.Conditions, rc); reason != "" {
				return Decision{Reason: reason}
			}
		}
		return Decision{Granted: true}
	}
	return Decision{Reason: fmt.Sprintf("no permission for %s on %s", action, resource)}
}

// Matches reports whether a single permission grants the (resource,
// action) pair under the given request context. String-form permissions
// match the resource as a glob and grant every action; structured
// permissions match the resource glob and require the action to be
// listed (or "*"), then have their conditions enforced.
func Matches(perm credential.Permission, resource, action string, rc RequestContext) bool {
	if !covers(perm, resource, action) {
		return false
	}
	return perm.Conditions == nil || conditionViolation(perm.Conditions, rc) == ""
}

// HasPermission reports whether the set grants the (resource, action)
// pair under the given request context.
func HasPermission(perms []credential.Permission, resource, action string, rc RequestContext) bool {
	return Check(perms, resource, action, rc).Granted
}

// covers reports resource/action coverage, ignoring conditions.
func covers(perm credential.Permission, resource, action string) bool {
	if !perm.IsStructured() {
		return globMatch(perm.Raw, resource)
	}
	if !globMatch(perm.Resource, resource) {
		return false
	}
	for _, a := range perm.Actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

// conditionViolation returns a denial reason, or "" when every condition
// the context can answer is satisfied.
func conditionViolation(c *credential.Conditions, rc RequestContext) string {
	if c.MaxTransactionAmount > 0 && rc.Amount > c.MaxTransactionAmount {
		return fmt.Sprintf("amount %v exceeds limit %v", rc.Amount, c.MaxTransactionAmount)
	}
	if len(c.AllowedRegions) > 0 && rc.Region != "" {
		for _, r := range c.AllowedRegions {
			if r == rc.Region {
				return ""
			}
		}
		return fmt.Sprintf("region %s not allowed", rc.Region)
	}
	return ""
}

// globMatch matches pattern against name with shell-style wildcards. A
// malformed pattern matches nothing.
func globMatch(pattern, name string) bool {
	if pattern == name || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

func wrapStoreErr(message string, err error) error {
	if credErr, ok := credential.AsError(err); ok {
		return credErr
	}
	return credential.WrapError(credential.ErrCodeInternal, message, err)
}
