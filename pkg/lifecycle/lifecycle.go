// Package lifecycle implements the credential state machine: issuance,
// renewal, revocation, suspension, and the bounded bulk forms of each.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentid/agentid-core/pkg/broadcast"
	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/signer"
)

const (
	// MaxBatchSize caps bulk revoke/renew requests.
	MaxBatchSize = 100

	// MinExtendDays and MaxExtendDays bound a single renewal.
	MinExtendDays = 1
	MaxExtendDays = 365

	// DefaultValidityDays applies when an issue request names no window.
	DefaultValidityDays = 365
)

// Store is the persistence surface the lifecycle manager writes through.
type Store interface {
	GetCredential(ctx context.Context, id string) (*credential.Record, error)
	GetIssuer(ctx context.Context, id string) (*credential.Issuer, error)

	// HasActiveCredential reports whether an active credential already
	// exists for the (issuer, agent) pair.
	HasActiveCredential(ctx context.Context, issuerID, agentID string) (bool, error)

	CreateCredential(ctx context.Context, rec *credential.Record) error
	UpdateCredential(ctx context.Context, rec *credential.Record) error

	// RevokeCredential flips the status to revoked atomically, recording
	// reason and timestamp, and returns the updated record.
	RevokeCredential(ctx context.Context, id, reason string, at time.Time) (*credential.Record, error)
}

// Notifier delivers lifecycle events to external listeners (webhooks).
// Delivery is best-effort and must never block or fail the caller.
type Notifier interface {
	Dispatch(issuerID, event string, data map[string]any)
}

// Manager drives credential state transitions.
type Manager struct {
	store    Store
	signer   *signer.Signer
	hub      *broadcast.Hub
	notifier Notifier
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithNow overrides the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithHub wires revocation broadcasts into the given hub.
func WithHub(hub *broadcast.Hub) Option {
	return func(m *Manager) { m.hub = hub }
}

// WithNotifier wires lifecycle webhooks.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// New creates a Manager.
func New(store Store, sg *signer.Signer, opts ...Option) *Manager {
	m := &Manager{store: store, signer: sg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IssueRequest describes a credential to issue.
type IssueRequest struct {
	IssuerID     string                  `json:"issuer_id"`
	AgentID      string                  `json:"agent_id"`
	AgentName    string                  `json:"agent_name"`
	AgentType    string                  `json:"agent_type"`
	Permissions  []credential.Permission `json:"permissions"`
	PolicyID     string                  `json:"policy_id,omitempty"`
	ValidityDays int                     `json:"validity_days,omitempty"`

	GeographicRestrictions []string `json:"geographic_restrictions,omitempty"`
	AllowedServices        []string `json:"allowed_services,omitempty"`
}

// Issue signs and persists a new credential. At most one active credential
// may exist per (issuer, agent) pair.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (*credential.Record, error) {
	if req.IssuerID == "" || req.AgentID == "" || req.AgentName == "" {
		return nil, credential.NewError(credential.ErrCodeInvalidRequest,
			"issuer_id, agent_id, and agent_name are required")
	}
	if req.ValidityDays < 0 || req.ValidityDays > MaxExtendDays {
		return nil, credential.NewError(credential.ErrCodeInvalidRequest,
			fmt.Sprintf("validity_days must be between %d and %d", MinExtendDays, MaxExtendDays))
	}
	if req.ValidityDays == 0 {
		req.ValidityDays = DefaultValidityDays
	}

	issuer, err := m.store.GetIssuer(ctx, req.IssuerID)
	if err != nil {
		return nil, wrapStoreErr("issuer lookup failed", err)
	}

	active, err := m.store.HasActiveCredential(ctx, req.IssuerID, req.AgentID)
	if err != nil {
		return nil, wrapStoreErr("uniqueness check failed", err)
	}
	if active {
		return nil, credential.NewError(credential.ErrCodeLifecycleViolation,
			"an active credential already exists for this agent")
	}

	now := m.now().UTC()
	payload := credential.Payload{
		CredentialID: uuid.NewString(),
		AgentID:      req.AgentID,
		AgentName:    req.AgentName,
		AgentType:    req.AgentType,
		Issuer: credential.IssuerInfo{
			IssuerID:       issuer.ID,
			IssuerType:     issuer.IssuerType,
			IssuerVerified: issuer.Verified,
			Name:           issuer.Name,
		},
		Permissions: req.Permissions,
		Constraints: credential.Constraints{
			ValidFrom:              now,
			ValidUntil:             now.AddDate(0, 0, req.ValidityDays),
			GeographicRestrictions: req.GeographicRestrictions,
			AllowedServices:        req.AllowedServices,
		},
		IssuedAt: now,
	}

	sig, err := m.signer.SignPayload(&payload, issuer.ID)
	if err != nil {
		return nil, wrapStoreErr("signing failed", err)
	}
	payload.Signature = sig

	keyID, err := m.signer.KeyID(issuer.ID)
	if err != nil {
		return nil, wrapStoreErr("key id derivation failed", err)
	}

	rec := &credential.Record{
		Payload:   payload,
		Status:    credential.StatusActive,
		KeyID:     keyID,
		PolicyID:  req.PolicyID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateCredential(ctx, rec); err != nil {
		return nil, wrapStoreErr("credential insert failed", err)
	}

	m.notify(issuer.ID, "credential.issued", map[string]any{
		"credential_id": payload.CredentialID,
		"agent_id":      payload.AgentID,
	})
	return rec, nil
}

// Renew extends a credential's validity window and re-signs it. The new
// valid_until is max(current valid_until, now) + extendDays; a lapsed
// credential is revived, a revoked one is rejected.
func (m *Manager) Renew(ctx context.Context, id string, extendDays int) (*credential.Record, error) {
	if id == "" {
		return nil, credential.NewError(credential.ErrCodeMissingInput, "credential_id is required")
	}
	if extendDays < MinExtendDays || extendDays > MaxExtendDays {
		return nil, credential.NewError(credential.ErrCodeInvalidRequest,
			fmt.Sprintf("extend_days must be between %d and %d", MinExtendDays, MaxExtendDays))
	}

	rec, err := m.store.GetCredential(ctx, id)
	if err != nil {
		return nil, wrapStoreErr("credential lookup failed", err)
	}
	if rec.Status == credential.StatusRevoked {
		return nil, credential.NewError(credential.ErrCodeLifecycleViolation,
			"revoked credentials cannot be renewed")
	}

	now := m.now().UTC()
	base := rec.Payload.Constraints.ValidUntil
	if base.Before(now) {
		base = now
	}
	rec.Payload.Constraints.ValidUntil = base.AddDate(0, 0, extendDays)

	sig, err := m.signer.SignPayload(&rec.Payload, rec.Payload.Issuer.IssuerID)
	if err != nil {
		return nil, wrapStoreErr("re-signing failed", err)
	}
	rec.Payload.Signature = sig
	rec.Status = credential.StatusActive
	rec.UpdatedAt = now

	if err := m.store.UpdateCredential(ctx, rec); err != nil {
		return nil, wrapStoreErr("credential update failed", err)
	}

	m.notify(rec.Payload.Issuer.IssuerID, "credential.renewed", map[string]any{
		"credential_id": rec.Payload.CredentialID,
		"valid_until":   rec.Payload.Constraints.ValidUntil.Format(time.RFC3339),
	})
	return rec, nil
}

// Revoke flips a credential to its terminal state and broadcasts the
// revocation to live subscribers. Revoking twice is rejected.
func (m *Manager) Revoke(ctx context.Context, id, reason string) (*credential.Record, error) {
	if id == "" {
		return nil, credential.NewError(credential.ErrCodeMissingInput, "credential_id is required")
	}

	rec, err := m.store.GetCredential(ctx, id)
	if err != nil {
		return nil, wrapStoreErr("credential lookup failed", err)
	}
	if rec.Status == credential.StatusRevoked {
		return nil, credential.NewError(credential.ErrCodeLifecycleViolation,
			"credential is already revoked")
	}

	now := m.now().UTC()
	rec, err = m.store.RevokeCredential(ctx, id, reason, now)
	if err != nil {
		return nil, wrapStoreErr("revoke failed", err)
	}

	if m.hub != nil {
		m.hub.Publish(broadcast.Revocation{
			CredentialID: rec.Payload.CredentialID,
			AgentID:      rec.Payload.AgentID,
			IssuerID:     rec.Payload.Issuer.IssuerID,
			Reason:       reason,
			RevokedAt:    now,
		})
	}
	m.notify(rec.Payload.Issuer.IssuerID, "credential.revoked", map[string]any{
		"credential_id": rec.Payload.CredentialID,
		"reason":        reason,
	})
	return rec, nil
}

// Suspend pauses an active credential without revoking it. A suspended
// credential fails verification until renewed.
func (m *Manager) Suspend(ctx context.Context, id string) (*credential.Record, error) {
	if id == "" {
		return nil, credential.NewError(credential.ErrCodeMissingInput, "credential_id is required")
	}

	rec, err := m.store.GetCredential(ctx, id)
	if err != nil {
		return nil, wrapStoreErr("credential lookup failed", err)
	}
	if rec.Status != credential.StatusActive {
		return nil, credential.NewError(credential.ErrCodeLifecycleViolation,
			"only active credentials can be suspended")
	}

	rec.Status = credential.StatusSuspended
	rec.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateCredential(ctx, rec); err != nil {
		return nil, wrapStoreErr("credential update failed", err)
	}

	m.notify(rec.Payload.Issuer.IssuerID, "credential.suspended", map[string]any{
		"credential_id": rec.Payload.CredentialID,
	})
	return rec, nil
}

// BulkResult is the per-item outcome of a bulk operation.
type BulkResult struct {
	CredentialID string            `json:"credential_id"`
	Success      bool              `json:"success"`
	Error        *credential.Error `json:"error,omitempty"`
}

// BulkRevoke revokes up to MaxBatchSize credentials. One item's failure
// never aborts the rest.
func (m *Manager) BulkRevoke(ctx context.Context, ids []string, reason string) ([]BulkResult, error) {
	if err := checkBatch(ids); err != nil {
		return nil, err
	}
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		_, err := m.Revoke(ctx, id, reason)
		results = append(results, bulkResult(id, err))
	}
	return results, nil
}

// BulkRenew renews up to MaxBatchSize credentials with per-item outcomes.
func (m *Manager) BulkRenew(ctx context.Context, ids []string, extendDays int) ([]BulkResult, error) {
	if err := checkBatch(ids); err != nil {
		return nil, err
	}
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		_, err := m.Renew(ctx, id, extendDays)
		results = append(results, bulkResult(id, err))
	}
	return results, nil
}

func checkBatch(ids []string) error {
	if len(ids) == 0 {
		return credential.NewError(credential.ErrCodeMissingInput, "credential_ids is required")
	}
	if len(ids) > MaxBatchSize {
		return credential.NewError(credential.ErrCodeBatchLimitExceeded,
			fmt.Sprintf("batch size %d exceeds the limit of %d", len(ids), MaxBatchSize))
	}
	return nil
}

func bulkResult(id string, err error) BulkResult {
	if err == nil {
		return BulkResult{CredentialID: id, Success: true}
	}
	credErr, ok := credential.AsError(err)
	if !ok {
		credErr = credential.WrapError(credential.ErrCodeInternal, "operation failed", err)
	}
	return BulkResult{CredentialID: id, Error: credErr}
}

// notify dispatches a webhook event without blocking; dispatcher failures
// stay inside the dispatcher.
func (m *Manager) notify(issuerID, event string, data map[string]any) {
	if m.notifier == nil {
		return
	}
	m.notifier.Dispatch(issuerID, event, data)
}

func wrapStoreErr(message string, err error) error {
	if credErr, ok := credential.AsError(err); ok {
		return credErr
	}
	return credential.WrapError(credential.ErrCodeInternal, message, err)
}
