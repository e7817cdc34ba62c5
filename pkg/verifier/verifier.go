// Package verifier validates credentials: lifecycle status, validity window,
// and Ed25519 signature, in that strict order.
package verifier

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/signer"
)

// Store is the persistence surface the verifier reads from.
type Store interface {
	// GetCredential fetches a stored credential by id. Must return
	// credential.ErrNotFound when no record exists.
	GetCredential(ctx context.Context, id string) (*credential.Record, error)

	// GetIssuerPublicKey resolves the issuer's current base64 Ed25519
	// public key. Must return credential.ErrIssuerNotFound when unknown.
	GetIssuerPublicKey(ctx context.Context, issuerID string) (string, error)
}

// Event is one verification attempt, success or failure.
type Event struct {
	RequestID    string
	CredentialID string
	AgentID      string
	Success      bool
	FailureCode  string
	LatencyMS    int64
	At           time.Time
}

// EventRecorder receives verification events. Implementations must be safe
// for concurrent use; recording is dispatched fire-and-forget and its
// failure never surfaces to the verification caller.
type EventRecorder interface {
	RecordVerification(ctx context.Context, event Event)
}

// MultiRecorder fans events out to several recorders.
type MultiRecorder []EventRecorder

func (m MultiRecorder) RecordVerification(ctx context.Context, event Event) {
	for _, r := range m {
		r.RecordVerification(ctx, event)
	}
}

// Options configures verification behavior.
type Options struct {
	// Now overrides the clock (for testing).
	Now func() time.Time
}

// Result is the outcome of one verification call. RequestID and
// VerificationTimeMS are populated on both success and failure.
type Result struct {
	Valid              bool
	Claims             *credential.Claims
	Err                *credential.Error
	RequestID          string
	VerificationTimeMS int64
}

// Verifier validates credentials against the store.
type Verifier struct {
	store    Store
	recorder EventRecorder
}

// New creates a Verifier. recorder may be nil to disable event recording.
func New(store Store, recorder EventRecorder) *Verifier {
	return &Verifier{store: store, recorder: recorder}
}

// VerifyByID verifies a stored credential. The returned Result is non-nil
// in every case; err mirrors Result.Err for callers using errors.Is.
func (v *Verifier) VerifyByID(ctx context.Context, id string, opts Options) (*Result, error) {
	started := time.Now()
	requestID := uuid.NewString()

	if id == "" {
		return v.finish(ctx, started, requestID, "", "", nil,
			credential.NewError(credential.ErrCodeMissingInput, "credential_id is required"))
	}

	rec, err := v.store.GetCredential(ctx, id)
	if err != nil {
		credErr, ok := credential.AsError(err)
		if !ok {
			credErr = credential.WrapError(credential.ErrCodeInternal, "credential lookup failed", err)
		}
		return v.finish(ctx, started, requestID, id, "", nil, credErr)
	}

	return v.verifyRecord(ctx, started, requestID, rec, opts)
}

// VerifyPayload verifies an inline payload supplied by the caller. The
// issuer's public key is resolved from the store: the database's current
// key always wins over any key metadata the caller holds.
func (v *Verifier) VerifyPayload(ctx context.Context, payload *credential.Payload, opts Options) (*Result, error) {
	started := time.Now()
	requestID := uuid.NewString()

	if payload == nil {
		return v.finish(ctx, started, requestID, "", "", nil,
			credential.NewError(credential.ErrCodeMissingInput, "credential payload is required"))
	}
	if payload.CredentialID == "" || payload.AgentID == "" || payload.Issuer.IssuerID == "" {
		return v.finish(ctx, started, requestID, payload.CredentialID, payload.AgentID, nil,
			credential.NewError(credential.ErrCodeInvalidRequest, "payload is missing required fields"))
	}

	// When the credential also exists in the store, its lifecycle state is
	// authoritative: a revoked credential stays revoked no matter what copy
	// the caller holds.
	if rec, err := v.store.GetCredential(ctx, payload.CredentialID); err == nil {
		if rec.Status != credential.StatusActive {
			return v.finish(ctx, started, requestID, payload.CredentialID, payload.AgentID, nil,
				credential.NewError(credential.ErrCodeRevoked, "credential status is "+string(rec.Status)))
		}
	}

	return v.verifySteps(ctx, started, requestID, payload, opts)
}

func (v *Verifier) verifyRecord(ctx context.Context, started time.Time, requestID string, rec *credential.Record, opts Options) (*Result, error) {
	payload := rec.Payload

	// Step 1: lifecycle. Anything but active fails with the current status.
	if rec.Status != credential.StatusActive {
		return v.finish(ctx, started, requestID, payload.CredentialID, payload.AgentID, nil,
			credential.NewError(credential.ErrCodeRevoked, "credential status is "+string(rec.Status)))
	}

	return v.verifySteps(ctx, started, requestID, &payload, opts)
}

// verifySteps runs the window and signature checks shared by both entry
// points, in spec order.
func (v *Verifier) verifySteps(ctx context.Context, started time.Time, requestID string, payload *credential.Payload, opts Options) (*Result, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	// Step 2: validity window.
	at := now()
	if at.Before(payload.Constraints.ValidFrom) {
		return v.finish(ctx, started, requestID, payload.CredentialID, payload.AgentID, nil,
			credential.NewError(credential.ErrCodeNotYetValid,
				"credential not valid until "+payload.Constraints.ValidFrom.Format(time.RFC3339)))
	}
	if !at.Before(payload.Constraints.ValidUntil) {
		return v.finish(ctx, started, requestID, payload.CredentialID, payload.AgentID, nil,
			credential.NewError(credential.ErrCodeExpired,
				"credential expired at "+payload.Constraints.ValidUntil.Format(time.RFC3339)))
	}

	// Step 3: signature, against the issuer's current key in the store.
	pubKey, err := v.store.GetIssuerPublicKey(ctx, payload.Issuer.IssuerID)
	if err != nil {
		credErr, ok := credential.AsError(err)
		if !ok {
			credErr = credential.WrapError(credential.ErrCodeInternal, "issuer key lookup failed", err)
		}
		return v.finish(ctx, started, requestID, payload.CredentialID, payload.AgentID, nil, credErr)
	}
	if err := signer.VerifySignature(payload, payload.Signature, pubKey); err != nil {
		credErr, ok := credential.AsError(err)
		if !ok {
			credErr = credential.WrapError(credential.ErrCodeInvalidSignature, "signature check failed", err)
		}
		return v.finish(ctx, started, requestID, payload.CredentialID, payload.AgentID, nil, credErr)
	}

	return v.finish(ctx, started, requestID, payload.CredentialID, payload.AgentID,
		credential.ClaimsFromPayload(payload), nil)
}

// finish assembles the result and dispatches the verification event without
// blocking the response.
func (v *Verifier) finish(ctx context.Context, started time.Time, requestID, credentialID, agentID string, claims *credential.Claims, credErr *credential.Error) (*Result, error) {
	latency := time.Since(started).Milliseconds()
	result := &Result{
		Valid:              credErr == nil,
		Claims:             claims,
		Err:                credErr,
		RequestID:          requestID,
		VerificationTimeMS: latency,
	}

	v.record(Event{
		RequestID:    requestID,
		CredentialID: credentialID,
		AgentID:      agentID,
		Success:      credErr == nil,
		FailureCode:  failureCode(credErr),
		LatencyMS:    latency,
		At:           time.Now(),
	})

	if credErr != nil {
		return result, credErr
	}
	return result, nil
}

// record dispatches the event in the background. Recorder failures are
// swallowed: bookkeeping must never fail a verification response.
func (v *Verifier) record(event Event) {
	if v.recorder == nil {
		return
	}
	go func() {
		defer func() { _ = recover() }()
		v.recorder.RecordVerification(context.Background(), event)
	}()
}

func failureCode(err *credential.Error) string {
	if err == nil {
		return ""
	}
	return err.Code
}
