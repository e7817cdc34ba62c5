// Package credential defines the signed credential payload, its constraint
// and permission types, and the error codes shared by the verification and
// lifecycle paths.
package credential

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status of a credential in its lifecycle.
type Status string

const (
	// StatusActive means the credential is live and verifiable.
	StatusActive Status = "active"

	// StatusRevoked is terminal: no renewal is permitted.
	StatusRevoked Status = "revoked"

	// StatusExpired is derived from the clock at read time; it is never the
	// stored status of a credential.
	StatusExpired Status = "expired"

	// StatusSuspended means the credential is temporarily not verifiable.
	StatusSuspended Status = "suspended"
)

// IssuerInfo is the issuer block embedded in the signed payload.
type IssuerInfo struct {
	IssuerID       string `json:"issuer_id"`
	IssuerType     string `json:"issuer_type,omitempty"`
	IssuerVerified bool   `json:"issuer_verified"`
	Name           string `json:"name"`
}

// Constraints bound a credential's validity.
type Constraints struct {
	ValidFrom              time.Time `json:"valid_from"`
	ValidUntil             time.Time `json:"valid_until"`
	GeographicRestrictions []string  `json:"geographic_restrictions,omitempty"`
	AllowedServices        []string  `json:"allowed_services,omitempty"`
}

// Conditions restrict when a structured permission applies.
type Conditions struct {
	AllowedRegions       []string `json:"allowed_regions,omitempty"`
	MaxTransactionAmount float64  `json:"max_transaction_amount,omitempty"`
	RequiresApproval     bool     `json:"requires_approval,omitempty"`
}

// Permission is either a plain string (e.g. "read:data" or "*") or a
// structured {resource, actions, conditions} grant. Raw is set for the
// string form; Resource/Actions for the structured form.
type Permission struct {
	Raw        string      `json:"-"`
	Resource   string      `json:"resource,omitempty"`
	Actions    []string    `json:"actions,omitempty"`
	Conditions *Conditions `json:"conditions,omitempty"`
}

// IsStructured reports whether the permission uses the resource/actions form.
func (p Permission) IsStructured() bool {
	return p.Raw == ""
}

// MarshalJSON emits the string form for plain permissions and the object
// form for structured ones, matching the wire format.
func (p Permission) MarshalJSON() ([]byte, error) {
	if p.Raw != "" {
		return json.Marshal(p.Raw)
	}
	type structured struct {
		Resource   string      `json:"resource"`
		Actions    []string    `json:"actions"`
		Conditions *Conditions `json:"conditions,omitempty"`
	}
	return json.Marshal(structured{Resource: p.Resource, Actions: p.Actions, Conditions: p.Conditions})
}

// UnmarshalJSON accepts both the string and the object form.
func (p *Permission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Permission{Raw: s}
		return nil
	}
	type structured struct {
		Resource   string      `json:"resource"`
		Actions    []string    `json:"actions"`
		Conditions *Conditions `json:"conditions,omitempty"`
	}
	var obj structured
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("credential: permission must be a string or an object: %w", err)
	}
	*p = Permission{Resource: obj.Resource, Actions: obj.Actions, Conditions: obj.Conditions}
	return nil
}

// Payload is the exact signed JSON of a credential. It is persisted verbatim
// so verification can be replayed byte-for-byte. Signature is base64-encoded
// Ed25519 over the canonical JSON of all other fields.
type Payload struct {
	CredentialID string       `json:"credential_id"`
	AgentID      string       `json:"agent_id"`
	AgentName    string       `json:"agent_name"`
	AgentType    string       `json:"agent_type,omitempty"`
	Issuer       IssuerInfo   `json:"issuer"`
	Permissions  []Permission `json:"permissions"`
	Constraints  Constraints  `json:"constraints"`
	IssuedAt     time.Time    `json:"issued_at"`
	Signature    string       `json:"signature,omitempty"`
}

// Record is the stored credential: the signed payload plus lifecycle state
// the payload itself does not carry.
type Record struct {
	Payload Payload

	Status   Status
	KeyID    string
	PolicyID string // empty when no policy is attached

	RevokedAt        *time.Time
	RevocationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Claims is the verified subset returned to callers on success.
type Claims struct {
	CredentialID string       `json:"credential_id"`
	AgentID      string       `json:"agent_id"`
	AgentName    string       `json:"agent_name"`
	AgentType    string       `json:"agent_type,omitempty"`
	Issuer       IssuerInfo   `json:"issuer"`
	Permissions  []Permission `json:"permissions"`
	ValidUntil   time.Time    `json:"valid_until"`
}

// ClaimsFromPayload projects the verified claim subset out of a payload.
func ClaimsFromPayload(p *Payload) *Claims {
	return &Claims{
		CredentialID: p.CredentialID,
		AgentID:      p.AgentID,
		AgentName:    p.AgentName,
		AgentType:    p.AgentType,
		Issuer:       p.Issuer,
		Permissions:  p.Permissions,
		ValidUntil:   p.Constraints.ValidUntil,
	}
}

// Issuer is a registered credential issuer. The public key is generated once
// from the signing secret and is immutable outside an explicit re-key
// migration.
type Issuer struct {
	ID         string
	Name       string
	IssuerType string // individual, organization, enterprise
	Verified   bool
	Domain     string

	// PublicKey is the base64-encoded Ed25519 public key.
	PublicKey string
	KeyID     string

	CreatedAt time.Time
}
