// Package signer derives per-issuer Ed25519 keys from a process-wide master
// secret and signs canonical credential payloads.
//
// No private key is stored at rest: the 32-byte seed is HKDF-derived from
// the master secret and the issuer's stable id at the moment of signing, so
// regenerating a key requires both. Loss of the master secret compromises
// every issuer; knowledge of one issuer id alone forges nothing.
package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/hkdf"

	"github.com/agentid/agentid-core/pkg/canonical"
	"github.com/agentid/agentid-core/pkg/credential"
)

// MasterSecretEnv is the environment variable holding the master secret.
const MasterSecretEnv = "AGENTID_MASTER_SECRET"

// seedSalt domain-separates the HKDF derivation from any other use of the
// master secret. Changing it invalidates every issuer key.
var seedSalt = []byte("agentid-ed25519-seed-v1")

// Common errors returned by this package.
var (
	ErrNoMasterSecret = errors.New("signer: master secret is not configured")
	ErrInvalidKey     = errors.New("signer: invalid key material")
)

// Signer holds the master secret. The secret is loaded once at construction
// and never reassigned.
type Signer struct {
	master []byte
}

// New creates a Signer from master secret bytes. The process cannot run in
// a signing-capable mode without one.
func New(masterSecret []byte) (*Signer, error) {
	if len(masterSecret) == 0 {
		return nil, ErrNoMasterSecret
	}
	s := &Signer{master: make([]byte, len(masterSecret))}
	copy(s.master, masterSecret)
	return s, nil
}

// FromEnv creates a Signer from the AGENTID_MASTER_SECRET environment
// variable.
func FromEnv() (*Signer, error) {
	secret := os.Getenv(MasterSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%w: set %s", ErrNoMasterSecret, MasterSecretEnv)
	}
	return New([]byte(secret))
}

// seed derives the 32-byte Ed25519 seed for an issuer. Deterministic and
// idempotent per issuer id.
func (s *Signer) seed(issuerID string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, seedSalt, []byte(issuerID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("signer: seed derivation failed: %w", err)
	}
	return seed, nil
}

// Keys derives the issuer's Ed25519 key pair.
func (s *Signer) Keys(issuerID string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	seed, err := s.seed(issuerID)
	if err != nil {
		return nil, nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv, nil
}

// PublicKeyBase64 returns the issuer's public key encoded for storage.
func (s *Signer) PublicKeyBase64(issuerID string) (string, error) {
	pub, _, err := s.Keys(issuerID)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// KeyID returns a short stable identifier for the issuer's key: the first
// eight bytes of SHA-256 over the public key, hex encoded.
func (s *Signer) KeyID(issuerID string) (string, error) {
	pub, _, err := s.Keys(issuerID)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8]), nil
}

// SignPayload signs the canonical JSON of payload (signature field stripped)
// with the issuer's derived key and returns the base64 signature.
func (s *Signer) SignPayload(payload *credential.Payload, issuerID string) (string, error) {
	msg, err := canonical.MarshalPayload(payload)
	if err != nil {
		return "", err
	}
	_, priv, err := s.Keys(issuerID)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, []byte(msg))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// ExportJWK returns the issuer's public key as a JWK for interchange with
// external verifiers and the local trust store.
func (s *Signer) ExportJWK(issuerID string) (*jose.JSONWebKey, error) {
	pub, _, err := s.Keys(issuerID)
	if err != nil {
		return nil, err
	}
	kid, err := s.KeyID(issuerID)
	if err != nil {
		return nil, err
	}
	return &jose.JSONWebKey{Key: pub, KeyID: kid, Algorithm: string(jose.EdDSA), Use: "sig"}, nil
}

// VerifySignature is the pure signature-check primitive: it recomputes the
// canonical message from payload with the signature stripped and runs
// Ed25519 verification against the base64-encoded public key. Any decode
// failure fails closed as an invalid signature.
func VerifySignature(payload *credential.Payload, signatureB64, publicKeyB64 string) error {
	msg, err := canonical.MarshalPayload(payload)
	if err != nil {
		return credential.WrapError(credential.ErrCodeInvalidSignature, "failed to canonicalize payload", err)
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return credential.WrapError(credential.ErrCodeInvalidSignature, "signature is not valid base64", err)
	}
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return credential.WrapError(credential.ErrCodeInvalidSignature, "public key is not valid base64", err)
	}
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return credential.NewError(credential.ErrCodeInvalidSignature, "malformed key or signature length")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(msg), sig) {
		return credential.ErrInvalidSignature
	}
	return nil
}
