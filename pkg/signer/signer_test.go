package signer

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid/agentid-core/pkg/credential"
)

func testPayload() *credential.Payload {
	return &credential.Payload{
		CredentialID: "cred_abc",
		AgentID:      "bot-42",
		AgentName:    "Test Bot",
		AgentType:    "autonomous",
		Issuer: credential.IssuerInfo{
			IssuerID: "iss_1",
			Name:     "Acme",
		},
		Permissions: []credential.Permission{{Raw: "read:data"}},
		Constraints: credential.Constraints{
			ValidFrom:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ValidUntil: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		IssuedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNew_RequiresMasterSecret(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoMasterSecret)

	_, err = New([]byte{})
	assert.ErrorIs(t, err, ErrNoMasterSecret)
}

func TestFromEnv(t *testing.T) {
	t.Setenv(MasterSecretEnv, "")
	_, err := FromEnv()
	assert.ErrorIs(t, err, ErrNoMasterSecret)

	t.Setenv(MasterSecretEnv, "test-master-secret")
	s, err := FromEnv()
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestKeys_DeterministicPerIssuer(t *testing.T) {
	s, err := New([]byte("master"))
	require.NoError(t, err)

	pub1, _, err := s.Keys("iss_1")
	require.NoError(t, err)
	pub2, _, err := s.Keys("iss_1")
	require.NoError(t, err)
	assert.Equal(t, pub1, pub2)

	// A different issuer id yields a different key.
	pubOther, _, err := s.Keys("iss_2")
	require.NoError(t, err)
	assert.NotEqual(t, pub1, pubOther)

	// A different master secret yields a different key for the same issuer.
	s2, err := New([]byte("other-master"))
	require.NoError(t, err)
	pubForged, _, err := s2.Keys("iss_1")
	require.NoError(t, err)
	assert.NotEqual(t, pub1, pubForged)
}

func TestSignPayload_RoundTrip(t *testing.T) {
	s, err := New([]byte("master"))
	require.NoError(t, err)

	payload := testPayload()
	sig, err := s.SignPayload(payload, "iss_1")
	require.NoError(t, err)

	pubB64, err := s.PublicKeyBase64("iss_1")
	require.NoError(t, err)

	assert.NoError(t, VerifySignature(payload, sig, pubB64))

	// Signature stays valid when the payload carries its own signature
	// field, since canonicalization strips it.
	payload.Signature = sig
	assert.NoError(t, VerifySignature(payload, sig, pubB64))
}

func TestVerifySignature_TamperSensitivity(t *testing.T) {
	s, err := New([]byte("master"))
	require.NoError(t, err)

	payload := testPayload()
	sig, err := s.SignPayload(payload, "iss_1")
	require.NoError(t, err)
	pubB64, err := s.PublicKeyBase64("iss_1")
	require.NoError(t, err)

	t.Run("flipped signature byte", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(sig)
		require.NoError(t, err)
		raw[0] ^= 0x01
		bad := base64.StdEncoding.EncodeToString(raw)

		err = VerifySignature(payload, bad, pubB64)
		assert.ErrorIs(t, err, credential.ErrInvalidSignature)
	})

	t.Run("mutated payload field", func(t *testing.T) {
		tampered := *payload
		tampered.AgentName = "Evil Bot"
		err := VerifySignature(&tampered, sig, pubB64)
		assert.ErrorIs(t, err, credential.ErrInvalidSignature)
	})

	t.Run("wrong issuer key", func(t *testing.T) {
		otherPub, err := s.PublicKeyBase64("iss_2")
		require.NoError(t, err)
		err = VerifySignature(payload, sig, otherPub)
		assert.ErrorIs(t, err, credential.ErrInvalidSignature)
	})

	t.Run("malformed base64 fails closed", func(t *testing.T) {
		err := VerifySignature(payload, "!!not-base64!!", pubB64)
		assert.ErrorIs(t, err, credential.ErrInvalidSignature)

		err = VerifySignature(payload, sig, "!!not-base64!!")
		assert.ErrorIs(t, err, credential.ErrInvalidSignature)
	})
}

func TestKeyIDAndJWK(t *testing.T) {
	s, err := New([]byte("master"))
	require.NoError(t, err)

	kid, err := s.KeyID("iss_1")
	require.NoError(t, err)
	assert.Len(t, kid, 16) // 8 bytes hex

	jwk, err := s.ExportJWK("iss_1")
	require.NoError(t, err)
	assert.Equal(t, kid, jwk.KeyID)
	assert.True(t, jwk.Valid())
}
