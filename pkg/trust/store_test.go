package trust_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentid/agentid-core/pkg/trust"
)

func testJWK(t *testing.T) (jose.JSONWebKey, ed25519.PublicKey) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return jose.JSONWebKey{
		KeyID:     "agentid-" + base64.RawURLEncoding.EncodeToString(pub[:6]),
		Algorithm: string(jose.EdDSA),
		Use:       "sig",
		Key:       pub,
	}, pub
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()

	store, err := trust.NewFileStore(dir)
	require.NoError(t, err)

	key, pub := testJWK(t)

	t.Run("Add and Get", func(t *testing.T) {
		require.NoError(t, store.Add("issuer-001", key))

		_, err := os.Stat(filepath.Join(dir, "issuer-001.jwk"))
		require.NoError(t, err)

		got, err := store.Get("issuer-001")
		require.NoError(t, err)
		assert.Equal(t, key.KeyID, got.KeyID)
		assert.Equal(t, key.Algorithm, got.Algorithm)
	})

	t.Run("PublicKeyBase64 is the verification read path", func(t *testing.T) {
		got, err := store.PublicKeyBase64("issuer-001")
		require.NoError(t, err)
		assert.Equal(t, base64.StdEncoding.EncodeToString(pub), got)
	})

	t.Run("unknown issuer", func(t *testing.T) {
		_, err := store.Get("issuer-unknown")
		assert.ErrorIs(t, err, trust.ErrIssuerNotFound)

		_, err = store.PublicKeyBase64("issuer-unknown")
		assert.ErrorIs(t, err, trust.ErrIssuerNotFound)
	})

	t.Run("re-adding replaces the key", func(t *testing.T) {
		rotated, rotatedPub := testJWK(t)
		require.NoError(t, store.Add("issuer-001", rotated))

		got, err := store.PublicKeyBase64("issuer-001")
		require.NoError(t, err)
		assert.Equal(t, base64.StdEncoding.EncodeToString(rotatedPub), got)
	})

	t.Run("List", func(t *testing.T) {
		other, _ := testJWK(t)
		require.NoError(t, store.Add("issuer-002", other))

		entries, err := store.List()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		ids := []string{entries[0].IssuerID, entries[1].IssuerID}
		assert.ElementsMatch(t, []string{"issuer-001", "issuer-002"}, ids)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, store.Remove("issuer-002"))

		_, err := store.Get("issuer-002")
		assert.ErrorIs(t, err, trust.ErrIssuerNotFound)

		assert.ErrorIs(t, store.Remove("issuer-002"), trust.ErrIssuerNotFound)
	})
}

func TestFileStore_RejectsNonEd25519(t *testing.T) {
	store, err := trust.NewFileStore(t.TempDir())
	require.NoError(t, err)

	bad := jose.JSONWebKey{KeyID: "k", Key: []byte("not-a-key")}
	assert.ErrorIs(t, store.Add("issuer-001", bad), trust.ErrInvalidKey)

	key, _ := testJWK(t)
	assert.ErrorIs(t, store.Add("", key), trust.ErrInvalidKey)
}

func TestFileStore_SanitizeFilename(t *testing.T) {
	store, err := trust.NewFileStore(t.TempDir())
	require.NoError(t, err)

	key, pub := testJWK(t)
	issuerID := "org/acme:prod"
	require.NoError(t, store.Add(issuerID, key))

	got, err := store.PublicKeyBase64(issuerID)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pub), got)

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, issuerID, entries[0].IssuerID, "entry carries the unsanitized id")
}

func TestDefaultTrustDir(t *testing.T) {
	t.Setenv(trust.TrustPathEnv, "/custom/path")
	assert.Equal(t, "/custom/path", trust.DefaultTrustDir())

	t.Setenv(trust.TrustPathEnv, "")
	dir := trust.DefaultTrustDir()
	assert.Contains(t, dir, filepath.Join(".agentid", "trust"))
}
