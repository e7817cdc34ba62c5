package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/revocation"
	"github.com/agentid/agentid-core/pkg/signer"
	"github.com/agentid/agentid-core/pkg/trust"
)

var (
	verifyPublicKey      string
	verifySkipRevocation bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [credential-file]",
	Short: "Verify a credential offline",
	Long: `Verify a signed credential payload without contacting the service.

The issuer's public key is resolved from the local trust store, or can be
passed directly with --public-key. Revocation status is checked against the
local revocation cache (keep it fresh with "agentid revocations sync").`,
	Example: `  # Verify against the trust store and revocation cache
  agentid verify credential.json

  # Verify against an explicit key, skipping the revocation cache
  agentid verify credential.json --public-key bFhK... --skip-revocation`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read credential: %w", err)
		}
		var payload credential.Payload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("failed to parse credential: %w", err)
		}
		if payload.Signature == "" {
			return fmt.Errorf("credential carries no signature")
		}

		if !verifySkipRevocation {
			cache, err := revocation.NewFileCache("")
			if err != nil {
				return fmt.Errorf("failed to open revocation cache: %w", err)
			}
			if cache.IsRevoked(payload.CredentialID) {
				return fmt.Errorf("❌ credential %s is revoked", payload.CredentialID)
			}
			if cache.IsStale(24 * time.Hour) {
				fmt.Println("⚠️  Revocation cache is stale; run \"agentid revocations sync\"")
			}
		}

		now := time.Now()
		if now.Before(payload.Constraints.ValidFrom) {
			return fmt.Errorf("❌ credential is not yet valid (valid from %s)",
				payload.Constraints.ValidFrom.Format(time.RFC3339))
		}
		if !now.Before(payload.Constraints.ValidUntil) {
			return fmt.Errorf("❌ credential has expired (valid until %s)",
				payload.Constraints.ValidUntil.Format(time.RFC3339))
		}

		publicKey := verifyPublicKey
		if publicKey == "" {
			store, err := trust.NewFileStore("")
			if err != nil {
				return fmt.Errorf("failed to open trust store: %w", err)
			}
			publicKey, err = store.PublicKeyBase64(payload.Issuer.IssuerID)
			if err != nil {
				return fmt.Errorf("issuer %s is not in the trust store: %w", payload.Issuer.IssuerID, err)
			}
		}

		if err := signer.VerifySignature(&payload, payload.Signature, publicKey); err != nil {
			return fmt.Errorf("❌ signature verification failed: %w", err)
		}

		fmt.Printf("✅ Credential is valid\n")
		fmt.Printf("   Agent: %s (%s)\n", payload.AgentName, payload.AgentID)
		fmt.Printf("   Issuer: %s\n", payload.Issuer.Name)
		fmt.Printf("   Valid until: %s\n", payload.Constraints.ValidUntil.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyPublicKey, "public-key", "", "Base64 Ed25519 public key (overrides the trust store)")
	verifyCmd.Flags().BoolVar(&verifySkipRevocation, "skip-revocation", false, "Skip the local revocation cache check")
}
