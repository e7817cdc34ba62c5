package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"

	"github.com/agentid/agentid-core/pkg/trust"
)

var trustIssuerID string

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage trusted issuer keys",
	Long: `Manage the local trust store for offline credential verification.

The trust store holds one Ed25519 public key per issuer so credentials can
be verified without reaching the service.

Location: ~/.agentid/trust/ (or $AGENTID_TRUST_PATH)`,
}

var trustAddCmd = &cobra.Command{
	Use:     "add [jwk-file]",
	Short:   "Trust an issuer's public key",
	Example: `  # Add a key exported with "agentid key export"
  agentid trust add issuer.pub.jwk --issuer 4f7c...`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if trustIssuerID == "" {
			return fmt.Errorf("--issuer is required")
		}

		store, err := trust.NewFileStore("")
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		var key jose.JSONWebKey
		if err := json.Unmarshal(data, &key); err != nil {
			return fmt.Errorf("failed to parse JWK: %w", err)
		}

		if err := store.Add(trustIssuerID, key); err != nil {
			return fmt.Errorf("failed to add key: %w", err)
		}
		fmt.Printf("✅ Trusted issuer: %s\n", trustIssuerID)
		if key.KeyID != "" {
			fmt.Printf("   Key ID: %s\n", key.KeyID)
		}
		return nil
	},
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted issuers",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := trust.NewFileStore("")
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}

		entries, err := store.List()
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No trusted issuers in store.")
			fmt.Println("\nAdd keys with:")
			fmt.Println("  agentid trust add issuer.pub.jwk --issuer <issuer-id>")
			return nil
		}

		fmt.Printf("🔑 Trusted issuers (%d):\n\n", len(entries))
		for _, entry := range entries {
			fmt.Printf("  Issuer: %s\n", entry.IssuerID)
			fmt.Printf("    Key ID: %s\n", entry.Key.KeyID)
			fmt.Printf("    Algorithm: %s\n", entry.Key.Algorithm)
			fmt.Println()
		}
		fmt.Printf("Trust store location: %s\n", trust.DefaultTrustDir())
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove [issuer-id]",
	Short: "Withdraw trust from an issuer",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := trust.NewFileStore("")
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}
		if err := store.Remove(args[0]); err != nil {
			if errors.Is(err, trust.ErrIssuerNotFound) {
				return fmt.Errorf("issuer not trusted: %s", args[0])
			}
			return fmt.Errorf("failed to remove key: %w", err)
		}
		fmt.Printf("✅ Removed issuer: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.AddCommand(trustAddCmd)
	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustRemoveCmd)

	trustAddCmd.Flags().StringVar(&trustIssuerID, "issuer", "", "Issuer id the key belongs to (required)")
}
