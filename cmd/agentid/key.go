package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentid/agentid-core/pkg/signer"
)

var keyOutPublic string

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage issuer signing keys",
	Long: `Inspect the Ed25519 keys derived for issuers.

Keys are never stored: each issuer's key pair is re-derived from the
master secret (AGENTID_MASTER_SECRET) and the issuer id on demand.`,
}

var keyExportCmd = &cobra.Command{
	Use:     "export [issuer-id]",
	Short:   "Export an issuer's public key as a JWK",
	Example: `  # Print the public JWK to stdout
  agentid key export 4f7c...

  # Write it to a file for distribution
  agentid key export 4f7c... --out-pub issuer.pub.jwk`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		sg, err := signer.FromEnv()
		if err != nil {
			return err
		}

		jwk, err := sg.ExportJWK(args[0])
		if err != nil {
			return fmt.Errorf("failed to derive key: %w", err)
		}
		data, err := json.MarshalIndent(jwk, "", "  ")
		if err != nil {
			return err
		}

		if keyOutPublic != "" {
			if err := os.WriteFile(keyOutPublic, data, 0644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}
			fmt.Printf("✅ Public key saved to %s\n", keyOutPublic)
			return nil
		}
		fmt.Println(string(data))
		return nil
	},
}

var keyIDCmd = &cobra.Command{
	Use:   "id [issuer-id]",
	Short: "Print an issuer's key id",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		sg, err := signer.FromEnv()
		if err != nil {
			return err
		}
		kid, err := sg.KeyID(args[0])
		if err != nil {
			return err
		}
		fmt.Println(kid)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyExportCmd)
	keyCmd.AddCommand(keyIDCmd)

	keyExportCmd.Flags().StringVar(&keyOutPublic, "out-pub", "", "Output path for the public JWK (default stdout)")
}
