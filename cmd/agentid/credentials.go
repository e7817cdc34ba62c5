package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/lifecycle"
)

var (
	issueServiceURL   string
	issueIssuerID     string
	issueAgentID      string
	issueAgentName    string
	issueAgentType    string
	issuePermissions  []string
	issuePolicyID     string
	issueValidityDays int
	issueOut          string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed credential for an agent",
	Long: `Ask the service to issue an Ed25519-signed credential binding an
agent to its issuer, permissions, and validity window. At most one active
credential may exist per (issuer, agent) pair.`,
	Example: `  agentid issue --issuer iss-1 --agent agent-42 --name "Billing Bot" \
    --permission read:invoices --permission write:invoices --days 90`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if issueIssuerID == "" || issueAgentID == "" {
			return fmt.Errorf("--issuer and --agent are required")
		}

		req := lifecycle.IssueRequest{
			IssuerID:     issueIssuerID,
			AgentID:      issueAgentID,
			AgentName:    issueAgentName,
			AgentType:    issueAgentType,
			PolicyID:     issuePolicyID,
			ValidityDays: issueValidityDays,
		}
		for _, p := range issuePermissions {
			req.Permissions = append(req.Permissions, credential.Permission{Raw: p})
		}

		var payload credential.Payload
		if err := callAPI(cmd.Context(), http.MethodPost, issueServiceURL, "/api/credentials", req, &payload); err != nil {
			return fmt.Errorf("issue failed: %w", err)
		}

		fmt.Printf("✅ Credential issued: %s\n", payload.CredentialID)
		fmt.Printf("   Agent:       %s\n", payload.AgentID)
		fmt.Printf("   Valid until: %s\n", payload.Constraints.ValidUntil.Format("2006-01-02"))
		if issueOut != "" {
			return writeJSONFile(issueOut, payload)
		}
		return printJSON(payload)
	},
}

var (
	renewServiceURL string
	renewExtendDays int
)

var renewCmd = &cobra.Command{
	Use:   "renew <credential-id>",
	Short: "Extend a credential's validity window",
	Long: `Extend a credential's validity by the given number of days (1-365).
Expired credentials are revived; revoked credentials stay revoked.`,
	Example: `  agentid renew cred-a1b2c3 --days 30`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload credential.Payload
		path := "/api/credentials/" + args[0] + "/renew"
		body := map[string]any{"extend_days": renewExtendDays}
		if err := callAPI(cmd.Context(), http.MethodPost, renewServiceURL, path, body, &payload); err != nil {
			return fmt.Errorf("renew failed: %w", err)
		}

		fmt.Printf("✅ Credential renewed: %s\n", payload.CredentialID)
		fmt.Printf("   Valid until: %s\n", payload.Constraints.ValidUntil.Format("2006-01-02"))
		return nil
	},
}

var (
	revokeServiceURL string
	revokeReason     string
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <credential-id>",
	Short: "Permanently revoke a credential",
	Long: `Revoke a credential. Revocation is terminal: the credential can
never be renewed or reactivated, and the revocation is broadcast to all
connected subscribers immediately.`,
	Example: `  agentid revoke cred-a1b2c3 --reason "key compromised"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/credentials/" + args[0] + "/revoke"
		body := map[string]any{"reason": revokeReason}
		if err := callAPI(cmd.Context(), http.MethodPost, revokeServiceURL, path, body, nil); err != nil {
			return fmt.Errorf("revoke failed: %w", err)
		}

		fmt.Printf("✅ Credential revoked: %s\n", args[0])
		if revokeReason != "" {
			fmt.Printf("   Reason: %s\n", revokeReason)
		}
		return nil
	},
}

func init() {
	issueCmd.Flags().StringVar(&issueServiceURL, "service", "http://localhost:8080", "Service base URL")
	issueCmd.Flags().StringVar(&issueIssuerID, "issuer", "", "Issuer ID (required)")
	issueCmd.Flags().StringVar(&issueAgentID, "agent", "", "Agent ID (required)")
	issueCmd.Flags().StringVar(&issueAgentName, "name", "", "Human-readable agent name")
	issueCmd.Flags().StringVar(&issueAgentType, "type", "", "Agent type")
	issueCmd.Flags().StringArrayVar(&issuePermissions, "permission", nil, "Permission to grant (repeatable)")
	issueCmd.Flags().StringVar(&issuePolicyID, "policy", "", "Policy ID to attach")
	issueCmd.Flags().IntVar(&issueValidityDays, "days", 0, "Validity in days (default: service default)")
	issueCmd.Flags().StringVar(&issueOut, "out", "", "Write the credential JSON to a file")

	renewCmd.Flags().StringVar(&renewServiceURL, "service", "http://localhost:8080", "Service base URL")
	renewCmd.Flags().IntVar(&renewExtendDays, "days", 30, "Days to extend")

	revokeCmd.Flags().StringVar(&revokeServiceURL, "service", "http://localhost:8080", "Service base URL")
	revokeCmd.Flags().StringVar(&revokeReason, "reason", "", "Revocation reason")

	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(revokeCmd)
}
