package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/agentid/agentid-core/pkg/credential"
	"github.com/agentid/agentid-core/pkg/policy"
)

var policyServiceURL string

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage permission policies",
	Long: `Create and manage versioned permission policies. Policy changes
apply to every assigned credential immediately, without re-issuance.`,
}

var (
	policySetIssuerID    string
	policySetName        string
	policySetPermissions []string
	policySetReason      string
)

var policySetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Create a policy or update it to a new version",
	Example: `  agentid policy set --issuer iss-1 --name readers \
    --permission read:* --reason "initial rollout"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := policy.UpsertRequest{
			IssuerID:     policySetIssuerID,
			Name:         policySetName,
			ChangeReason: policySetReason,
		}
		for _, p := range policySetPermissions {
			req.Permissions = append(req.Permissions, credential.Permission{Raw: p})
		}

		var result policy.UpsertResult
		if err := callAPI(cmd.Context(), http.MethodPost, policyServiceURL, "/api/policies", req, &result); err != nil {
			return fmt.Errorf("policy update failed: %w", err)
		}

		if result.Created {
			fmt.Printf("✅ Policy created: %s (version 1)\n", result.Policy.ID)
		} else {
			fmt.Printf("✅ Policy updated: %s (version %d)\n", result.Policy.ID, result.Version)
		}
		return nil
	},
}

var policyAssignCredentials []string

var policyAssignCmd = &cobra.Command{
	Use:     "assign <policy-id>",
	Short:   "Assign a policy to credentials",
	Example: `  agentid policy assign pol-1 --credential cred-a1 --credential cred-b2`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(policyAssignCredentials) == 0 {
			return fmt.Errorf("at least one --credential is required")
		}

		var resp struct {
			Assigned int64 `json:"assigned"`
		}
		path := "/api/policies/" + args[0] + "/assign"
		body := map[string]any{"credential_ids": policyAssignCredentials}
		if err := callAPI(cmd.Context(), http.MethodPost, policyServiceURL, path, body, &resp); err != nil {
			return fmt.Errorf("assign failed: %w", err)
		}

		fmt.Printf("✅ Policy %s assigned to %d credential(s)\n", args[0], resp.Assigned)
		return nil
	},
}

var policyRemoveCredentials []string

var policyRemoveCmd = &cobra.Command{
	Use:     "remove <policy-id>",
	Short:   "Detach a policy from credentials",
	Example: `  agentid policy remove pol-1 --credential cred-a1`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(policyRemoveCredentials) == 0 {
			return fmt.Errorf("at least one --credential is required")
		}

		var resp struct {
			Removed int64 `json:"removed"`
		}
		path := "/api/policies/" + args[0] + "/remove"
		body := map[string]any{"credential_ids": policyRemoveCredentials}
		if err := callAPI(cmd.Context(), http.MethodPost, policyServiceURL, path, body, &resp); err != nil {
			return fmt.Errorf("remove failed: %w", err)
		}

		fmt.Printf("✅ Policy %s removed from %d credential(s)\n", args[0], resp.Removed)
		return nil
	},
}

var policyHistoryCmd = &cobra.Command{
	Use:   "history <policy-id>",
	Short: "Show a policy's version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Versions []policy.Version `json:"versions"`
		}
		if err := callAPI(cmd.Context(), http.MethodGet, policyServiceURL, "/api/policies/"+args[0]+"/history", nil, &resp); err != nil {
			return fmt.Errorf("history lookup failed: %w", err)
		}

		if len(resp.Versions) == 0 {
			fmt.Println("No versions recorded.")
			return nil
		}
		for _, v := range resp.Versions {
			reason := v.ChangeReason
			if reason == "" {
				reason = "-"
			}
			fmt.Printf("v%-3d %s  %s\n", v.Version, v.CreatedAt.Format("2006-01-02 15:04"), reason)
		}
		return nil
	},
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete <policy-id>",
	Short: "Deactivate a policy and detach its credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Detached int64 `json:"detached_credentials"`
		}
		if err := callAPI(cmd.Context(), http.MethodDelete, policyServiceURL, "/api/policies/"+args[0], nil, &resp); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}

		fmt.Printf("✅ Policy %s deleted (%d credential(s) detached)\n", args[0], resp.Detached)
		return nil
	},
}

func init() {
	policyCmd.PersistentFlags().StringVar(&policyServiceURL, "service", "http://localhost:8080", "Service base URL")

	policySetCmd.Flags().StringVar(&policySetIssuerID, "issuer", "", "Issuer ID (required)")
	policySetCmd.Flags().StringVar(&policySetName, "name", "", "Policy name (required)")
	policySetCmd.Flags().StringArrayVar(&policySetPermissions, "permission", nil, "Permission to include (repeatable)")
	policySetCmd.Flags().StringVar(&policySetReason, "reason", "", "Change reason for the version history")

	policyAssignCmd.Flags().StringArrayVar(&policyAssignCredentials, "credential", nil, "Credential ID to assign (repeatable)")
	policyRemoveCmd.Flags().StringArrayVar(&policyRemoveCredentials, "credential", nil, "Credential ID to detach (repeatable)")

	policyCmd.AddCommand(policySetCmd)
	policyCmd.AddCommand(policyAssignCmd)
	policyCmd.AddCommand(policyRemoveCmd)
	policyCmd.AddCommand(policyHistoryCmd)
	policyCmd.AddCommand(policyDeleteCmd)
	rootCmd.AddCommand(policyCmd)
}
