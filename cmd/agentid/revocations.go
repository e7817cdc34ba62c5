package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentid/agentid-core/pkg/broadcast"
	"github.com/agentid/agentid-core/pkg/revocation"
)

var revocationsServiceURL string

var revocationsCmd = &cobra.Command{
	Use:   "revocations",
	Short: "Manage the local revocation cache",
	Long: `Keep the local revocation cache in sync with the service so
offline verification can reject revoked credentials.

Location: ~/.agentid/cache/ (or $AGENTID_CACHE_PATH)`,
}

var revocationsSyncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Fetch all revocations once",
	Example: `  agentid revocations sync --service https://api.agentid.example`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cache, err := revocation.NewFileCache("")
		if err != nil {
			return fmt.Errorf("failed to open revocation cache: %w", err)
		}

		sub, err := revocation.NewSubscriber(revocation.SubscriberConfig{
			BaseURL: revocationsServiceURL,
		}, cache, nil)
		if err != nil {
			return err
		}
		if err := sub.Poll(cmd.Context()); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("✅ Revocation cache synced: %d entries\n", cache.Count())
		return nil
	},
}

var revocationsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream revocations continuously",
	Long: `Subscribe to the service's revocation stream and keep the local
cache current. Falls back to polling while the stream is down.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cache, err := revocation.NewFileCache("")
		if err != nil {
			return fmt.Errorf("failed to open revocation cache: %w", err)
		}

		sub, err := revocation.NewSubscriber(revocation.SubscriberConfig{
			BaseURL: revocationsServiceURL,
		}, cache, func(rev broadcast.Revocation) {
			log.Printf("revoked: %s (%s)", rev.CredentialID, rev.Reason)
		})
		if err != nil {
			return err
		}

		log.Printf("watching revocations from %s", revocationsServiceURL)
		return sub.Run(cmd.Context())
	},
}

var revocationsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cache's size and freshness",
	RunE: func(_ *cobra.Command, _ []string) error {
		cache, err := revocation.NewFileCache("")
		if err != nil {
			return fmt.Errorf("failed to open revocation cache: %w", err)
		}

		fmt.Printf("Entries: %d\n", cache.Count())
		if synced := cache.LastSynced(); synced.IsZero() {
			fmt.Println("Last synced: never")
		} else {
			fmt.Printf("Last synced: %s\n", synced.Format(time.RFC3339))
		}
		if cache.IsStale(24 * time.Hour) {
			fmt.Println("⚠️  Cache is stale; run \"agentid revocations sync\"")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(revocationsCmd)
	revocationsCmd.AddCommand(revocationsSyncCmd)
	revocationsCmd.AddCommand(revocationsWatchCmd)
	revocationsCmd.AddCommand(revocationsStatusCmd)

	revocationsCmd.PersistentFlags().StringVar(&revocationsServiceURL, "service", "http://localhost:8080", "Service base URL")
}
