// Package main is the entry point for the AgentID CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentid",
	Short: "AgentID credential service CLI",
	Long: `Issue, verify, and manage Ed25519-signed agent credentials.
Runs the credential service, manages issuer keys and the local trust store,
and keeps a local revocation cache in sync.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
