// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the aponia-demo command-line
// application.
package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envKeyReplacer maps flag names like oidc-client-id onto environment
// variable fragments like OIDC_CLIENT_ID.
var envKeyReplacer = strings.NewReplacer("-", "_")

var rootCmd = &cobra.Command{
	Use:               "aponia-demo",
	DisableAutoGenTag: true,
	Short:             "Run a demo web server protected by aponia authentication",
	Long: `aponia-demo starts a small web server that wires the aponia auth core
into a chi router. It registers an OIDC provider, a GitHub OAuth provider and
a credentials provider, and protects a single page that shows the session.

Configuration comes from flags or APONIA_* environment variables, for example
APONIA_SECRET or APONIA_OIDC_ISSUER.`,
	RunE: runServe,
}

// NewRootCmd creates a new root command for the aponia-demo CLI.
func NewRootCmd() *cobra.Command {
	flags := rootCmd.Flags()
	flags.String("address", "localhost:8080", "Address to listen on")
	flags.String("secret", "", "Secret for session cookie encryption (required)")
	flags.String("oidc-issuer", "", "OIDC issuer URL, e.g. https://accounts.google.com")
	flags.String("oidc-client-id", "", "OIDC client ID")
	flags.String("oidc-client-secret", "", "OIDC client secret")
	flags.String("github-client-id", "", "GitHub OAuth client ID")
	flags.String("github-client-secret", "", "GitHub OAuth client secret")
	flags.Bool("secure-cookies", false, "Emit __Secure- prefixed cookies (requires HTTPS)")

	viper.SetEnvPrefix("APONIA")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	for _, name := range []string{
		"address",
		"secret",
		"oidc-issuer",
		"oidc-client-id",
		"oidc-client-secret",
		"github-client-id",
		"github-client-secret",
		"secure-cookies",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
		}
	}

	return rootCmd
}
