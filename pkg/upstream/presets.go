// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"fmt"

	"dario.cat/mergo"

	"github.com/ap0nia/aponia-go/pkg/checks"
)

// MergeConfig layers a user override on top of a provider preset.
// Scalars from the override win, check sets are unioned, endpoint records
// are merged field-wise with their params maps merged key-wise.
func MergeConfig(preset, override *Config) (*Config, error) {
	merged := *override
	if err := mergo.Merge(&merged, *preset); err != nil {
		return nil, fmt.Errorf("failed to merge provider config: %w", err)
	}
	merged.Checks = unionChecks(override.Checks, preset.Checks)
	return &merged, nil
}

// unionChecks unions two check sets, override entries first, preserving
// first-seen order.
func unionChecks(override, preset checks.Set) checks.Set {
	if len(override) == 0 {
		return preset
	}
	union := make(checks.Set, 0, len(override)+len(preset))
	union = append(union, override...)
	for _, name := range preset {
		if !union.Contains(name) {
			union = append(union, name)
		}
	}
	return union
}

// GitHub is the OAuth 2.0 preset for GitHub. Merge credentials and
// overrides on top with MergeConfig, or fill the returned value directly.
func GitHub(clientID, clientSecret string) *Config {
	return &Config{
		ID:           "github",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Checks:       checks.Set{checks.PKCE, checks.State},
		Endpoints: Endpoints{
			Authorization: Endpoint{
				URL:    "https://github.com/login/oauth/authorize",
				Params: map[string]string{"scope": "read:user user:email"},
			},
			Token:    Endpoint{URL: "https://github.com/login/oauth/access_token"},
			Userinfo: Endpoint{URL: "https://api.github.com/user"},
		},
	}
}

// Google is the OIDC preset for Google accounts.
func Google(clientID, clientSecret string) *Config {
	return &Config{
		ID:           "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Issuer:       "https://accounts.google.com",
		Checks:       checks.Set{checks.PKCE, checks.State, checks.Nonce},
	}
}
