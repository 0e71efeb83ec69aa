// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/ap0nia/aponia-go/pkg/checks"
	"github.com/ap0nia/aponia-go/pkg/networking"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

// Profile is the raw user profile returned by an identity provider: the
// userinfo response body for OAuth 2.0, the validated ID token claims for
// OIDC.
type Profile map[string]any

// OnAuthFunc is the user callback invoked after a successful callback
// handshake. It receives the provider profile and the token set and decides
// what the login produces: typically a session plus a redirect. Returning a
// nil response redirects to the provider's configured post-callback page.
type OnAuthFunc func(ctx context.Context, profile Profile, tokens *TokenSet) (*transport.Response, error)

// RequestFunc replaces the default userinfo interaction for providers whose
// profile cannot be fetched with a plain bearer GET.
type RequestFunc func(ctx context.Context, tokens *TokenSet) (Profile, error)

// ConformFunc post-processes the raw token endpoint response body before it
// is parsed. Needed for providers that bend the spec (Twitch and friends).
type ConformFunc func(body []byte) ([]byte, error)

// Endpoint describes one provider endpoint: its URL plus optional static
// query parameters. The URL may be empty for userinfo endpoints that are
// served entirely by a custom RequestFunc.
type Endpoint struct {
	URL    string
	Params map[string]string
}

// Endpoints groups the three OAuth 2.0 endpoints of a provider.
type Endpoints struct {
	Authorization Endpoint
	Token         Endpoint
	Userinfo      Endpoint

	// TokenConform post-processes the raw token response (see ConformFunc).
	TokenConform ConformFunc

	// UserinfoRequest overrides the userinfo fetch (see RequestFunc).
	UserinfoRequest RequestFunc
}

// Config is the provider configuration record. Preset catalogs publish
// values of this type; user overrides are merged on top with MergeConfig.
type Config struct {
	// ID uniquely identifies the provider within an Auth instance and
	// appears in its default routes.
	ID string

	// ClientID and ClientSecret are the relying party credentials.
	ClientID     string
	ClientSecret string

	// Checks is the anti-forgery check set. Empty: {pkce}.
	Checks checks.Set

	// Endpoints are the provider endpoints. For OIDC providers they are
	// discovered and any configured values act as overrides.
	Endpoints Endpoints

	// Issuer is the OIDC issuer URL. Ignored by OAuth2Provider.
	Issuer string

	// Pages overrides the default login/callback routes.
	Pages *transport.Pages

	// OnAuth handles the authenticated profile.
	OnAuth OnAuthFunc
}

// Validate checks the fields every provider needs.
func (c *Config) Validate() error {
	if c.ID == "" {
		return errors.New("provider id is required")
	}
	if c.ClientID == "" {
		return errors.New("client ID is required")
	}
	return nil
}

// validateOAuth2 additionally requires explicit endpoints, which pure OAuth
// 2.0 providers cannot discover.
func (c *Config) validateOAuth2() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Endpoints.Authorization.URL == "" {
		return errors.New("authorization URL is required")
	}
	if c.Endpoints.Token.URL == "" {
		return errors.New("token URL is required")
	}
	if err := networking.ValidateEndpointURL(c.Endpoints.Authorization.URL); err != nil {
		return fmt.Errorf("invalid authorization URL: %w", err)
	}
	if err := networking.ValidateEndpointURL(c.Endpoints.Token.URL); err != nil {
		return fmt.Errorf("invalid token URL: %w", err)
	}
	return nil
}

// validateOIDC requires an issuer instead of explicit endpoints.
func (c *Config) validateOIDC() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Issuer == "" {
		return errors.New("issuer is required for OIDC providers")
	}
	if err := networking.ValidateEndpointURL(c.Issuer); err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	return nil
}

// pagesOrDefault resolves the provider's routes.
func (c *Config) pagesOrDefault() transport.Pages {
	if c.Pages != nil {
		return *c.Pages
	}
	return transport.DefaultPages(c.ID)
}

// checksOrDefault resolves the provider's check set.
func (c *Config) checksOrDefault() checks.Set {
	if len(c.Checks) == 0 {
		return checks.DefaultSet()
	}
	return c.Checks
}
