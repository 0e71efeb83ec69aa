// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"

	"github.com/ap0nia/aponia-go/pkg/checks"
	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/logger"
	"github.com/ap0nia/aponia-go/pkg/networking"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

// DefaultOIDCScope is appended to the authorization request when the
// provider configuration carries no scope of its own.
const DefaultOIDCScope = "openid profile email"

var (
	// ErrNonceMismatch is returned when the nonce claim in the ID token
	// does not match the value persisted in the nonce cookie.
	ErrNonceMismatch = errors.New("ID token nonce does not match expected value")

	// ErrNonceMissing is returned when a nonce was sent on the
	// authorization request but the ID token carries none.
	ErrNonceMissing = errors.New("ID token missing nonce claim when nonce was expected")

	// ErrMissingIDToken is returned when the token response carries no ID
	// token. Per OIDC Core Section 3.1.3.3 one must be present.
	ErrMissingIDToken = errors.New("token response missing ID token")
)

// AuthorizationServer is the discovered OpenID Provider metadata, fetched
// from {issuer}/.well-known/openid-configuration and cached on the provider.
type AuthorizationServer struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// SupportsS256 reports whether the server advertises S256 PKCE support.
func (s *AuthorizationServer) SupportsS256() bool {
	return slices.Contains(s.CodeChallengeMethodsSupported, checks.ChallengeMethodS256)
}

// discovered is the immutable result of OIDC discovery: the server
// metadata, the effective endpoints and check set, and the ID token
// verifier. It is built once and published atomically; concurrent
// initializers converge on equivalent values.
type discovered struct {
	server    *AuthorizationServer
	endpoints Endpoints
	checks    checks.Set
	verifier  *oidc.IDTokenVerifier
}

// OIDCProvider layers OpenID Connect on the OAuth 2.0 engine: endpoints are
// discovered lazily from the issuer and the profile comes from the
// validated ID token.
type OIDCProvider struct {
	*OAuth2Provider

	initGroup singleflight.Group
	disc      atomic.Pointer[discovered]
}

// NewOIDCProvider creates a new OIDC provider. Discovery is lazy: the first
// login or callback fetches the issuer's well-known configuration.
func NewOIDCProvider(config *Config, opts ...Option) (*OIDCProvider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.validateOIDC(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Debugw("creating OIDC provider",
		"id", config.ID,
		"issuer", config.Issuer,
	)

	p := &OIDCProvider{OAuth2Provider: newBaseProvider(config)}
	for _, opt := range opts {
		opt(p.OAuth2Provider)
	}
	return p, nil
}

// initialize runs OIDC discovery once per provider instance. Concurrent
// callers share a single in-flight fetch; a failed fetch is retried by the
// next caller.
func (p *OIDCProvider) initialize(ctx context.Context) (*discovered, error) {
	if d := p.disc.Load(); d != nil {
		return d, nil
	}

	result, err, _ := p.initGroup.Do("discovery", func() (any, error) {
		if d := p.disc.Load(); d != nil {
			return d, nil
		}
		d, err := p.discover(ctx)
		if err != nil {
			return nil, err
		}
		p.disc.Store(d)
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
	}
	return result.(*discovered), nil
}

// discover fetches and validates the issuer metadata and derives the
// provider's effective endpoints and check set from it.
func (p *OIDCProvider) discover(ctx context.Context) (*discovered, error) {
	// go-oidc validates that the document's issuer matches exactly; inject
	// our HTTP client so its fetch honors the provider's timeouts.
	if client, ok := p.httpClient.(*http.Client); ok {
		ctx = oidc.ClientContext(ctx, client)
	}
	oidcProvider, err := oidc.NewProvider(ctx, p.config.Issuer)
	if err != nil {
		return nil, err
	}

	server := &AuthorizationServer{}
	if err := oidcProvider.Claims(server); err != nil {
		return nil, fmt.Errorf("failed to extract provider metadata: %w", err)
	}
	if err := validateAuthorizationServer(server); err != nil {
		return nil, fmt.Errorf("invalid provider metadata: %w", err)
	}

	// Configured endpoints override discovery; params and hooks always
	// come from the configuration.
	endpoints := p.config.Endpoints
	if endpoints.Authorization.URL == "" {
		endpoints.Authorization.URL = server.AuthorizationEndpoint
	}
	if endpoints.Token.URL == "" {
		endpoints.Token.URL = server.TokenEndpoint
	}
	if endpoints.Userinfo.URL == "" {
		endpoints.Userinfo.URL = server.UserinfoEndpoint
	}

	// A provider that does not advertise S256 cannot honor our PKCE
	// challenge; fall back to nonce so the flow keeps a replay check.
	effective := p.checkSet
	if effective.Contains(checks.PKCE) && !server.SupportsS256() {
		logger.Infow("authorization server does not advertise S256, downgrading PKCE to nonce",
			"provider", p.config.ID,
			"issuer", server.Issuer,
		)
		effective = checks.Set{checks.Nonce}
	}

	return &discovered{
		server:    server,
		endpoints: endpoints,
		checks:    effective,
		verifier:  oidcProvider.Verifier(&oidc.Config{ClientID: p.config.ClientID}),
	}, nil
}

// AuthorizationServerMetadata returns the cached discovery result, or nil
// if discovery has not run yet.
func (p *OIDCProvider) AuthorizationServerMetadata() *AuthorizationServer {
	if d := p.disc.Load(); d != nil {
		return d.server
	}
	return nil
}

// EffectiveChecks returns the check set in force after discovery, or the
// configured set if discovery has not run yet.
func (p *OIDCProvider) EffectiveChecks() checks.Set {
	if d := p.disc.Load(); d != nil {
		return d.checks
	}
	return p.checkSet
}

// Login starts the OIDC flow. Discovery runs first if needed, then the
// OAuth 2.0 login executes against the discovered endpoints with the
// default OIDC scope applied when none is configured.
func (p *OIDCProvider) Login(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	d, err := p.initialize(ctx)
	if err != nil {
		return nil, err
	}

	authorization := d.endpoints.Authorization
	if authorization.Params["scope"] == "" {
		params := make(map[string]string, len(authorization.Params)+1)
		for k, v := range authorization.Params {
			params[k] = v
		}
		params["scope"] = DefaultOIDCScope
		authorization.Params = params
	}

	return p.loginAt(ctx, req, authorization, d.checks)
}

// Callback completes the OIDC flow: state and PKCE run as in OAuth 2.0, the
// nonce cookie is consumed after the token exchange, and the ID token is
// validated (signature, issuer, audience, expiry, nonce). The profile is
// the validated ID token claims.
func (p *OIDCProvider) Callback(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	d, err := p.initialize(ctx)
	if err != nil {
		return nil, err
	}
	cfg := p.checkConfigFor(d.checks)
	var deletions []cookies.Cookie

	state, stateDeletion, err := checks.UseState(req, cfg)
	if err != nil {
		return nil, err
	}
	if stateDeletion != nil {
		deletions = append(deletions, *stateDeletion)
	}

	code, err := validateAuthorizationResponse(req.URL.Query(), state)
	if err != nil {
		return nil, err
	}

	codeVerifier, pkceDeletion, err := checks.UsePKCE(req, cfg)
	if err != nil {
		return nil, err
	}
	if pkceDeletion != nil {
		deletions = append(deletions, *pkceDeletion)
	}

	tokens, err := p.exchangeCodeAt(
		ctx,
		d.endpoints.Token,
		code,
		codeVerifier,
		req.Origin()+p.pages.Callback.Route,
	)
	if err != nil {
		return nil, err
	}

	nonce, nonceDeletion, err := checks.UseNonce(req, cfg)
	if err != nil {
		return nil, err
	}
	if nonceDeletion != nil {
		deletions = append(deletions, *nonceDeletion)
	}

	profile, err := p.validateIDToken(ctx, d, tokens, nonce)
	if err != nil {
		return nil, err
	}
	if len(profile) == 0 {
		return nil, ErrMissingProfile
	}

	response, err := p.handleProfile(ctx, profile, tokens)
	if err != nil {
		return nil, err
	}
	for _, c := range deletions {
		response.SetCookie(c)
	}
	return response, nil
}

// validateIDToken verifies the ID token and returns its claims as the
// profile. When a nonce was persisted for this flow the token must echo it.
func (p *OIDCProvider) validateIDToken(
	ctx context.Context,
	d *discovered,
	tokens *TokenSet,
	nonce string,
) (Profile, error) {
	if tokens.IDToken == "" {
		return nil, ErrMissingIDToken
	}

	idToken, err := d.verifier.Verify(ctx, tokens.IDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	if nonce != checks.Skip {
		if idToken.Nonce == "" {
			return nil, ErrNonceMissing
		}
		if idToken.Nonce != nonce {
			return nil, ErrNonceMismatch
		}
	}

	profile := make(Profile)
	if err := idToken.Claims(&profile); err != nil {
		return nil, fmt.Errorf("failed to extract ID token claims: %w", err)
	}
	return profile, nil
}

// validateAuthorizationServer checks the discovered endpoints use secure
// schemes. go-oidc already validated the issuer match.
func validateAuthorizationServer(server *AuthorizationServer) error {
	if server.AuthorizationEndpoint == "" {
		return errors.New("missing authorization_endpoint")
	}
	if server.TokenEndpoint == "" {
		return errors.New("missing token_endpoint")
	}
	endpoints := map[string]string{
		"authorization_endpoint": server.AuthorizationEndpoint,
		"token_endpoint":         server.TokenEndpoint,
		"userinfo_endpoint":      server.UserinfoEndpoint,
		"jwks_uri":               server.JWKSURI,
	}
	for name, endpoint := range endpoints {
		if endpoint == "" {
			continue
		}
		if err := networking.ValidateEndpointURL(endpoint); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}
