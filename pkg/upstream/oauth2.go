// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ap0nia/aponia-go/pkg/checks"
	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/jwe"
	"github.com/ap0nia/aponia-go/pkg/logger"
	"github.com/ap0nia/aponia-go/pkg/networking"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

var (
	// ErrStateMismatch is returned when the state echoed by the
	// authorization server does not match the state cookie.
	ErrStateMismatch = errors.New("authorization response state does not match expected value")

	// ErrMissingCode is returned when the callback carries no authorization code.
	ErrMissingCode = errors.New("authorization response missing code")

	// ErrMissingProfile is returned when the provider yields an empty profile.
	ErrMissingProfile = errors.New("provider returned an empty profile")

	// ErrMissingUserinfo is returned when no userinfo endpoint or custom
	// request is configured.
	ErrMissingUserinfo = errors.New("userinfo endpoint is not configured")
)

// OAuth2Provider executes the authorization code flow against explicitly
// configured endpoints.
type OAuth2Provider struct {
	config     *Config
	pages      transport.Pages
	checkSet   checks.Set
	jwt        jwe.Options
	cookies    *cookies.Options
	httpClient networking.HTTPClient
}

// Option configures a provider.
type Option func(*OAuth2Provider)

// WithHTTPClient sets a custom HTTP client for outbound provider traffic.
func WithHTTPClient(client networking.HTTPClient) Option {
	return func(p *OAuth2Provider) {
		p.httpClient = client
	}
}

// NewOAuth2Provider creates a new OAuth 2.0 provider.
// Use this for providers that don't support OIDC discovery; the config must
// include explicit authorization and token endpoints.
func NewOAuth2Provider(config *Config, opts ...Option) (*OAuth2Provider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.validateOAuth2(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Debugw("creating OAuth2 provider",
		"id", config.ID,
		"authorization_endpoint", config.Endpoints.Authorization.URL,
		"token_endpoint", config.Endpoints.Token.URL,
	)

	p := newBaseProvider(config)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// newBaseProvider builds the provider state shared by the OAuth 2.0 and
// OIDC engines. Validation is the caller's responsibility.
func newBaseProvider(config *Config) *OAuth2Provider {
	return &OAuth2Provider{
		config:     config,
		pages:      config.pagesOrDefault(),
		checkSet:   config.checksOrDefault(),
		cookies:    cookies.DefaultOptions(false),
		httpClient: networking.DefaultClient(),
	}
}

// ID returns the provider id.
func (p *OAuth2Provider) ID() string {
	return p.config.ID
}

// Pages returns the provider's login and callback endpoints.
func (p *OAuth2Provider) Pages() transport.Pages {
	return p.pages
}

// SetAuthOptions shares the session manager's token codec and cookie
// templates with the provider. Called by the router during construction.
func (p *OAuth2Provider) SetAuthOptions(jwt jwe.Options, cookieOptions *cookies.Options) {
	p.jwt = jwt
	if cookieOptions != nil {
		p.cookies = cookieOptions
	}
}

// checkConfigFor builds the anti-forgery check configuration for the given
// effective check set.
func (p *OAuth2Provider) checkConfigFor(set checks.Set) *checks.Config {
	return &checks.Config{Checks: set, JWT: p.jwt, Cookies: p.cookies}
}

// Login starts the authorization code flow: it builds the authorization URL
// with the configured params and the anti-forgery values, persists the
// one-time values as cookies, and redirects.
func (p *OAuth2Provider) Login(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return p.loginAt(ctx, req, p.config.Endpoints.Authorization, p.checkSet)
}

// loginAt builds the authorization redirect for the given authorization
// endpoint and effective check set. The anti-forgery checks run in a fixed
// order: state, then PKCE, then nonce; their cookies are appended in the
// same order.
func (p *OAuth2Provider) loginAt(
	_ context.Context,
	req *transport.Request,
	authorization Endpoint,
	set checks.Set,
) (*transport.Response, error) {
	authorizationURL, err := url.Parse(authorization.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization URL: %w", err)
	}

	query := authorizationURL.Query()
	for k, v := range authorization.Params {
		query.Set(k, v)
	}
	if query.Get("client_id") == "" {
		query.Set("client_id", p.config.ClientID)
	}
	if query.Get("response_type") == "" {
		query.Set("response_type", "code")
	}
	if query.Get("redirect_uri") == "" {
		query.Set("redirect_uri", req.Origin()+p.pages.Callback.Route)
	}

	response := &transport.Response{}
	cfg := p.checkConfigFor(set)

	if set.Contains(checks.State) {
		value, cookie, err := checks.CreateState(cfg)
		if err != nil {
			return nil, err
		}
		query.Set("state", value)
		response.SetCookie(cookie)
	}
	if set.Contains(checks.PKCE) {
		challenge, cookie, err := checks.CreatePKCE(cfg)
		if err != nil {
			return nil, err
		}
		query.Set("code_challenge", challenge)
		query.Set("code_challenge_method", checks.ChallengeMethodS256)
		response.SetCookie(cookie)
	}
	if set.Contains(checks.Nonce) {
		value, cookie, err := checks.CreateNonce(cfg)
		if err != nil {
			return nil, err
		}
		query.Set("nonce", value)
		response.SetCookie(cookie)
	}

	authorizationURL.RawQuery = query.Encode()
	response.Status = http.StatusFound
	response.Redirect = authorizationURL.String()

	logger.Debugw("built authorization redirect",
		"provider", p.config.ID,
		"has_state", set.Contains(checks.State),
		"has_pkce", set.Contains(checks.PKCE),
		"has_nonce", set.Contains(checks.Nonce),
	)
	return response, nil
}

// Callback completes the flow: verify state, exchange the code (with PKCE
// verifier), fetch the profile and hand it to the user's OnAuth callback.
// The check cookies consumed along the way are deleted via the returned
// response.
func (p *OAuth2Provider) Callback(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	cfg := p.checkConfigFor(p.checkSet)
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
		p.config.Endpoints.Token,
		code,
		codeVerifier,
		req.Origin()+p.pages.Callback.Route,
	)
	if err != nil {
		return nil, err
	}

	profile, err := p.fetchProfile(ctx, p.config.Endpoints.Userinfo, tokens)
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

// handleProfile invokes OnAuth, synthesizing the default post-callback
// redirect when the callback declines to produce a response.
func (p *OAuth2Provider) handleProfile(
	ctx context.Context,
	profile Profile,
	tokens *TokenSet,
) (*transport.Response, error) {
	if p.config.OnAuth != nil {
		response, err := p.config.OnAuth(ctx, profile, tokens)
		if err != nil {
			return nil, err
		}
		if response != nil {
			return response, nil
		}
	}
	return &transport.Response{
		Status:   http.StatusFound,
		Redirect: p.pages.Callback.Redirect,
	}, nil
}

// validateAuthorizationResponse checks the callback query parameters:
// provider errors fail the flow, the echoed state must match the cookie
// value (unless the state check was skipped), and a code must be present.
func validateAuthorizationResponse(query url.Values, expectedState string) (string, error) {
	if errCode := query.Get("error"); errCode != "" {
		if description := query.Get("error_description"); description != "" {
			return "", fmt.Errorf("authorization error %q: %s", errCode, description)
		}
		return "", fmt.Errorf("authorization error %q", errCode)
	}

	if expectedState != checks.Skip && query.Get("state") != expectedState {
		return "", ErrStateMismatch
	}

	code := query.Get("code")
	if code == "" {
		return "", ErrMissingCode
	}
	return code, nil
}

// exchangeCodeAt performs the authorization code grant against the given
// token endpoint and parses the response into a TokenSet.
func (p *OAuth2Provider) exchangeCodeAt(
	ctx context.Context,
	token Endpoint,
	code, codeVerifier, redirectURI string,
) (*TokenSet, error) {
	params := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
		"client_id":    {p.config.ClientID},
	}
	if p.config.ClientSecret != "" {
		params.Set("client_secret", p.config.ClientSecret)
	}
	if codeVerifier != "" && codeVerifier != checks.Skip {
		params.Set("code_verifier", codeVerifier)
	}
	for k, v := range token.Params {
		params.Set(k, v)
	}

	logger.Debugw("exchanging authorization code for tokens",
		"provider", p.config.ID,
		"token_endpoint", token.URL,
		"has_pkce_verifier", params.Get("code_verifier") != "",
	)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		token.URL,
		strings.NewReader(params.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", networking.ContentTypeForm)
	req.Header.Set("Accept", networking.ContentTypeJSON)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, networking.MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	// Conform transforms a copy so the provider hook cannot corrupt the
	// buffer on failure.
	if p.config.Endpoints.TokenConform != nil {
		conformed, err := p.config.Endpoints.TokenConform(bytes.Clone(body))
		if err != nil {
			return nil, fmt.Errorf("token response conform failed: %w", err)
		}
		body = conformed
	}

	return parseTokenResponse(body, resp.StatusCode, resp.Header.Get("WWW-Authenticate"))
}

// fetchProfile resolves the user profile: a custom userinfo request if
// configured, otherwise a bearer GET to the userinfo endpoint.
func (p *OAuth2Provider) fetchProfile(
	ctx context.Context,
	userinfo Endpoint,
	tokens *TokenSet,
) (Profile, error) {
	if p.config.Endpoints.UserinfoRequest != nil {
		return p.config.Endpoints.UserinfoRequest(ctx, tokens)
	}
	if userinfo.URL == "" {
		return nil, ErrMissingUserinfo
	}

	profile, err := networking.FetchJSON[Profile](
		ctx,
		p.httpClient,
		userinfo.URL,
		networking.WithHeader("Authorization", "Bearer "+tokens.AccessToken),
	)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	return profile, nil
}
