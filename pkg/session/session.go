// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package session maintains the access/refresh token lifecycle. All session
// state lives in two encrypted cookies; the manager decodes them on every
// request, lets user code mint or refresh sessions, and emits the resulting
// cookies.
//
// The manager never hard-fails a request: an undecodable cookie is logged
// and treated as absent, so the request proceeds as anonymous.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/jwe"
	"github.com/ap0nia/aponia-go/pkg/logger"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

// NewSession is what user code returns when a session is created or
// refreshed: the identified user plus the claim bags to persist in the
// access and (optionally) refresh cookies.
type NewSession struct {
	User         any
	AccessToken  map[string]any
	RefreshToken map[string]any
}

// TokenPair carries the decoded access and refresh claim bags handed to the
// refresh callback. Either side may be nil.
type TokenPair struct {
	AccessToken  map[string]any
	RefreshToken map[string]any
}

// Config configures a Manager.
type Config struct {
	// Secret is the instance secret used by the token codec. Required
	// unless JWT is fully specified.
	Secret string

	// JWT overrides the token codec. Zero value: the jwe package codec
	// keyed by Secret.
	JWT jwe.Options

	// Cookies overrides the cookie templates. Nil: DefaultOptions(false).
	Cookies *cookies.Options

	// AccessTokenMaxAge is the access cookie and token lifetime.
	// Zero: jwe.DefaultAccessTokenMaxAge.
	AccessTokenMaxAge time.Duration

	// RefreshTokenMaxAge is the refresh cookie and token lifetime.
	// Zero: jwe.DefaultRefreshTokenMaxAge.
	RefreshTokenMaxAge time.Duration

	// LogoutRedirect is where a logout without a custom invalidation
	// response redirects to. The router overwrites this with its own
	// configured page. Zero: "/".
	LogoutRedirect string

	// CreateSession converts an authenticated user into a new session.
	CreateSession func(ctx context.Context, user any) (*NewSession, error)

	// GetUserFromSession maps decoded access claims to a user value.
	// Nil: identity (the claim bag itself is the user).
	GetUserFromSession func(session map[string]any) any

	// HandleRefresh may mint a new session from the decoded token pair.
	// It runs on every request; returning nil means nothing to do.
	HandleRefresh func(ctx context.Context, tokens TokenPair) (*NewSession, error)

	// OnInvalidateSession customizes the logout response. Nil: redirect to
	// LogoutRedirect.
	OnInvalidateSession func(
		ctx context.Context,
		accessToken, refreshToken map[string]any,
		manager *Manager,
	) (*transport.Response, error)
}

// ErrMissingSecret is returned by NewManager when no codec secret is available.
var ErrMissingSecret = errors.New("session: a secret is required to encode session cookies")

// Manager owns the access/refresh cookie lifecycle.
type Manager struct {
	config Config

	// JWT and Cookies are shared with every provider registered on the
	// same Auth instance.
	JWT     jwe.Options
	Cookies *cookies.Options
}

// NewManager validates the config and builds a Manager.
func NewManager(config Config) (*Manager, error) {
	jwtOptions := config.JWT
	if jwtOptions.Secret == "" {
		jwtOptions.Secret = config.Secret
	}
	if jwtOptions.Secret == "" {
		return nil, ErrMissingSecret
	}

	cookieOptions := config.Cookies
	if cookieOptions == nil {
		cookieOptions = cookies.DefaultOptions(false)
	}
	if config.AccessTokenMaxAge <= 0 {
		config.AccessTokenMaxAge = jwe.DefaultAccessTokenMaxAge
	}
	if config.RefreshTokenMaxAge <= 0 {
		config.RefreshTokenMaxAge = jwe.DefaultRefreshTokenMaxAge
	}
	if config.LogoutRedirect == "" {
		config.LogoutRedirect = "/"
	}

	return &Manager{
		config:  config,
		JWT:     jwtOptions,
		Cookies: cookieOptions,
	}, nil
}

// SetLogoutRedirect overrides the logout redirect target. Called by the
// router during construction.
func (m *Manager) SetLogoutRedirect(target string) {
	if target != "" {
		m.config.LogoutRedirect = target
	}
}

// decodeCookie decodes the named token cookie. Failures are soft: they are
// logged and yield nil, never an error.
func (m *Manager) decodeCookie(req *transport.Request, tmpl cookies.Template, role string) map[string]any {
	raw, ok := req.Cookie(tmpl.Name)
	if !ok {
		return nil
	}
	claims, err := m.JWT.DecodeToken(raw)
	if err != nil {
		logger.Debugw("failed to decode session cookie, treating as absent",
			"role", role,
			"error", err,
		)
		return nil
	}
	return claims
}

// DecodeAccessToken returns the decoded access-token claims, or nil.
func (m *Manager) DecodeAccessToken(req *transport.Request) map[string]any {
	return m.decodeCookie(req, m.Cookies.AccessToken, "access")
}

// DecodeRefreshToken returns the decoded refresh-token claims, or nil.
func (m *Manager) DecodeRefreshToken(req *transport.Request) map[string]any {
	return m.decodeCookie(req, m.Cookies.RefreshToken, "refresh")
}

// GetUser decodes the access cookie and maps it to a user value, or nil.
func (m *Manager) GetUser(req *transport.Request) any {
	claims := m.DecodeAccessToken(req)
	if claims == nil {
		return nil
	}
	return m.userFromSession(claims)
}

func (m *Manager) userFromSession(claims map[string]any) any {
	if m.config.GetUserFromSession == nil {
		return claims
	}
	return m.config.GetUserFromSession(claims)
}

// CreateSession invokes the user's session factory.
func (m *Manager) CreateSession(ctx context.Context, user any) (*NewSession, error) {
	if m.config.CreateSession == nil {
		return nil, nil
	}
	return m.config.CreateSession(ctx, user)
}

// CreateCookies encodes the session's tokens into cookies: the access cookie
// first, then the refresh cookie if the session carries one. Each token is
// encoded with its own max age, which is also set as the cookie lifetime.
func (m *Manager) CreateCookies(ns *NewSession) ([]cookies.Cookie, error) {
	var out []cookies.Cookie

	access, err := m.JWT.EncodeToken(ns.AccessToken, m.config.AccessTokenMaxAge)
	if err != nil {
		return nil, err
	}
	accessCookie := m.Cookies.AccessToken.New(access)
	accessCookie.MaxAge = int(m.config.AccessTokenMaxAge.Seconds())
	out = append(out, accessCookie)

	if ns.RefreshToken != nil {
		refresh, err := m.JWT.EncodeToken(ns.RefreshToken, m.config.RefreshTokenMaxAge)
		if err != nil {
			return nil, err
		}
		refreshCookie := m.Cookies.RefreshToken.New(refresh)
		refreshCookie.MaxAge = int(m.config.RefreshTokenMaxAge.Seconds())
		out = append(out, refreshCookie)
	}
	return out, nil
}

// HandleRequest runs the session lifecycle for any incoming request: decode
// both token cookies, map the user, and give the refresh callback a chance
// to mint new tokens. The returned response carries at most the user and the
// refreshed cookies; it never carries an error.
func (m *Manager) HandleRequest(ctx context.Context, req *transport.Request) *transport.Response {
	response := &transport.Response{}

	accessClaims := m.DecodeAccessToken(req)
	refreshClaims := m.DecodeRefreshToken(req)

	if accessClaims != nil {
		response.User = m.userFromSession(accessClaims)
	}

	if m.config.HandleRefresh == nil {
		return response
	}

	refreshed, err := m.config.HandleRefresh(ctx, TokenPair{
		AccessToken:  accessClaims,
		RefreshToken: refreshClaims,
	})
	if err != nil {
		logger.Warnw("session refresh failed, continuing without refresh", "error", err)
		return response
	}
	if refreshed == nil {
		return response
	}

	refreshedCookies, err := m.CreateCookies(refreshed)
	if err != nil {
		logger.Warnw("failed to encode refreshed session cookies", "error", err)
		return response
	}
	for _, c := range refreshedCookies {
		response.SetCookie(c)
	}
	if response.User == nil && refreshed.User != nil {
		response.User = refreshed.User
	}
	return response
}

// Logout invalidates the session. If an access token was decoded and the
// user supplied an invalidation callback, its response is used; otherwise a
// redirect to the configured logout target is synthesized. Deletion cookies
// for both tokens are always appended, access first.
func (m *Manager) Logout(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	accessClaims := m.DecodeAccessToken(req)
	refreshClaims := m.DecodeRefreshToken(req)

	var response *transport.Response
	if accessClaims != nil && m.config.OnInvalidateSession != nil {
		custom, err := m.config.OnInvalidateSession(ctx, accessClaims, refreshClaims, m)
		if err != nil {
			return nil, err
		}
		response = custom
	}
	if response == nil {
		response = &transport.Response{
			Status:   302,
			Redirect: m.config.LogoutRedirect,
		}
	}

	response.SetCookie(m.Cookies.AccessToken.Deletion())
	response.SetCookie(m.Cookies.RefreshToken.Deletion())
	return response, nil
}
