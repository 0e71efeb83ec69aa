// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth is the entry point of the library: the router that owns the
// session manager and the registered providers, and dispatches each
// incoming request to the right one.
//
// The router intercepts four kinds of paths: the static session and logout
// endpoints, each provider's login route, and each provider's callback
// route. Every other request still flows through the session manager so
// token refresh can piggyback on any request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/jwe"
	"github.com/ap0nia/aponia-go/pkg/logger"
	"github.com/ap0nia/aponia-go/pkg/session"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

// Provider is implemented by every authentication provider that can be
// registered on an Auth instance.
type Provider interface {
	// ID uniquely identifies the provider within an instance.
	ID() string

	// Pages returns the provider's login and callback endpoints.
	Pages() transport.Pages

	// SetAuthOptions shares the session manager's token codec and cookie
	// templates with the provider during router construction.
	SetAuthOptions(jwt jwe.Options, cookieOptions *cookies.Options)

	// Login starts the provider's flow.
	Login(ctx context.Context, req *transport.Request) (*transport.Response, error)

	// Callback completes the provider's flow.
	Callback(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Pages are the static page paths of an Auth instance.
type Pages struct {
	// LoginRedirect is where a login that identified a user but set no
	// redirect goes. Default "/".
	LoginRedirect string

	// LogoutRedirect is where logout goes. Default "/".
	LogoutRedirect string

	// Logout is the logout endpoint path. Default "/auth/logout".
	Logout string

	// Session is the session introspection endpoint path.
	// Default "/auth/session".
	Session string
}

func (p Pages) withDefaults() Pages {
	if p.LoginRedirect == "" {
		p.LoginRedirect = "/"
	}
	if p.LogoutRedirect == "" {
		p.LogoutRedirect = "/"
	}
	if p.Logout == "" {
		p.Logout = "/auth/logout"
	}
	if p.Session == "" {
		p.Session = "/auth/session"
	}
	return p
}

// Config configures an Auth instance.
type Config struct {
	// Session is the session manager. Required.
	Session *session.Manager

	// Providers are registered in order; each contributes one login route
	// and one callback route.
	Providers []Provider

	// Pages overrides the static page paths.
	Pages Pages
}

// Auth routes authentication requests. The route maps are built once during
// construction and are read-only afterwards, so an instance is safe for
// concurrent use.
type Auth struct {
	session   *session.Manager
	providers []Provider
	pages     Pages

	loginRoutes    map[string]Provider
	callbackRoutes map[string]Provider
}

// New validates the configuration, propagates the session manager's codec
// and cookie templates into every provider, and builds the route maps.
func New(config Config) (*Auth, error) {
	if config.Session == nil {
		return nil, errors.New("auth: a session manager is required")
	}

	a := &Auth{
		session:        config.Session,
		providers:      config.Providers,
		pages:          config.Pages.withDefaults(),
		loginRoutes:    make(map[string]Provider, len(config.Providers)),
		callbackRoutes: make(map[string]Provider, len(config.Providers)),
	}
	a.session.SetLogoutRedirect(a.pages.LogoutRedirect)

	seen := make(map[string]bool, len(config.Providers))
	for _, provider := range config.Providers {
		if seen[provider.ID()] {
			return nil, fmt.Errorf("auth: duplicate provider id %q", provider.ID())
		}
		seen[provider.ID()] = true

		provider.SetAuthOptions(config.Session.JWT, config.Session.Cookies)

		pages := provider.Pages()
		if existing, ok := a.loginRoutes[pages.Login.Route]; ok {
			return nil, fmt.Errorf("auth: login route %q of provider %q already registered by %q",
				pages.Login.Route, provider.ID(), existing.ID())
		}
		if existing, ok := a.callbackRoutes[pages.Callback.Route]; ok {
			return nil, fmt.Errorf("auth: callback route %q of provider %q already registered by %q",
				pages.Callback.Route, provider.ID(), existing.ID())
		}
		a.loginRoutes[pages.Login.Route] = provider
		a.callbackRoutes[pages.Callback.Route] = provider
	}
	return a, nil
}

// Session returns the session manager.
func (a *Auth) Session() *session.Manager {
	return a.session
}

// Handle routes a request. Provider and callback failures are packaged into
// the response's Error field; session refresh failures never surface.
func (a *Auth) Handle(ctx context.Context, req *transport.Request) *transport.Response {
	response, err := a.dispatch(ctx, req)
	if err != nil {
		logger.Debugw("auth request failed",
			"path", req.URL.Path,
			"error", err,
		)
		return &transport.Response{Error: err}
	}
	return response
}

func (a *Auth) dispatch(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	// The session manager runs for every request so a token refresh can
	// piggyback on any path; its cookies are merged into whatever response
	// the dispatch below produces.
	refresh := a.session.HandleRequest(ctx, req)

	response := &transport.Response{User: refresh.User}
	var err error

	switch path := req.URL.Path; {
	case path == a.pages.Session:
		// The introspection body is the raw decoded claim bag, not the
		// mapped user.
		response.Body = a.session.DecodeAccessToken(req)

	case path == a.pages.Logout:
		response, err = a.session.Logout(ctx, req)
		if err != nil {
			return nil, err
		}
		if response.Redirect == "" {
			response.Redirect = a.pages.LogoutRedirect
			response.Status = http.StatusFound
		}

	default:
		if provider, ok := a.loginRoutes[path]; ok && provider.Pages().Login.MatchesMethod(req.Method) {
			response, err = provider.Login(ctx, req)
			if err != nil {
				return nil, err
			}
			a.applyLoginRedirect(response)
			break
		}
		if provider, ok := a.callbackRoutes[path]; ok && provider.Pages().Callback.MatchesMethod(req.Method) {
			response, err = provider.Callback(ctx, req)
			if err != nil {
				return nil, err
			}
			a.applyLoginRedirect(response)
			break
		}
		// Unrelated request: nothing but the session refresh applies.
	}

	response.Cookies = append(response.Cookies, refresh.Cookies...)
	return response, nil
}

// applyLoginRedirect sends a login that identified a user but set no
// redirect to the configured post-login page.
func (a *Auth) applyLoginRedirect(response *transport.Response) {
	if response.User != nil && response.Redirect == "" {
		response.Redirect = a.pages.LoginRedirect
		response.Status = http.StatusFound
	}
}
