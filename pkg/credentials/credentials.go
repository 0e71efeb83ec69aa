// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package credentials implements the first-party credentials provider: a
// thin wrapper that routes login and callback requests to a user-supplied
// handler. The handler reads the form body from the request's Raw slot and
// produces whatever session it sees fit.
package credentials

import (
	"context"
	"errors"

	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/jwe"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

// DefaultID is the provider id and route segment.
const DefaultID = "credentials"

// Config configures the credentials provider.
type Config struct {
	// ID overrides the provider id. Empty: "credentials".
	ID string

	// OnAuth handles both login and callback requests.
	OnAuth func(ctx context.Context, req *transport.Request) (*transport.Response, error)

	// Pages overrides the default routes: POST /auth/login/credentials and
	// /auth/callback/credentials.
	Pages *transport.Pages
}

// Provider hands requests to the user's handler.
type Provider struct {
	config *Config
	pages  transport.Pages

	// JWT and Cookies are shared by the router for handlers that want to
	// mint their own tokens.
	JWT     jwe.Options
	Cookies *cookies.Options
}

// New creates a credentials provider.
func New(config *Config) (*Provider, error) {
	if config == nil || config.OnAuth == nil {
		return nil, errors.New("credentials: an OnAuth handler is required")
	}
	id := config.ID
	if id == "" {
		id = DefaultID
	}

	pages := transport.DefaultPages(id)
	pages.Login.Methods = []string{"POST"}
	pages.Callback.Methods = []string{"GET", "POST"}
	if config.Pages != nil {
		pages = *config.Pages
	}

	return &Provider{config: config, pages: pages}, nil
}

// ID returns the provider id.
func (p *Provider) ID() string {
	if p.config.ID != "" {
		return p.config.ID
	}
	return DefaultID
}

// Pages returns the provider's routes.
func (p *Provider) Pages() transport.Pages {
	return p.pages
}

// SetAuthOptions shares the session manager's codec and cookie templates.
func (p *Provider) SetAuthOptions(jwt jwe.Options, cookieOptions *cookies.Options) {
	p.JWT = jwt
	p.Cookies = cookieOptions
}

// Login defers to the user handler.
func (p *Provider) Login(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return p.handle(ctx, req)
}

// Callback defers to the user handler.
func (p *Provider) Callback(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return p.handle(ctx, req)
}

func (p *Provider) handle(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	response, err := p.config.OnAuth(ctx, req)
	if err != nil {
		return nil, err
	}
	if response == nil {
		response = &transport.Response{}
	}
	return response, nil
}
