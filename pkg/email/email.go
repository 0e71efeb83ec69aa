// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package email implements the first-party email provider: login generates
// a one-time verification token, renders it into a deterministic HTML
// message and hands delivery to user code; callback passes the token and
// email from the verification link to a user verifier.
package email

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/jwe"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

// DefaultID is the provider id and route segment.
const DefaultID = "email"

// TokenSize is the size in bytes of the verification token; it is rendered
// as hex in the verification URL.
const TokenSize = 32

// Message is the rendered verification mail handed to the delivery callback.
type Message struct {
	// HTML is the rendered message body. Identical inputs render
	// bit-identical output.
	HTML string

	// Email is the recipient address.
	Email string

	// Token is the hex-encoded one-time verification token.
	Token string

	// URL is the verification link embedded in the HTML.
	URL string
}

// Config configures the email provider.
type Config struct {
	// ID overrides the provider id. Empty: "email".
	ID string

	// GetEmail extracts the recipient address from the login request,
	// typically from a form body. Returning an empty address skips the
	// flow without error.
	GetEmail func(ctx context.Context, req *transport.Request) (string, error)

	// OnAuth delivers the verification mail. Its response is returned from
	// the login route.
	OnAuth func(ctx context.Context, message *Message) (*transport.Response, error)

	// OnVerify consumes the token and email on callback.
	OnVerify func(ctx context.Context, token, email string, req *transport.Request) (*transport.Response, error)

	// Pages overrides the default routes.
	Pages *transport.Pages
}

// Provider implements the email verification flow.
type Provider struct {
	config *Config
	pages  transport.Pages

	// JWT and Cookies are shared by the router for verifiers that mint
	// their own sessions.
	JWT     jwe.Options
	Cookies *cookies.Options
}

// New creates an email provider.
func New(config *Config) (*Provider, error) {
	if config == nil {
		return nil, errors.New("email: config is required")
	}
	if config.GetEmail == nil {
		return nil, errors.New("email: a GetEmail extractor is required")
	}
	if config.OnAuth == nil {
		return nil, errors.New("email: an OnAuth delivery handler is required")
	}
	if config.OnVerify == nil {
		return nil, errors.New("email: an OnVerify handler is required")
	}
	id := config.ID
	if id == "" {
		id = DefaultID
	}

	pages := transport.DefaultPages(id)
	pages.Login.Methods = []string{"POST"}
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

// Login extracts the recipient, builds the verification link and message,
// and hands delivery to the OnAuth callback.
func (p *Provider) Login(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	email, err := p.config.GetEmail(ctx, req)
	if err != nil {
		return nil, err
	}
	if email == "" {
		return &transport.Response{}, nil
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"token": {token},
		"email": {email},
	}
	verificationURL := req.Origin() + p.pages.Callback.Route + "?" + query.Encode()

	message := &Message{
		HTML:  renderHTML(email, verificationURL),
		Email: email,
		Token: token,
		URL:   verificationURL,
	}

	response, err := p.config.OnAuth(ctx, message)
	if err != nil {
		return nil, err
	}
	if response == nil {
		response = &transport.Response{}
	}
	return response, nil
}

// Callback hands the verification token and email to the OnVerify handler.
func (p *Provider) Callback(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	query := req.URL.Query()
	response, err := p.config.OnVerify(ctx, query.Get("token"), query.Get("email"), req)
	if err != nil {
		return nil, err
	}
	if response == nil {
		response = &transport.Response{}
	}
	return response, nil
}

func generateToken() (string, error) {
	buf := make([]byte, TokenSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("email: failed to generate verification token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// renderHTML renders the verification mail. The output is a pure function
// of its inputs so repeated logins for the same link produce identical
// bodies.
func renderHTML(email, verificationURL string) string {
	var b strings.Builder
	b.WriteString(`<body style="background:#f9f9f9;padding:16px">`)
	b.WriteString(`<table width="100%" border="0" cellspacing="20" cellpadding="0" style="background:#ffffff;max-width:600px;margin:auto;border-radius:10px">`)
	b.WriteString(`<tr><td align="center" style="font-size:22px;font-family:Helvetica,Arial,sans-serif;color:#444444">`)
	b.WriteString(`Sign in as <strong>`)
	b.WriteString(html.EscapeString(email))
	b.WriteString(`</strong></td></tr>`)
	b.WriteString(`<tr><td align="center"><a href="`)
	b.WriteString(html.EscapeString(verificationURL))
	b.WriteString(`" target="_blank" style="font-size:18px;font-family:Helvetica,Arial,sans-serif;color:#ffffff;text-decoration:none;border-radius:5px;padding:10px 20px;background:#346df1;display:inline-block;font-weight:bold">Sign in</a></td></tr>`)
	b.WriteString(`<tr><td align="center" style="font-size:16px;line-height:22px;font-family:Helvetica,Arial,sans-serif;color:#444444">`)
	b.WriteString(`If you did not request this email you can safely ignore it.`)
	b.WriteString(`</td></tr></table></body>`)
	return b.String()
}
