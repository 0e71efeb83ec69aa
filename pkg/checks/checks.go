// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package checks implements the anti-forgery checks of the authorization
// code flow: state (CSRF), PKCE (code injection) and nonce (ID token
// replay).
//
// Each check has two operations. Create generates a fresh one-time value and
// a short-lived encrypted cookie persisting it across the redirect to the
// identity provider. Use reads the cookie back on callback, returning the
// original value together with a deletion cookie. A check that is not in the
// provider's configured set is skipped: Use returns the Skip sentinel and no
// cookie.
package checks

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	"golang.org/x/oauth2"

	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/jwe"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

// Name identifies one of the supported checks.
type Name string

const (
	// PKCE is the RFC 7636 proof key check.
	PKCE Name = "pkce"
	// State is the CSRF state check.
	State Name = "state"
	// Nonce is the OIDC ID token replay check.
	Nonce Name = "nonce"
	// None disables all checks.
	None Name = "none"
)

// Skip is the sentinel returned by Use when the check is not configured.
const Skip = "skip"

// MaxAge is the lifetime of a check cookie. A login flow that takes longer
// than this fails on callback with a missing-cookie error.
const MaxAge = 15 * time.Minute

// ChallengeMethodS256 is the PKCE challenge method sent to the
// authorization server (RFC 7636 Section 4.2).
const ChallengeMethodS256 = "S256"

// Set is the collection of checks a provider enforces on its flow.
type Set []Name

// DefaultSet is the check set applied when a provider configures none.
func DefaultSet() Set { return Set{PKCE} }

// Contains reports whether the set includes the named check.
func (s Set) Contains(name Name) bool {
	return slices.Contains(s, name)
}

// Config carries what the checks need: the configured set, the token codec
// and the cookie templates. Providers share these with the session manager.
type Config struct {
	Checks  Set
	JWT     jwe.Options
	Cookies *cookies.Options
}

// CreateState generates a random state value and its persisting cookie.
func CreateState(cfg *Config) (string, cookies.Cookie, error) {
	value := randomValue()
	cookie, err := createCookie(cfg, cfg.Cookies.State, value)
	return value, cookie, err
}

// UseState verifies and consumes the state cookie on callback.
func UseState(req *transport.Request, cfg *Config) (string, *cookies.Cookie, error) {
	return useCookie(req, cfg, State, cfg.Cookies.State)
}

// CreatePKCE generates a PKCE code verifier and its persisting cookie, and
// returns the S256 challenge derived from the verifier. The cookie payload
// is the verifier itself; the challenge is what goes on the authorization
// URL.
func CreatePKCE(cfg *Config) (string, cookies.Cookie, error) {
	verifier := oauth2.GenerateVerifier()
	cookie, err := createCookie(cfg, cfg.Cookies.PKCECodeVerifier, verifier)
	if err != nil {
		return "", cookies.Cookie{}, err
	}
	return oauth2.S256ChallengeFromVerifier(verifier), cookie, nil
}

// UsePKCE verifies and consumes the PKCE cookie on callback, returning the
// original code verifier for the token exchange.
func UsePKCE(req *transport.Request, cfg *Config) (string, *cookies.Cookie, error) {
	return useCookie(req, cfg, PKCE, cfg.Cookies.PKCECodeVerifier)
}

// CreateNonce generates a random nonce value and its persisting cookie.
func CreateNonce(cfg *Config) (string, cookies.Cookie, error) {
	value := randomValue()
	cookie, err := createCookie(cfg, cfg.Cookies.Nonce, value)
	return value, cookie, err
}

// UseNonce verifies and consumes the nonce cookie on callback.
func UseNonce(req *transport.Request, cfg *Config) (string, *cookies.Cookie, error) {
	return useCookie(req, cfg, Nonce, cfg.Cookies.Nonce)
}

// createCookie encrypts {value: payload} into a short-lived cookie built
// from the role template.
func createCookie(cfg *Config, tmpl cookies.Template, payload string) (cookies.Cookie, error) {
	token, err := cfg.JWT.EncodeToken(map[string]any{"value": payload}, MaxAge)
	if err != nil {
		return cookies.Cookie{}, fmt.Errorf("failed to encode check cookie: %w", err)
	}
	cookie := tmpl.New(token)
	cookie.Expires = time.Now().Add(MaxAge)
	return cookie, nil
}

// useCookie reads the check cookie named by the template, decodes it, and
// returns its payload plus a deletion cookie. When the check is not in the
// configured set it returns the Skip sentinel.
func useCookie(
	req *transport.Request,
	cfg *Config,
	name Name,
	tmpl cookies.Template,
) (string, *cookies.Cookie, error) {
	if !cfg.Checks.Contains(name) {
		return Skip, nil, nil
	}

	raw, ok := req.Cookie(tmpl.Name)
	if !ok {
		return "", nil, fmt.Errorf("%s cookie was missing", name)
	}

	claims, err := cfg.JWT.DecodeToken(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%s value could not be parsed", name)
	}
	value, ok := claims["value"].(string)
	if !ok || value == "" {
		return "", nil, fmt.Errorf("%s value could not be parsed", name)
	}

	deletion := tmpl.Deletion()
	return value, &deletion, nil
}

// randomValue returns a fresh url-safe random string (32 bytes of entropy).
func randomValue() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("checks: rand.Read: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
