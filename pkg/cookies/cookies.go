// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package cookies defines the canonical cookie names and attributes used by
// the session manager and the provider engines.
//
// Cookies fall into fixed roles (access token, refresh token, state, ...).
// Each role has a template carrying the cookie name and its default
// attributes; the template name gains a "__Secure-" prefix when secure
// cookies are requested, except the CSRF cookie which uses the stricter
// "__Host-" prefix.
package cookies

import (
	"time"
)

const (
	// Prefix is the shared prefix of every cookie set by this library.
	Prefix = "aponia-auth"

	// SecurePrefix is prepended to cookie names when secure cookies are enabled.
	SecurePrefix = "__Secure-"

	// HostPrefix is prepended to the CSRF cookie name when secure cookies are
	// enabled. Host-prefixed cookies are bound to the exact host and path "/".
	HostPrefix = "__Host-"

	// SameSiteLax is the SameSite attribute applied to all cookies.
	SameSiteLax = "lax"

	// TransientMaxAge is the lifetime in seconds of the short-lived
	// anti-forgery cookies (state, nonce, PKCE code verifier).
	TransientMaxAge = 15 * 60
)

// MaxAgeUnset marks a template that carries no Max-Age attribute.
// A MaxAge of exactly 0 marks a deletion cookie.
const MaxAgeUnset = -1

// Attributes are the serializable cookie attributes.
type Attributes struct {
	Path     string
	Domain   string
	HTTPOnly bool
	SameSite string
	Secure   bool

	// MaxAge is the cookie lifetime in seconds. MaxAgeUnset omits the
	// attribute; 0 deletes the cookie.
	MaxAge int

	// Expires is optional; the zero value omits the attribute.
	Expires time.Time
}

// Cookie is a single Set-Cookie instruction. The order in which cookies are
// appended to a response is the order in which headers are emitted.
type Cookie struct {
	Name  string
	Value string
	Attributes
}

// Template is the per-role cookie blueprint: a concrete name plus the
// default attributes new cookies of that role inherit.
type Template struct {
	Name    string
	Options Attributes
}

// New builds a cookie from the template with the given value.
func (t Template) New(value string) Cookie {
	return Cookie{Name: t.Name, Value: value, Attributes: t.Options}
}

// Deletion builds a cookie that removes the templated cookie: empty value,
// Max-Age zero.
func (t Template) Deletion() Cookie {
	c := t.New("")
	c.MaxAge = 0
	c.Expires = time.Time{}
	return c
}

// Options maps every cookie role to its template.
type Options struct {
	SessionToken     Template
	AccessToken      Template
	RefreshToken     Template
	CallbackURL      Template
	CSRFToken        Template
	PKCECodeVerifier Template
	State            Template
	Nonce            Template
}

// DefaultOptions returns the canonical cookie set. With secure enabled the
// names gain their "__Secure-" (or "__Host-") prefix and the Secure
// attribute is set.
func DefaultOptions(secure bool) *Options {
	securePrefix := ""
	hostPrefix := ""
	if secure {
		securePrefix = SecurePrefix
		hostPrefix = HostPrefix
	}

	defaults := Attributes{
		Path:     "/",
		HTTPOnly: true,
		SameSite: SameSiteLax,
		Secure:   secure,
		MaxAge:   MaxAgeUnset,
	}
	transient := defaults
	transient.MaxAge = TransientMaxAge

	return &Options{
		SessionToken:     Template{Name: securePrefix + Prefix + ".session-token", Options: defaults},
		AccessToken:      Template{Name: securePrefix + Prefix + ".access-token", Options: defaults},
		RefreshToken:     Template{Name: securePrefix + Prefix + ".refresh-token", Options: defaults},
		CallbackURL:      Template{Name: securePrefix + Prefix + ".callback-url", Options: defaults},
		CSRFToken:        Template{Name: hostPrefix + Prefix + ".csrf-token", Options: defaults},
		PKCECodeVerifier: Template{Name: securePrefix + Prefix + ".pkce.code_verifier", Options: transient},
		State:            Template{Name: securePrefix + Prefix + ".state", Options: transient},
		Nonce:            Template{Name: securePrefix + Prefix + ".nonce", Options: transient},
	}
}
