// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the framework-neutral request and response
// shapes exchanged between the router, the session manager and the
// providers. Host adapters construct a Request from their native request
// type and translate the returned Response back.
package transport

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ap0nia/aponia-go/pkg/cookies"
)

// Request is the internal view of an incoming HTTP request.
type Request struct {
	// URL is the parsed absolute request URL.
	URL *url.URL

	// Method is the HTTP method of the original request.
	Method string

	// Cookies maps cookie names to their values, pre-parsed per RFC 6265.
	Cookies map[string]string

	// Raw is the framework-native request. It is opaque to the core and is
	// exposed so first-party callbacks can read form bodies and headers.
	Raw any
}

// NewRequest parses rawURL and builds a Request. rawURL must be absolute.
func NewRequest(rawURL, method string, cookieValues map[string]string, raw any) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("request URL %q is not absolute", rawURL)
	}
	if cookieValues == nil {
		cookieValues = make(map[string]string)
	}
	return &Request{URL: u, Method: method, Cookies: cookieValues, Raw: raw}, nil
}

// Cookie returns the named cookie value, if present.
func (r *Request) Cookie(name string) (string, bool) {
	v, ok := r.Cookies[name]
	return v, ok
}

// Origin returns the scheme://host origin of the request URL.
func (r *Request) Origin() string {
	return r.URL.Scheme + "://" + r.URL.Host
}

// Response is the internal result assembled by the core. Adapters translate
// it into a framework-native response: Cookies become Set-Cookie headers in
// insertion order, Redirect with a 3xx Status becomes an HTTP redirect, Body
// becomes a JSON response and Error becomes a 500.
type Response struct {
	// User is the identified user, if any.
	User any

	// Status is the HTTP status code, 0 when unset.
	Status int

	// Redirect is the redirect target, empty when unset.
	Redirect string

	// Cookies are the cookies to set, in emission order.
	Cookies []cookies.Cookie

	// Body is an optional response body for introspection endpoints.
	Body any

	// Error, when set, indicates the request failed; adapters respond 500.
	Error error
}

// SetCookie appends a cookie to the response, preserving insertion order.
func (r *Response) SetCookie(c cookies.Cookie) {
	r.Cookies = append(r.Cookies, c)
}

// Endpoint describes a routed provider page: its URL path, the HTTP methods
// it accepts, and (for callbacks) the default post-callback redirect.
type Endpoint struct {
	Route    string
	Methods  []string
	Redirect string
}

// MatchesMethod reports whether the endpoint accepts the given HTTP method.
// Matching is case-insensitive.
func (e Endpoint) MatchesMethod(method string) bool {
	for _, m := range e.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Pages holds a provider's login and callback endpoints.
type Pages struct {
	Login    Endpoint
	Callback Endpoint
}

// DefaultPages returns the default routes for a provider id:
// GET /auth/login/{id} and GET /auth/callback/{id} redirecting to "/".
func DefaultPages(providerID string) Pages {
	return Pages{
		Login: Endpoint{
			Route:   "/auth/login/" + providerID,
			Methods: []string{"GET"},
		},
		Callback: Endpoint{
			Route:    "/auth/callback/" + providerID,
			Methods:  []string{"GET"},
			Redirect: "/",
		},
	}
}
