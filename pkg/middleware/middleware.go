// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package middleware adapts the framework-neutral auth core to net/http.
// It builds a transport.Request from an *http.Request, runs the router,
// and translates the transport.Response back into status codes, Set-Cookie
// headers, redirects and JSON bodies.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ap0nia/aponia-go/pkg/auth"
	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/logger"
	"github.com/ap0nia/aponia-go/pkg/networking"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

type contextKey struct{}

var userKey = contextKey{}

// UserFromContext returns the authenticated user stored by the middleware,
// or nil when the request carried no session.
func UserFromContext(ctx context.Context) any {
	return ctx.Value(userKey)
}

// NewRequest builds a transport.Request from a net/http request. The
// absolute URL is reconstructed from the Host header, with the scheme taken
// from the TLS state or an X-Forwarded-Proto header set by a proxy.
func NewRequest(r *http.Request) (*transport.Request, error) {
	scheme := networking.HTTPScheme
	if r.TLS != nil {
		scheme = networking.HTTPSScheme
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}

	cookieValues := make(map[string]string, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookieValues[c.Name] = c.Value
	}

	return transport.NewRequest(scheme+"://"+r.Host+r.URL.RequestURI(), r.Method, cookieValues, r)
}

// WriteResponse translates a transport.Response into an HTTP response.
// Cookies are emitted first, in insertion order, so deletions and
// replacements land in the order the core produced them.
func WriteResponse(w http.ResponseWriter, r *http.Request, response *transport.Response) {
	for _, c := range response.Cookies {
		http.SetCookie(w, toHTTPCookie(c))
	}

	if response.Error != nil {
		logger.Debugw("auth response error",
			"path", r.URL.Path,
			"error", response.Error,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": response.Error.Error(),
		})
		return
	}

	if response.Redirect != "" {
		status := response.Status
		if status < http.StatusMultipleChoices || status >= http.StatusBadRequest {
			status = http.StatusFound
		}
		http.Redirect(w, r, response.Redirect, status)
		return
	}

	status := response.Status
	if status == 0 {
		status = http.StatusOK
	}
	if response.Body != nil {
		writeJSON(w, status, response.Body)
		return
	}
	w.WriteHeader(status)
}

// Handler serves every request through the auth router, terminating each one
// itself. Mount it on the auth path prefix of a mux.
func Handler(a *auth.Auth) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := NewRequest(r)
		if err != nil {
			WriteResponse(w, r, &transport.Response{Error: err})
			return
		}
		WriteResponse(w, r, a.Handle(r.Context(), req))
	})
}

// Middleware runs the auth router in front of an application handler. Auth
// endpoints and redirects are terminated here; any other request continues
// to the next handler with refreshed session cookies applied and the user
// stored in the request context.
func Middleware(a *auth.Auth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, err := NewRequest(r)
			if err != nil {
				WriteResponse(w, r, &transport.Response{Error: err})
				return
			}

			response := a.Handle(r.Context(), req)
			if response.Error != nil || response.Redirect != "" || response.Body != nil || response.Status != 0 {
				WriteResponse(w, r, response)
				return
			}

			for _, c := range response.Cookies {
				http.SetCookie(w, toHTTPCookie(c))
			}
			if response.User != nil {
				r = r.WithContext(context.WithValue(r.Context(), userKey, response.User))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// toHTTPCookie maps a core cookie onto net/http's representation. net/http
// uses a negative MaxAge for deletion and zero for "no attribute", the
// inverse of the core's encoding.
func toHTTPCookie(c cookies.Cookie) *http.Cookie {
	maxAge := c.MaxAge
	switch {
	case maxAge == cookies.MaxAgeUnset:
		maxAge = 0
	case maxAge == 0:
		maxAge = -1
	}

	sameSite := http.SameSiteDefaultMode
	switch c.SameSite {
	case "lax":
		sameSite = http.SameSiteLaxMode
	case "strict":
		sameSite = http.SameSiteStrictMode
	case "none":
		sameSite = http.SameSiteNoneMode
	}

	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: sameSite,
		MaxAge:   maxAge,
		Expires:  c.Expires,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debugw("failed to encode response body", "error", err)
	}
}
