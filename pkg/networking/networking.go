// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package networking provides the outbound HTTP policy shared by the provider
// engines: a client with finite timeouts, endpoint URL validation, and JSON
// fetch helpers.
package networking

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// HTTPTimeout is the timeout for outgoing HTTP requests.
	HTTPTimeout = 30 * time.Second

	// HTTPScheme is the HTTP scheme.
	HTTPScheme = "http"

	// HTTPSScheme is the HTTPS scheme.
	HTTPSScheme = "https"
)

// HTTPClient is the interface for sending HTTP requests.
// *http.Client satisfies it; tests substitute their own implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultClient returns an HTTP client with finite timeouts suitable for
// identity-provider traffic. Outbound calls must never hang on an
// unresponsive authorization server.
func DefaultClient() *http.Client {
	return &http.Client{
		Timeout: HTTPTimeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
		},
	}
}

// IsLocalhost reports whether host (optionally including a port) refers to
// the local machine.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateEndpointURL validates that a URL is absolute and uses HTTPS,
// except for localhost endpoints which may use HTTP for development.
func ValidateEndpointURL(endpoint string) error {
	return ValidateEndpointURLWithInsecure(endpoint, false)
}

// ValidateEndpointURLWithInsecure validates an endpoint URL, optionally
// allowing plain HTTP for non-localhost hosts.
func ValidateEndpointURLWithInsecure(endpoint string, insecureAllowHTTP bool) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", endpoint, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %q is not absolute", endpoint)
	}
	switch parsed.Scheme {
	case HTTPSScheme:
		return nil
	case HTTPScheme:
		if insecureAllowHTTP || IsLocalhost(parsed.Host) {
			return nil
		}
		return fmt.Errorf("URL %q must use HTTPS", endpoint)
	default:
		return fmt.Errorf("URL %q has unsupported scheme %q", endpoint, parsed.Scheme)
	}
}
