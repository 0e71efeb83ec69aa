// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package upstream implements the provider engines that talk to upstream
// identity providers.
//
// Two engines are provided. OAuth2Provider executes the plain RFC 6749
// authorization code flow against explicitly configured endpoints, with
// optional RFC 7636 PKCE, and resolves the user profile via the userinfo
// endpoint. OIDCProvider layers OpenID Connect on top: endpoints are
// discovered lazily from the issuer's well-known configuration, and the
// profile is taken from the validated ID token instead of a userinfo call.
//
// Both engines speak the library's internal request/response shapes and are
// registered on an auth.Auth router, which shares the session manager's
// token codec and cookie templates with them.
package upstream
