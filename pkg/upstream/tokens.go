// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrWWWAuthenticateChallenge is returned when the token endpoint rejects
// the exchange with a WWW-Authenticate challenge instead of an OAuth error
// body.
var ErrWWWAuthenticateChallenge = errors.New("token endpoint responded with a WWW-Authenticate challenge")

// TokenSet is the parsed token endpoint response.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`

	// Raw is the full response body, for providers that return extra fields.
	Raw map[string]any `json:"-"`
}

// oauthErrorResponse is the RFC 6749 Section 5.2 error body.
type oauthErrorResponse struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

func (e *oauthErrorResponse) asError() error {
	if e.Description != "" {
		return fmt.Errorf("oauth error %q: %s", e.Code, e.Description)
	}
	return fmt.Errorf("oauth error %q", e.Code)
}

// parseTokenResponse turns a token endpoint response into a TokenSet.
// A WWW-Authenticate challenge and an OAuth 2.0 error body both fail the
// exchange; so does a response without an access token.
func parseTokenResponse(body []byte, statusCode int, wwwAuthenticate string) (*TokenSet, error) {
	if wwwAuthenticate != "" {
		return nil, fmt.Errorf("%w: %s", ErrWWWAuthenticateChallenge, wwwAuthenticate)
	}

	var errResp oauthErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Code != "" {
		return nil, errResp.asError()
	}
	if statusCode != 200 {
		return nil, fmt.Errorf("token endpoint returned status %d", statusCode)
	}

	var tokens TokenSet
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	if err := json.Unmarshal(body, &tokens.Raw); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &tokens, nil
}
