// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ap0nia/aponia-go/pkg/checks"
	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/jwe"
	"github.com/ap0nia/aponia-go/pkg/transport"
)

const testSecret = "test-secret"

// testTokenResponse is a test helper to produce token responses.
type testTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// mockOAuth2Server serves the token and userinfo endpoints of a provider.
type mockOAuth2Server struct {
	*httptest.Server
	tokenHandler    func(w http.ResponseWriter, r *http.Request)
	userinfoHandler func(w http.ResponseWriter, r *http.Request)
}

func newMockOAuth2Server() *mockOAuth2Server {
	mock := &mockOAuth2Server{}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/token", mock.handleToken)
	mux.HandleFunc("/userinfo", mock.handleUserinfo)

	mock.Server = httptest.NewServer(mux)
	return mock
}

func (m *mockOAuth2Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if m.tokenHandler != nil {
		m.tokenHandler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := testTokenResponse{
		AccessToken:  "test-access-token",
		TokenType:    "Bearer",
		RefreshToken: "test-refresh-token",
		ExpiresIn:    3600,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m *mockOAuth2Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	if m.userinfoHandler != nil {
		m.userinfoHandler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"id":42,"login":"octocat"}`))
}

func (m *mockOAuth2Server) config() *Config {
	return &Config{
		ID:           "test",
		ClientID:     "test-client",
		ClientSecret: "test-client-secret",
		Endpoints: Endpoints{
			Authorization: Endpoint{URL: m.URL + "/authorize"},
			Token:         Endpoint{URL: m.URL + "/token"},
			Userinfo:      Endpoint{URL: m.URL + "/userinfo"},
		},
	}
}

// newTestProvider builds a provider wired the way the router would wire it.
func newTestProvider(t *testing.T, config *Config, opts ...Option) *OAuth2Provider {
	t.Helper()
	provider, err := NewOAuth2Provider(config, opts...)
	require.NoError(t, err)
	provider.SetAuthOptions(jwe.DefaultOptions(testSecret), cookies.DefaultOptions(false))
	return provider
}

func loginRequest(t *testing.T) *transport.Request {
	t.Helper()
	req, err := transport.NewRequest(
		"https://example.com/auth/login/test",
		http.MethodGet,
		nil,
		nil,
	)
	require.NoError(t, err)
	return req
}

// callbackRequest simulates the redirect back from the authorization server:
// the query parameters it appended plus the cookies persisted during login.
func callbackRequest(t *testing.T, query url.Values, loginCookies []cookies.Cookie) *transport.Request {
	t.Helper()
	cookieValues := make(map[string]string, len(loginCookies))
	for _, c := range loginCookies {
		cookieValues[c.Name] = c.Value
	}
	req, err := transport.NewRequest(
		"https://example.com/auth/callback/test?"+query.Encode(),
		http.MethodGet,
		cookieValues,
		nil,
	)
	require.NoError(t, err)
	return req
}

func TestNewOAuth2Provider(t *testing.T) {
	t.Parallel()

	mock := newMockOAuth2Server()
	t.Cleanup(mock.Close)

	t.Run("valid config creates provider", func(t *testing.T) {
		t.Parallel()

		provider, err := NewOAuth2Provider(mock.config())
		require.NoError(t, err)
		require.NotNil(t, provider)
		assert.Equal(t, "test", provider.ID())
		assert.Equal(t, "/auth/login/test", provider.Pages().Login.Route)
		assert.Equal(t, "/auth/callback/test", provider.Pages().Callback.Route)
	})

	t.Run("nil config returns error", func(t *testing.T) {
		t.Parallel()

		_, err := NewOAuth2Provider(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config is required")
	})

	t.Run("missing authorization endpoint returns error", func(t *testing.T) {
		t.Parallel()

		config := mock.config()
		config.Endpoints.Authorization.URL = ""
		_, err := NewOAuth2Provider(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authorization URL is required")
	})

	t.Run("missing token endpoint returns error", func(t *testing.T) {
		t.Parallel()

		config := mock.config()
		config.Endpoints.Token.URL = ""
		_, err := NewOAuth2Provider(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "token URL is required")
	})

	t.Run("missing client ID returns error", func(t *testing.T) {
		t.Parallel()

		config := mock.config()
		config.ClientID = ""
		_, err := NewOAuth2Provider(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client ID is required")
	})

	t.Run("insecure remote endpoint returns error", func(t *testing.T) {
		t.Parallel()

		config := mock.config()
		config.Endpoints.Authorization.URL = "http://example.com/authorize"
		_, err := NewOAuth2Provider(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must use HTTPS")
	})
}

func TestOAuth2Login(t *testing.T) {
	t.Parallel()

	mock := newMockOAuth2Server()
	t.Cleanup(mock.Close)

	t.Run("redirect carries params and check values", func(t *testing.T) {
		t.Parallel()

		config := mock.config()
		config.Checks = checks.Set{checks.PKCE, checks.State}
		config.Endpoints.Authorization.Params = map[string]string{"scope": "read:user"}
		provider := newTestProvider(t, config)

		response, err := provider.Login(context.Background(), loginRequest(t))
		require.NoError(t, err)

		assert.Equal(t, http.StatusFound, response.Status)
		redirect, err := url.Parse(response.Redirect)
		require.NoError(t, err)

		query := redirect.Query()
		assert.Equal(t, "test-client", query.Get("client_id"))
		assert.Equal(t, "code", query.Get("response_type"))
		assert.Equal(t, "https://example.com/auth/callback/test", query.Get("redirect_uri"))
		assert.Equal(t, "read:user", query.Get("scope"))
		assert.NotEmpty(t, query.Get("state"))
		assert.NotEmpty(t, query.Get("code_challenge"))
		assert.Equal(t, "S256", query.Get("code_challenge_method"))
		assert.Empty(t, query.Get("nonce"))

		// One cookie per configured check: state first, then PKCE.
		require.Len(t, response.Cookies, 2)
		assert.Equal(t, "aponia-auth.state", response.Cookies[0].Name)
		assert.Equal(t, "aponia-auth.pkce.code_verifier", response.Cookies[1].Name)
	})

	t.Run("configured params are not overwritten", func(t *testing.T) {
		t.Parallel()

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		config.Endpoints.Authorization.Params = map[string]string{
			"redirect_uri": "https://override.example.com/done",
		}
		provider := newTestProvider(t, config)

		response, err := provider.Login(context.Background(), loginRequest(t))
		require.NoError(t, err)

		redirect, err := url.Parse(response.Redirect)
		require.NoError(t, err)
		assert.Equal(t, "https://override.example.com/done", redirect.Query().Get("redirect_uri"))
		assert.Empty(t, response.Cookies)
	})

	t.Run("default check set is PKCE only", func(t *testing.T) {
		t.Parallel()

		provider := newTestProvider(t, mock.config())

		response, err := provider.Login(context.Background(), loginRequest(t))
		require.NoError(t, err)

		redirect, err := url.Parse(response.Redirect)
		require.NoError(t, err)
		assert.NotEmpty(t, redirect.Query().Get("code_challenge"))
		assert.Empty(t, redirect.Query().Get("state"))
		require.Len(t, response.Cookies, 1)
		assert.Equal(t, "aponia-auth.pkce.code_verifier", response.Cookies[0].Name)
	})
}

func TestOAuth2Callback(t *testing.T) {
	t.Parallel()

	t.Run("full flow invokes OnAuth and deletes check cookies", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)

		mock.tokenHandler = func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.PostFormValue("grant_type"))
			assert.Equal(t, "test-code", r.PostFormValue("code"))
			assert.Equal(t, "test-client", r.PostFormValue("client_id"))
			assert.Equal(t, "test-client-secret", r.PostFormValue("client_secret"))
			assert.Equal(t, "https://example.com/auth/callback/test", r.PostFormValue("redirect_uri"))
			assert.NotEmpty(t, r.PostFormValue("code_verifier"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"test-access-token","token_type":"Bearer","scope":"read:user"}`))
		}
		mock.userinfoHandler = func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":42,"login":"octocat"}`))
		}

		config := mock.config()
		config.Checks = checks.Set{checks.PKCE, checks.State}

		var gotProfile Profile
		var gotTokens *TokenSet
		config.OnAuth = func(_ context.Context, profile Profile, tokens *TokenSet) (*transport.Response, error) {
			gotProfile = profile
			gotTokens = tokens
			return &transport.Response{Status: http.StatusFound, Redirect: "/welcome"}, nil
		}
		provider := newTestProvider(t, config)

		login, err := provider.Login(context.Background(), loginRequest(t))
		require.NoError(t, err)
		redirect, err := url.Parse(login.Redirect)
		require.NoError(t, err)

		query := url.Values{
			"code":  {"test-code"},
			"state": {redirect.Query().Get("state")},
		}
		response, err := provider.Callback(context.Background(), callbackRequest(t, query, login.Cookies))
		require.NoError(t, err)

		assert.Equal(t, "/welcome", response.Redirect)
		require.NotNil(t, gotProfile)
		assert.Equal(t, "octocat", gotProfile["login"])
		require.NotNil(t, gotTokens)
		assert.Equal(t, "test-access-token", gotTokens.AccessToken)
		assert.Equal(t, "read:user", gotTokens.Scope)

		// The state and PKCE cookies are deleted after the user response.
		require.Len(t, response.Cookies, 2)
		for _, c := range response.Cookies {
			assert.Zero(t, c.MaxAge)
			assert.Empty(t, c.Value)
		}
	})

	t.Run("nil OnAuth response redirects to the callback page", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		provider := newTestProvider(t, config)

		response, err := provider.Callback(
			context.Background(),
			callbackRequest(t, url.Values{"code": {"test-code"}}, nil),
		)
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, response.Status)
		assert.Equal(t, "/", response.Redirect)
	})

	t.Run("state mismatch fails", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)

		config := mock.config()
		config.Checks = checks.Set{checks.State}
		provider := newTestProvider(t, config)

		login, err := provider.Login(context.Background(), loginRequest(t))
		require.NoError(t, err)

		query := url.Values{
			"code":  {"test-code"},
			"state": {"tampered"},
		}
		_, err = provider.Callback(context.Background(), callbackRequest(t, query, login.Cookies))
		require.ErrorIs(t, err, ErrStateMismatch)
	})

	t.Run("missing state cookie fails", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)

		config := mock.config()
		config.Checks = checks.Set{checks.State}
		provider := newTestProvider(t, config)

		query := url.Values{"code": {"test-code"}, "state": {"anything"}}
		_, err := provider.Callback(context.Background(), callbackRequest(t, query, nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "state cookie was missing")
	})

	t.Run("provider error parameter fails", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		provider := newTestProvider(t, config)

		query := url.Values{
			"error":             {"access_denied"},
			"error_description": {"The user denied the request"},
		}
		_, err := provider.Callback(context.Background(), callbackRequest(t, query, nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access_denied")
		assert.Contains(t, err.Error(), "The user denied the request")
	})

	t.Run("missing code fails", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		provider := newTestProvider(t, config)

		_, err := provider.Callback(context.Background(), callbackRequest(t, url.Values{}, nil))
		require.ErrorIs(t, err, ErrMissingCode)
	})

	t.Run("oauth error body fails the exchange", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)
		mock.tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"expired code"}`))
		}

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		provider := newTestProvider(t, config)

		_, err := provider.Callback(
			context.Background(),
			callbackRequest(t, url.Values{"code": {"test-code"}}, nil),
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid_grant")
		assert.Contains(t, err.Error(), "expired code")
	})

	t.Run("WWW-Authenticate challenge fails the exchange", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)
		mock.tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_client"`)
			w.WriteHeader(http.StatusUnauthorized)
		}

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		provider := newTestProvider(t, config)

		_, err := provider.Callback(
			context.Background(),
			callbackRequest(t, url.Values{"code": {"test-code"}}, nil),
		)
		require.ErrorIs(t, err, ErrWWWAuthenticateChallenge)
	})

	t.Run("token conform hook rewrites the body", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)
		mock.tokenHandler = func(w http.ResponseWriter, _ *http.Request) {
			// A provider that nests the token response, Twitch style.
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":{"access_token":"nested-token","token_type":"Bearer"}}`))
		}

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		config.Endpoints.TokenConform = func(body []byte) ([]byte, error) {
			var wrapper struct {
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(body, &wrapper); err != nil {
				return nil, err
			}
			return wrapper.Data, nil
		}

		var gotTokens *TokenSet
		config.OnAuth = func(_ context.Context, _ Profile, tokens *TokenSet) (*transport.Response, error) {
			gotTokens = tokens
			return nil, nil
		}
		provider := newTestProvider(t, config)

		_, err := provider.Callback(
			context.Background(),
			callbackRequest(t, url.Values{"code": {"test-code"}}, nil),
		)
		require.NoError(t, err)
		require.NotNil(t, gotTokens)
		assert.Equal(t, "nested-token", gotTokens.AccessToken)
	})

	t.Run("custom userinfo request replaces the bearer fetch", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)
		mock.userinfoHandler = func(w http.ResponseWriter, _ *http.Request) {
			t.Error("default userinfo fetch should not run")
			w.WriteHeader(http.StatusInternalServerError)
		}

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		config.Endpoints.UserinfoRequest = func(_ context.Context, tokens *TokenSet) (Profile, error) {
			return Profile{"sub": "custom-" + tokens.AccessToken}, nil
		}

		var gotProfile Profile
		config.OnAuth = func(_ context.Context, profile Profile, _ *TokenSet) (*transport.Response, error) {
			gotProfile = profile
			return nil, nil
		}
		provider := newTestProvider(t, config)

		_, err := provider.Callback(
			context.Background(),
			callbackRequest(t, url.Values{"code": {"test-code"}}, nil),
		)
		require.NoError(t, err)
		assert.Equal(t, "custom-test-access-token", gotProfile["sub"])
	})

	t.Run("missing userinfo configuration fails", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		config.Endpoints.Userinfo.URL = ""
		provider := newTestProvider(t, config)

		_, err := provider.Callback(
			context.Background(),
			callbackRequest(t, url.Values{"code": {"test-code"}}, nil),
		)
		require.ErrorIs(t, err, ErrMissingUserinfo)
	})

	t.Run("empty profile fails", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)
		mock.userinfoHandler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
		}

		config := mock.config()
		config.Checks = checks.Set{checks.None}
		provider := newTestProvider(t, config)

		_, err := provider.Callback(
			context.Background(),
			callbackRequest(t, url.Values{"code": {"test-code"}}, nil),
		)
		require.ErrorIs(t, err, ErrMissingProfile)
	})

	t.Run("OnAuth error propagates", func(t *testing.T) {
		t.Parallel()

		mock := newMockOAuth2Server()
		t.Cleanup(mock.Close)

		boom := errors.New("session store unavailable")
		config := mock.config()
		config.Checks = checks.Set{checks.None}
		config.OnAuth = func(context.Context, Profile, *TokenSet) (*transport.Response, error) {
			return nil, boom
		}
		provider := newTestProvider(t, config)

		_, err := provider.Callback(
			context.Background(),
			callbackRequest(t, url.Values{"code": {"test-code"}}, nil),
		)
		require.ErrorIs(t, err, boom)
	})
}

func TestParseTokenResponse(t *testing.T) {
	t.Parallel()

	t.Run("parses a full response", func(t *testing.T) {
		t.Parallel()

		body := []byte(`{"access_token":"at","token_type":"Bearer","refresh_token":"rt","id_token":"idt","scope":"openid","expires_in":3600,"extra":"x"}`)
		tokens, err := parseTokenResponse(body, 200, "")
		require.NoError(t, err)

		assert.Equal(t, "at", tokens.AccessToken)
		assert.Equal(t, "Bearer", tokens.TokenType)
		assert.Equal(t, "rt", tokens.RefreshToken)
		assert.Equal(t, "idt", tokens.IDToken)
		assert.Equal(t, "openid", tokens.Scope)
		assert.Equal(t, int64(3600), tokens.ExpiresIn)
		assert.Equal(t, "x", tokens.Raw["extra"])
	})

	t.Run("missing access token fails", func(t *testing.T) {
		t.Parallel()

		_, err := parseTokenResponse([]byte(`{"token_type":"Bearer"}`), 200, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing access_token")
	})

	t.Run("non-200 without error body fails with status", func(t *testing.T) {
		t.Parallel()

		_, err := parseTokenResponse([]byte(`{}`), 502, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}
