// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestFetchJSON(t *testing.T) {
	t.Parallel()

	t.Run("parses JSON response", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, ContentTypeJSON, r.Header.Get("Accept"))
			w.Header().Set("Content-Type", ContentTypeJSON)
			_, _ = w.Write([]byte(`{"name":"test","count":3}`))
		}))
		t.Cleanup(server.Close)

		payload, err := FetchJSON[testPayload](context.Background(), server.Client(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "test", payload.Name)
		assert.Equal(t, 3, payload.Count)
	})

	t.Run("sends custom headers", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{}`))
		}))
		t.Cleanup(server.Close)

		_, err := FetchJSON[testPayload](
			context.Background(),
			server.Client(),
			server.URL,
			WithHeader("Authorization", "Bearer token-123"),
		)
		require.NoError(t, err)
	})

	t.Run("non-200 becomes HTTPError with body preview", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("denied"))
		}))
		t.Cleanup(server.Close)

		_, err := FetchJSON[testPayload](context.Background(), server.Client(), server.URL)
		require.Error(t, err)
		require.True(t, IsHTTPError(err, http.StatusForbidden))

		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, "denied", httpErr.Body)
		assert.Equal(t, server.URL, httpErr.URL)
	})

	t.Run("custom error handler wins over HTTPError", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		}))
		t.Cleanup(server.Close)

		custom := errors.New("custom failure")
		_, err := FetchJSON[testPayload](
			context.Background(),
			server.Client(),
			server.URL,
			WithErrorHandler(func(resp *http.Response, body []byte) error {
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
				assert.Contains(t, string(body), "invalid_grant")
				return custom
			}),
		)
		require.ErrorIs(t, err, custom)
	})

	t.Run("invalid JSON fails", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		t.Cleanup(server.Close)

		_, err := FetchJSON[testPayload](context.Background(), server.Client(), server.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse JSON")
	})
}

func TestFetchJSONWithForm(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ContentTypeForm, r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostFormValue("grant_type"))
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	t.Cleanup(server.Close)

	payload, err := FetchJSONWithForm[testPayload](
		context.Background(),
		server.Client(),
		server.URL,
		url.Values{"grant_type": {"authorization_code"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "ok", payload.Name)
}

func TestIsLocalhost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"localhost:8080", true},
		{"127.0.0.1", true},
		{"127.0.0.1:9000", true},
		{"::1", true},
		{"example.com", false},
		{"10.0.0.1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLocalhost(tt.host), tt.host)
	}
}

func TestValidateEndpointURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint string
		wantErr  string
	}{
		{"https is accepted", "https://example.com/token", ""},
		{"http localhost is accepted", "http://localhost:8080/token", ""},
		{"http loopback is accepted", "http://127.0.0.1:8080/token", ""},
		{"http remote is rejected", "http://example.com/token", "must use HTTPS"},
		{"relative URL is rejected", "/token", "not absolute"},
		{"unsupported scheme is rejected", "ftp://example.com", "unsupported scheme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateEndpointURL(tt.endpoint)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("insecure flag allows remote http", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, ValidateEndpointURLWithInsecure("http://example.com/token", true))
	})
}

func TestHTTPError(t *testing.T) {
	t.Parallel()

	err := &HTTPError{StatusCode: 404, URL: "https://example.com", Body: "missing"}
	assert.Contains(t, err.Error(), "404")
	assert.True(t, IsHTTPError(err, 0))
	assert.True(t, IsHTTPError(err, 404))
	assert.False(t, IsHTTPError(err, 500))
	assert.False(t, IsHTTPError(errors.New("plain"), 0))
	assert.False(t, IsHTTPError(nil, 0))
}

func TestDefaultClient(t *testing.T) {
	t.Parallel()

	client := DefaultClient()
	require.NotNil(t, client)
	assert.Equal(t, HTTPTimeout, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotZero(t, transport.TLSHandshakeTimeout)
	assert.NotZero(t, transport.ResponseHeaderTimeout)
}
