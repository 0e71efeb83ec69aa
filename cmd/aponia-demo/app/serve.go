// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ap0nia/aponia-go/pkg/auth"
	"github.com/ap0nia/aponia-go/pkg/cookies"
	"github.com/ap0nia/aponia-go/pkg/credentials"
	"github.com/ap0nia/aponia-go/pkg/logger"
	"github.com/ap0nia/aponia-go/pkg/middleware"
	"github.com/ap0nia/aponia-go/pkg/session"
	"github.com/ap0nia/aponia-go/pkg/transport"
	"github.com/ap0nia/aponia-go/pkg/upstream"
)

const (
	gracefulTimeout    = 30 * time.Second
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 15 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

// profileClaims are the upstream profile keys copied into the session.
var profileClaims = []string{"sub", "id", "login", "name", "email", "picture"}

func runServe(_ *cobra.Command, _ []string) error {
	secret := viper.GetString("secret")
	if secret == "" {
		return fmt.Errorf("a secret is required (--secret or APONIA_SECRET)")
	}

	manager, err := session.NewManager(session.Config{
		Secret:  secret,
		Cookies: cookies.DefaultOptions(viper.GetBool("secure-cookies")),
		CreateSession: func(_ context.Context, user any) (*session.NewSession, error) {
			claims, ok := user.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("unexpected user type %T", user)
			}
			return &session.NewSession{
				User:         claims,
				AccessToken:  claims,
				RefreshToken: claims,
			}, nil
		},
		HandleRefresh: func(_ context.Context, tokens session.TokenPair) (*session.NewSession, error) {
			// Re-mint the access token from the refresh token once the
			// access token has expired.
			if tokens.AccessToken != nil || tokens.RefreshToken == nil {
				return nil, nil
			}
			return &session.NewSession{
				User:         tokens.RefreshToken,
				AccessToken:  tokens.RefreshToken,
				RefreshToken: tokens.RefreshToken,
			}, nil
		},
	})
	if err != nil {
		return err
	}

	providers, err := buildProviders(manager)
	if err != nil {
		return err
	}

	authRouter, err := auth.New(auth.Config{
		Session:   manager,
		Providers: providers,
	})
	if err != nil {
		return err
	}

	for _, p := range providers {
		logger.Infow("registered provider",
			"id", p.ID(),
			"login", p.Pages().Login.Route,
			"callback", p.Pages().Callback.Route,
		)
	}

	router := chi.NewRouter()
	router.Use(
		chimiddleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
	)
	router.Use(middleware.Middleware(authRouter))
	router.Get("/", serveIndex)

	address := viper.GetString("address")
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting demo server on %s", address)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
	}
	return nil
}

// buildProviders assembles the provider list from the configuration. Each
// provider is optional; an empty list still serves the session endpoints.
func buildProviders(manager *session.Manager) ([]auth.Provider, error) {
	var providers []auth.Provider

	onAuth := func(ctx context.Context, profile upstream.Profile, _ *upstream.TokenSet) (*transport.Response, error) {
		return mintSession(ctx, manager, sessionClaims(profile))
	}

	if issuer := viper.GetString("oidc-issuer"); issuer != "" {
		provider, err := upstream.NewOIDCProvider(&upstream.Config{
			ID:           "oidc",
			ClientID:     viper.GetString("oidc-client-id"),
			ClientSecret: viper.GetString("oidc-client-secret"),
			Issuer:       issuer,
			OnAuth:       onAuth,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
		}
		providers = append(providers, provider)
	}

	if clientID := viper.GetString("github-client-id"); clientID != "" {
		config := upstream.GitHub(clientID, viper.GetString("github-client-secret"))
		config.OnAuth = onAuth
		provider, err := upstream.NewOAuth2Provider(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create GitHub provider: %w", err)
		}
		providers = append(providers, provider)
	}

	// The credentials provider accepts any username posted to its login
	// route. It exists to exercise the flow, not to authenticate anyone.
	credentialsProvider, err := credentials.New(&credentials.Config{
		OnAuth: func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			httpReq, ok := req.Raw.(*http.Request)
			if !ok {
				return &transport.Response{Status: http.StatusBadRequest}, nil
			}
			if err := httpReq.ParseForm(); err != nil {
				return nil, err
			}
			username := httpReq.PostFormValue("username")
			if username == "" {
				return &transport.Response{Status: http.StatusBadRequest}, nil
			}
			return mintSession(ctx, manager, map[string]any{"name": username})
		},
	})
	if err != nil {
		return nil, err
	}
	providers = append(providers, credentialsProvider)

	return providers, nil
}

// mintSession creates a session for the given claims and packages its
// cookies into a redirect back to the index page.
func mintSession(ctx context.Context, manager *session.Manager, claims map[string]any) (*transport.Response, error) {
	ns, err := manager.CreateSession(ctx, claims)
	if err != nil {
		return nil, err
	}
	sessionCookies, err := manager.CreateCookies(ns)
	if err != nil {
		return nil, err
	}
	return &transport.Response{
		User:     ns.User,
		Status:   http.StatusFound,
		Redirect: "/",
		Cookies:  sessionCookies,
	}, nil
}

// sessionClaims trims an upstream profile down to the claims the demo keeps
// in its session tokens.
func sessionClaims(profile upstream.Profile) map[string]any {
	claims := make(map[string]any, len(profileClaims))
	for _, key := range profileClaims {
		if value, ok := profile[key]; ok {
			claims[key] = value
		}
	}
	return claims
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if user := middleware.UserFromContext(r.Context()); user != nil {
		fmt.Fprintf(w, "signed in: %v\n", user)
		fmt.Fprintln(w, "sign out at /auth/logout")
		return
	}
	fmt.Fprintln(w, "not signed in")
	fmt.Fprintln(w, "sign in at /auth/login/oidc, /auth/login/github or POST /auth/login/credentials")
}
