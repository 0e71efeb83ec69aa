// SPDX-FileCopyrightText: Copyright 2026 Aponia Authors
// SPDX-License-Identifier: Apache-2.0

// Package jwe implements the session token codec: arbitrary claim bags are
// carried in compact JWEs (alg "dir", enc "A256GCM") encrypted with a key
// derived from the instance secret.
//
// The derivation and claim layout are wire compatible with Auth.js session
// cookies: HKDF-SHA256 over the secret with an empty salt and the context
// string "Auth.js Generated Encryption Key", 32-byte output.
package jwe

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyInfo is the HKDF context string used to derive the encryption key.
	KeyInfo = "Auth.js Generated Encryption Key"

	// KeySize is the derived key size in bytes (AES-256).
	KeySize = 32

	// Leeway is the clock skew tolerated when validating token expiry.
	Leeway = 15 * time.Second

	// DefaultMaxAge is the token lifetime applied when none is given.
	DefaultMaxAge = 24 * time.Hour

	// DefaultAccessTokenMaxAge is the default access token lifetime.
	DefaultAccessTokenMaxAge = time.Hour

	// DefaultRefreshTokenMaxAge is the default refresh token lifetime.
	DefaultRefreshTokenMaxAge = 7 * 24 * time.Hour
)

// ErrMissingSecret is returned when encoding or decoding without a secret.
var ErrMissingSecret = errors.New("jwe: secret is required")

// EncodeParams are the inputs to Encode.
type EncodeParams struct {
	// Secret is the instance secret the encryption key is derived from.
	Secret string

	// Token is the claim bag to encrypt.
	Token map[string]any

	// MaxAge is the token lifetime. Zero means DefaultMaxAge.
	MaxAge time.Duration
}

// DecodeParams are the inputs to Decode.
type DecodeParams struct {
	Secret string
	Token  string
}

// DeriveKey derives the 32-byte AES key from the instance secret.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(KeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}

// Encode encrypts the claim bag into a compact JWE. The registered iat, exp
// and jti claims are added on top of the caller's claims.
func Encode(params EncodeParams) (string, error) {
	key, err := DeriveKey(params.Secret)
	if err != nil {
		return "", err
	}

	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	encrypter, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: key},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %w", err)
	}

	now := time.Now()
	registered := jwt.Claims{
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(maxAge)),
		ID:       uuid.NewString(),
	}

	raw, err := jwt.Encrypted(encrypter).Claims(params.Token).Claims(registered).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to encrypt token: %w", err)
	}
	return raw, nil
}

// Decode decrypts a compact JWE produced by Encode and returns the full
// claim bag, registered claims included. Expired tokens fail validation with
// up to 15 seconds of clock skew tolerated.
func Decode(params DecodeParams) (map[string]any, error) {
	key, err := DeriveKey(params.Secret)
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseEncrypted(
		params.Token,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	var registered jwt.Claims
	claims := make(map[string]any)
	if err := parsed.Claims(key, &registered, &claims); err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{Time: time.Now()}, Leeway); err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	return claims, nil
}

// Options bundles the codec configuration shared between the session manager
// and the providers it registers. Encode and Decode may be swapped out for
// custom token formats.
type Options struct {
	Secret string
	Encode func(EncodeParams) (string, error)
	Decode func(DecodeParams) (map[string]any, error)
}

// DefaultOptions returns Options using this package's codec.
func DefaultOptions(secret string) Options {
	return Options{Secret: secret, Encode: Encode, Decode: Decode}
}

// EncodeToken encodes a claim bag using the configured encode function.
func (o Options) EncodeToken(token map[string]any, maxAge time.Duration) (string, error) {
	encode := o.Encode
	if encode == nil {
		encode = Encode
	}
	return encode(EncodeParams{Secret: o.Secret, Token: token, MaxAge: maxAge})
}

// DecodeToken decodes a claim bag using the configured decode function.
func (o Options) DecodeToken(token string) (map[string]any, error) {
	decode := o.Decode
	if decode == nil {
		decode = Decode
	}
	return decode(DecodeParams{Secret: o.Secret, Token: token})
}
