package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/quill/pkg/config"
)

// StateCookieName holds the signed OIDC state between login and callback
const StateCookieName = "quill_oidc_state"

// stateTTL bounds how long a login may take at the identity provider
const stateTTL = 10 * time.Minute

var ErrInvalidState = errors.New("invalid or expired login state")

// ExternalIdentity is the verified identity returned by the provider
type ExternalIdentity struct {
	Subject string
	Email   string
}

type stateClaims struct {
	jwt.RegisteredClaims
	Redirect string `json:"redirect,omitempty"`
}

// OIDC runs the OpenID Connect authorization code flow
type OIDC struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	stateSecret  []byte
	now          func() time.Time
}

// NewOIDC discovers the issuer and prepares the code flow. stateSecret
// signs the state cookie.
func NewOIDC(ctx context.Context, cfg config.OIDCConfig, stateSecret string) (*OIDC, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDC{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		stateSecret: []byte(stateSecret),
		now:         time.Now,
	}, nil
}

// Begin returns the provider URL to redirect to and the signed value for
// StateCookieName. redirect is where the user lands after the callback.
func (o *OIDC) Begin(redirect string) (authURL, cookie string, err error) {
	state := uuid.NewString()
	now := o.now()
	cookie, err = jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        state,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
		Redirect: redirect,
	}).SignedString(o.stateSecret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign login state: %w", err)
	}
	return o.oauth2Config.AuthCodeURL(state), cookie, nil
}

// verifyState checks the cookie signature and that it was issued for
// stateParam, returning the post-login redirect
func (o *OIDC) verifyState(cookie, stateParam string) (string, error) {
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(cookie, claims, func(t *jwt.Token) (interface{}, error) {
		return o.stateSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(o.now),
	)
	if err != nil || stateParam == "" || claims.ID != stateParam {
		return "", ErrInvalidState
	}
	return claims.Redirect, nil
}

// Complete validates the state, exchanges the code and verifies the
// id_token. It returns the identity and the redirect recorded by Begin.
func (o *OIDC) Complete(ctx context.Context, cookie, stateParam, code string) (*ExternalIdentity, string, error) {
	redirect, err := o.verifyState(cookie, stateParam)
	if err != nil {
		return nil, "", err
	}
	if code == "" {
		return nil, "", fmt.Errorf("missing authorization code")
	}

	token, err := o.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("failed to exchange token: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, "", fmt.Errorf("missing id_token in response")
	}
	idToken, err := o.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, "", fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, "", fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" {
		return nil, "", fmt.Errorf("missing email in OIDC token")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, "", fmt.Errorf("email %s is not verified by the provider", claims.Email)
	}

	return &ExternalIdentity{Subject: idToken.Subject, Email: claims.Email}, redirect, nil
}
