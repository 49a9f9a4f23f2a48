// Package auth verifies callers: bearer tokens issued by the wallet login
// provider, and wallet signatures presented at registration.
package auth

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrForbidden    = errors.New("auth: caller may not act for this user")
	ErrNotAdmin     = errors.New("auth: operator privileges required")
)

// RoleAdmin grants catalogue writes and KYC review.
const RoleAdmin = "admin"

// Principal is the authenticated caller. UserID is the token subject.
type Principal struct {
	UserID string
	Roles  []string
	Claims jwt.RegisteredClaims
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// tokenClaims are the registered claims plus an optional roles list.
type tokenClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal set by Verifier.Middleware.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// CheckUser returns ErrForbidden if the request is authenticated as a
// different user. Unauthenticated contexts pass; the middleware decides
// whether those reach handlers at all.
func CheckUser(ctx context.Context, userID string) error {
	p, ok := FromContext(ctx)
	if !ok || p.UserID == userID {
		return nil
	}
	return fmt.Errorf("%w: token subject %s, requested %s", ErrForbidden, p.UserID, userID)
}

// CheckAdmin returns ErrNotAdmin unless the request is authenticated
// with the admin role. Like CheckUser, unauthenticated contexts pass.
func CheckAdmin(ctx context.Context) error {
	p, ok := FromContext(ctx)
	if !ok || p.HasRole(RoleAdmin) {
		return nil
	}
	return fmt.Errorf("%w: subject %s", ErrNotAdmin, p.UserID)
}

// RequireAdmin rejects authenticated callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := CheckAdmin(r.Context()); err != nil {
			writeAuthError(w, http.StatusForbidden, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Verifier validates ES256 bearer tokens.
type Verifier struct {
	key      *ecdsa.PublicKey
	issuer   string
	audience string
	admins   map[string]bool
}

// NewVerifier parses a PEM-encoded ECDSA public key. audience may be empty.
func NewVerifier(pemKey []byte, issuer, audience string) (*Verifier, error) {
	key, err := jwt.ParseECPublicKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	return &Verifier{key: key, issuer: issuer, audience: audience}, nil
}

// SetAdmins grants the admin role to the given token subjects, for
// providers that cannot mint a roles claim.
func (v *Verifier) SetAdmins(subjects ...string) {
	v.admins = make(map[string]bool, len(subjects))
	for _, s := range subjects {
		if s = strings.TrimSpace(s); s != "" {
			v.admins[s] = true
		}
	}
}

// Verify parses and validates a raw token.
func (v *Verifier) Verify(raw string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	p := &Principal{UserID: claims.Subject, Roles: claims.Roles, Claims: claims.RegisteredClaims}
	if v.admins[claims.Subject] && !p.HasRole(RoleAdmin) {
		p.Roles = append(p.Roles, RoleAdmin)
	}
	return p, nil
}

// Middleware rejects requests without a valid bearer token. A nil
// Verifier lets every request through unauthenticated.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	if v == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r)
		if !ok {
			unauthorized(w, ErrMissingToken)
			return
		}
		p, err := v.Verify(raw)
		if err != nil {
			unauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="rwa-ledger"`)
	writeAuthError(w, http.StatusUnauthorized, err)
}

func writeAuthError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
