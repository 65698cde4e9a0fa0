package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"stakeshack/crypto"
	"stakeshack/reconcile"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errMissingSub   = errors.New("token has no subject")
)

// Claims is the session token. Subject is the marketplace profile id; Wallet
// is the connected wallet's base58 key and is absent while disconnected.
type Claims struct {
	Wallet string `json:"wallet,omitempty"`
	jwt.RegisteredClaims
}

type sessionKey struct{}

// Authenticator verifies HS256 session tokens.
type Authenticator struct {
	secret []byte
	issuer string
	skew   time.Duration
}

func NewAuthenticator(secret, issuer string, skew time.Duration) *Authenticator {
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Authenticator{secret: []byte(strings.TrimSpace(secret)), issuer: issuer, skew: skew}
}

// Session extracts the session from the Authorization header.
func (a *Authenticator) Session(r *http.Request) (reconcile.Session, error) {
	raw := extractBearer(r.Header.Get("Authorization"))
	if raw == "" {
		return reconcile.Session{}, errMissingToken
	}
	if len(a.secret) == 0 {
		return reconcile.Session{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.skew),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return reconcile.Session{}, err
	}
	if !token.Valid {
		return reconcile.Session{}, errors.New("token invalid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return reconcile.Session{}, errMissingSub
	}
	session := reconcile.Session{ProfileID: claims.Subject}
	if wallet := strings.TrimSpace(claims.Wallet); wallet != "" {
		key, err := crypto.DecodePublicKey(wallet)
		if err != nil {
			return reconcile.Session{}, fmt.Errorf("wallet claim: %w", err)
		}
		session.Wallet = &key
	}
	return session, nil
}

// Middleware rejects requests without a valid session token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := a.Session(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func sessionFrom(ctx context.Context) reconcile.Session {
	session, _ := ctx.Value(sessionKey{}).(reconcile.Session)
	return session
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
