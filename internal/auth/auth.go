// Package auth issues and verifies bearer tokens for the management API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingHeader   = errors.New("authorization header is required")
	ErrMalformedHeader = errors.New("authorization header must be in format: Bearer {token}")
	ErrInvalidToken    = errors.New("invalid token")
)

type contextKey struct{}

var ownerKey contextKey

// Claims carries the authenticated owner identity.
type Claims struct {
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens with a shared secret.
type Authenticator struct {
	secret     []byte
	expiration time.Duration
}

func New(secret string, expiration time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("auth secret must not be empty")
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), expiration: expiration}, nil
}

func (a *Authenticator) GenerateToken(ownerID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   ownerID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.OwnerID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// owner identity on the request context for handlers downstream.
func (a *Authenticator) Middleware(unauthorized func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, r, ErrMissingHeader)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				unauthorized(w, r, ErrMalformedHeader)
				return
			}
			claims, err := a.ValidateToken(parts[1])
			if err != nil {
				unauthorized(w, r, ErrInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), claims.OwnerID)))
		})
	}
}

// WithOwner returns a context carrying the authenticated owner id.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey, ownerID)
}

// OwnerID extracts the authenticated owner id from the request context.
func OwnerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerKey).(string)
	return id, ok && id != ""
}
