package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of tokens issued by IssueToken.
const Issuer = "stuckorders"

type ctxKey struct{}

// Subject returns the JWT subject attached to ctx by the bearer middleware.
func Subject(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxKey{}).(string)
	return s, ok
}

// Middleware returns an http middleware enforcing the given auth mode.
// An apikey mode with an empty key, or a bearer mode with an empty secret,
// rejects every request rather than running open.
func Middleware(mode, header, key string, secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		switch mode {
		case "apikey":
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got := r.Header.Get(header)
				if got == "" {
					got = r.URL.Query().Get("token")
				}
				if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
					unauthorized(w, r, "invalid api key")
					return
				}
				next.ServeHTTP(w, r)
			})
		case "bearer":
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if tok == "" {
					tok = r.URL.Query().Get("token")
				}
				claims, err := ValidateToken(tok, secret)
				if err != nil {
					unauthorized(w, r, "invalid or expired token")
					slog.Debug("auth: token rejected", "err", err)
					return
				}
				ctx := context.WithValue(r.Context(), ctxKey{}, claims.Subject)
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		default:
			return next
		}
	}
}

// ValidateToken parses and validates an HS256 token signed with secret.
func ValidateToken(tok string, secret []byte) (*jwt.RegisteredClaims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth: no signing secret configured")
	}
	if tok == "" {
		return nil, fmt.Errorf("auth: no token provided")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	return claims, nil
}

// IssueToken signs an HS256 token for subject valid for ttl from now.
func IssueToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return s, nil
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	slog.Warn("auth: request rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "reason", msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}
