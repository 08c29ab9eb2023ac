package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const uidKey contextKey = "UID"

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier resolves a bearer token to the uid it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (uid string, err error)
}

// StaticToken accepts exactly one shared secret.
type StaticToken struct {
	Token string
	UID   string
}

func (s StaticToken) Verify(_ context.Context, token string) (string, error) {
	if s.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
		return "", ErrInvalidToken
	}
	return s.UID, nil
}

// UID returns the uid the Authenticator stored for the request.
func UID(ctx context.Context) string {
	uid, _ := ctx.Value(uidKey).(string)
	return uid
}

// Authenticator rejects requests without a token the verifier accepts. The
// token is read from the Authorization header or the "token" query param,
// the latter for websocket upgrades from a browser.
func Authenticator(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idToken := findToken(r, tokenFromHeader, tokenFromQuery)
			if idToken == "" {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			uid, err := verifier.Verify(r.Context(), idToken)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), uidKey, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromHeader(r *http.Request) string {
	// Get token from authorization header.
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 7 && strings.ToUpper(bearer[0:6]) == "BEARER" {
		return bearer[7:]
	}
	return ""
}

func tokenFromQuery(r *http.Request) string {
	// Get token from query param named "token".
	return r.URL.Query().Get("token")
}

func findToken(r *http.Request, findTokenFns ...func(r *http.Request) string) string {
	var tokenString string

	for _, fn := range findTokenFns {
		tokenString = fn(r)
		if tokenString != "" {
			break
		}
	}

	return tokenString
}
