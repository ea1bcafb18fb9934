package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sharedoc/pkg/logger"
)

type contextKey string

const SessionIDKey contextKey = "sessionID"

const (
	SessionHeader = "X-Session-Token"
	SessionCookie = "sharedoc_session"
	SessionQuery  = "session_token"
)

var errInvalidSession = errors.New("invalid session token")

// Sessions issues and verifies the signed tokens that identify a browser
// session to the lock endpoints. A session is not a user account.
type Sessions struct {
	secret       []byte
	lifetime     time.Duration
	secureCookie bool
	now          func() time.Time
}

func NewSessions(secret string, lifetime time.Duration, secureCookie bool) *Sessions {
	return &Sessions{
		secret:       []byte(secret),
		lifetime:     lifetime,
		secureCookie: secureCookie,
		now:          time.Now,
	}
}

// Issue signs a token whose subject is sessionID.
func (s *Sessions) Issue(sessionID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the session id carried by tokenString.
func (s *Sessions) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", errInvalidSession, err)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", fmt.Errorf("%w: subject is not a session id", errInvalidSession)
	}
	return claims.Subject, nil
}

// tokenFromRequest looks at the header, a bearer token, the query string
// (browsers cannot set headers on websocket upgrades) and the cookie, in
// that order.
func tokenFromRequest(r *http.Request) string {
	if t := r.Header.Get(SessionHeader); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if t := r.URL.Query().Get(SessionQuery); t != "" {
		return t
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// Middleware puts the caller's session id in the request context. Callers
// without a token get a fresh session, returned in the response header and
// cookie. A token that fails verification is rejected with 401.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := tokenFromRequest(r)

		var sessionID string
		if tokenString == "" {
			sessionID = uuid.NewString()
			token, err := s.Issue(sessionID)
			if err != nil {
				logger.Sugar.Errorf("Failed to issue session token: %v", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			w.Header().Set(SessionHeader, token)
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    token,
				Path:     "/",
				MaxAge:   int(s.lifetime.Seconds()),
				HttpOnly: true,
				Secure:   s.secureCookie,
				SameSite: http.SameSiteLaxMode,
			})
		} else {
			var err error
			sessionID, err = s.Verify(tokenString)
			if err != nil {
				logger.Sugar.Debugf("Rejected session token: %v", err)
				http.Error(w, "Unauthorized: Invalid or expired session token", http.StatusUnauthorized)
				return
			}
		}

		ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionID returns the session id stored by Middleware, or "" outside it.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}
