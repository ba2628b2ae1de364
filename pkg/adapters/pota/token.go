package pota

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/qsosync/platform/pkg/common/httpclient"
	"github.com/qsosync/platform/pkg/common/logger"
	"github.com/qsosync/platform/pkg/syncerrors"
)

// SessionDriver performs the interactive sign-in and hands back the web
// session's local storage. The UI layer provides the implementation; this
// package only decides when to invoke it and how to mine the snapshot.
type SessionDriver interface {
	// Login completes the provider sign-in flow and returns the session
	// storage as key/value pairs.
	Login(ctx context.Context) (map[string]string, error)
}

const maxLoginAttempts = 3

// jwtClaims is the subset of the identity token payload we read. The token is
// consumed as an opaque bearer credential; claims are decoded without
// signature verification only to learn the expiry.
type jwtClaims struct {
	Exp   int64  `json:"exp"`
	Email string `json:"email"`
}

// ExtractToken scans a session storage snapshot for the identity token. The
// provider's SDK stores it under a key ending in ".idToken"; as a fallback
// any JWT-shaped value whose claims carry an expiry is accepted.
func ExtractToken(storage map[string]string) (*oauth2.Token, error) {
	var fallback *oauth2.Token
	for key, value := range storage {
		claims, ok := decodeJWT(value)
		if !ok {
			continue
		}
		token := &oauth2.Token{
			AccessToken: value,
			TokenType:   "Bearer",
			Expiry:      time.Unix(claims.Exp, 0).UTC(),
		}
		if strings.HasSuffix(key, ".idToken") {
			return token, nil
		}
		if fallback == nil {
			fallback = token
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("no identity token in session storage (%d keys)", len(storage))
}

func decodeJWT(value string) (jwtClaims, bool) {
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return jwtClaims{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return jwtClaims{}, false
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return jwtClaims{}, false
	}
	return claims, true
}

// tokenSource caches the scraped token and re-drives the login flow when it
// is within the refresh skew of expiring. It satisfies oauth2.TokenSource so
// the HTTP side can stay provider-agnostic.
type tokenSource struct {
	ctx    context.Context
	driver SessionDriver
	skew   time.Duration

	mu    sync.Mutex
	token *oauth2.Token
}

func NewTokenSource(ctx context.Context, driver SessionDriver, skew time.Duration) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, driver: driver, skew: skew}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != nil && time.Until(s.token.Expiry) > s.skew {
		return s.token, nil
	}

	var token *oauth2.Token
	err := httpclient.Retry(s.ctx, maxLoginAttempts, 500*time.Millisecond, func() error {
		storage, err := s.driver.Login(s.ctx)
		if err != nil {
			logger.Log.WithError(err).Warn("session login failed")
			return err
		}
		token, err = ExtractToken(storage)
		if err != nil {
			logger.Log.WithError(err).Warn("no usable token in session storage")
		}
		return err
	})
	if err != nil {
		return nil, &syncerrors.AuthenticationError{Service: "pota", Reason: err}
	}

	if claims, ok := decodeJWT(token.AccessToken); ok && claims.Email != "" {
		logger.Log.WithField("account", claims.Email).Debug("session token refreshed")
	}
	s.token = token
	return token, nil
}
