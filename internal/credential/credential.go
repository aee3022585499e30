// Package credential supplies the bearer credential used to open the
// tracking channel. The credential is issued and refreshed elsewhere; this
// package only reads it and rejects tokens that have visibly expired.
package credential

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	appErrors "delivery-tracker/pkg/errors"
)

const DefaultLeeway = 30 * time.Second

type Options struct {
	// Leeway tolerates clock skew when checking the exp claim.
	Leeway time.Duration
	Clock  func() time.Time
}

// Source implements tracking.CredentialSource.
type Source struct {
	read   func() (string, error)
	leeway time.Duration
	now    func() time.Time
}

func newSource(read func() (string, error), opts Options) *Source {
	s := &Source{read: read, leeway: opts.Leeway, now: opts.Clock}
	if s.leeway <= 0 {
		s.leeway = DefaultLeeway
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Static returns a source for a fixed token, typically from configuration.
func Static(token string, opts Options) *Source {
	return newSource(func() (string, error) { return token, nil }, opts)
}

// File returns a source that rereads path on every call so an external
// process can rotate the token.
func File(path string, opts Options) *Source {
	return newSource(func() (string, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", appErrors.ErrMissingCredential
			}
			return "", fmt.Errorf("read credential file: %w", err)
		}
		return string(raw), nil
	}, opts)
}

func (s *Source) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token, err := s.read()
	if err != nil {
		return "", err
	}
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return "", appErrors.ErrMissingCredential
	}

	if err := CheckExpiry(token, s.now(), s.leeway); err != nil {
		return "", err
	}
	return token, nil
}

// CheckExpiry reads the exp claim of a JWT without verifying its signature;
// the tracking service does the verification. Opaque tokens pass through.
func CheckExpiry(token string, now time.Time, leeway time.Duration) error {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}

	if now.After(claims.ExpiresAt.Time.Add(leeway)) {
		return fmt.Errorf("%w: expired at %s", appErrors.ErrCredentialExpired, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return nil
}
