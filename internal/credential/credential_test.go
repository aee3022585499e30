package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "delivery-tracker/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signed(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "courier-7",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestStatic(t *testing.T) {
	valid := signed(t, t0.Add(time.Hour))
	expired := signed(t, t0.Add(-time.Hour))

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{"valid jwt", valid, valid, nil},
		{"bearer prefix", "Bearer " + valid, valid, nil},
		{"opaque token", "opaque-session-token", "opaque-session-token", nil},
		{"expired jwt", expired, "", appErrors.ErrCredentialExpired},
		{"empty", "  ", "", appErrors.ErrMissingCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := Static(tt.token, Options{Clock: func() time.Time { return t0 }})
			got, err := src.Token(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckExpiry_Leeway(t *testing.T) {
	token := signed(t, t0)

	assert.NoError(t, CheckExpiry(token, t0.Add(10*time.Second), 30*time.Second))
	assert.ErrorIs(t, CheckExpiry(token, t0.Add(time.Minute), 30*time.Second), appErrors.ErrCredentialExpired)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	src := File(path, Options{Clock: func() time.Time { return t0 }})
	ctx := context.Background()

	_, err := src.Token(ctx)
	assert.ErrorIs(t, err, appErrors.ErrMissingCredential)

	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))
	got, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	require.NoError(t, os.WriteFile(path, []byte("rotated"), 0o600))
	got, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got)
}
