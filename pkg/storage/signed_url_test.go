package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("stmt-1", "p-1/statement.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	id, path, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "stmt-1", id)
	require.Equal(t, "p-1/statement.csv", path)
	require.Equal(t, expiresAt, parsedExpiry)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return now }
	token, _, err := signer.Generate("stmt-1", "p-1/statement.csv")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, _, _, err = signer.Parse(token, false)
	require.ErrorIs(t, err, ErrTokenExpired)

	id, path, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "stmt-1", id)
	require.Equal(t, "p-1/statement.csv", path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("stmt-1", "p-1/statement.csv")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "stmt-2"
	_, _, _, err = signer.Parse(strings.Join(parts, "."), false)
	require.ErrorIs(t, err, ErrTokenInvalid)

	other := NewSignedURLSigner("different", time.Hour)
	_, _, _, err = other.Parse(token, false)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, _, _, err = signer.Parse("garbage", false)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
