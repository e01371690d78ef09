package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectAccessTokenReadsClaims(t *testing.T) {
	tok, err := NewAccessToken("secret", "user-42", time.Hour)
	require.NoError(t, err)

	got, err := InspectAccessToken(tok.Token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "user-42", got.Subject)
	assert.WithinDuration(t, tok.Exp, got.Exp, time.Second)
}

func TestInspectAccessTokenExpired(t *testing.T) {
	tok, err := NewAccessToken("secret", "user-42", time.Minute)
	require.NoError(t, err)

	_, err = InspectAccessToken(tok.Token, time.Now().Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestInspectAccessTokenOpaque(t *testing.T) {
	got, err := InspectAccessToken("not-a-jwt", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "not-a-jwt", got.Token)
	assert.True(t, got.Exp.IsZero())

	got, err = InspectAccessToken("", time.Now())
	require.NoError(t, err)
	assert.Empty(t, got.Token)
}
