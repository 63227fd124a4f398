package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileOmitsSecrets(t *testing.T) {
	tok := "secret-token"
	a := &Account{
		ID:                "1",
		Email:             "a@x.com",
		CredentialHash:    "$2a$12$hash",
		VerificationToken: &tok,
		ResetToken:        &tok,
	}
	b, err := json.Marshal(a.Profile())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hash")
	assert.NotContains(t, string(b), tok)
	assert.Contains(t, string(b), `"email":"a@x.com"`)
}

func TestVerificationExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := &Account{}
	assert.True(t, a.VerificationExpired(now), "missing expiry")

	exp := now
	a.VerificationExpiry = &exp
	assert.True(t, a.VerificationExpired(now), "expiry == now")

	later := now.Add(time.Second)
	a.VerificationExpiry = &later
	assert.False(t, a.VerificationExpired(now))
}

func TestPendingVerification(t *testing.T) {
	a := &Account{}
	assert.False(t, a.PendingVerification())
	empty := ""
	a.VerificationToken = &empty
	assert.False(t, a.PendingVerification())
	tok := "t"
	a.VerificationToken = &tok
	assert.True(t, a.PendingVerification())
}
