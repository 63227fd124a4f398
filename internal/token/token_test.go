package token

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOneTime(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := NewOneTime()
		require.NoError(t, err)
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err)
		assert.Len(t, raw, OneTimeBytes)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestNewOneTimeRandomFailure(t *testing.T) {
	orig := randReader
	defer func() { randReader = orig }()

	randReader = failingReader{}
	_, err := NewOneTime()
	require.Error(t, err)

	randReader = bytes.NewReader(make([]byte, 4))
	_, err = NewOneTime()
	require.Error(t, err, "short read")
}

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer("super-secret", "pitchfork-account", time.Hour, nil)
	require.NoError(t, err)
	return i
}

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()
	i := newTestIssuer(t)

	tok, exp, err := i.Issue(Identity{ID: "42", Email: "a@x.com"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	id, err := i.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "42", Email: "a@x.com"}, id)
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()
	i := newTestIssuer(t)
	valid, _, err := i.Issue(Identity{ID: "42", Email: "a@x.com"})
	require.NoError(t, err)

	expired, _, err := i.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }).
		Issue(Identity{ID: "42", Email: "a@x.com"})
	require.NoError(t, err)

	other, err := NewIssuer("other-secret", "pitchfork-account", time.Hour, nil)
	require.NoError(t, err)
	wrongKey, _, err := other.Issue(Identity{ID: "42"})
	require.NoError(t, err)

	otherIss, err := NewIssuer("super-secret", "someone-else", time.Hour, nil)
	require.NoError(t, err)
	wrongIssuer, _, err := otherIss.Issue(Identity{ID: "42"})
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := bytes.Replace(payload, []byte(`"sub":"42"`), []byte(`"sub":"43"`), 1)
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString(forged) + "." + parts[2]

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    "pitchfork-account",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "pitchfork-account",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("super-secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"tampered":     tampered,
		"alg none":     unsigned,
		"no subject":   noSubject,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := i.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewIssuerValidation(t *testing.T) {
	_, err := NewIssuer("", "iss", time.Hour, nil)
	require.Error(t, err)
	_, err = NewIssuer("secret", "iss", 0, nil)
	require.Error(t, err)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "expired", reason(jwt.ErrTokenExpired))
	assert.Equal(t, "signature", reason(jwt.ErrTokenSignatureInvalid))
	assert.Equal(t, "other", reason(errors.New("x")))
}
