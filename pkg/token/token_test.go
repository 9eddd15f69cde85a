package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueDecodeRoundTrip(t *testing.T) {
	svc := New([]byte("super-secret"), 10*time.Minute)

	tok, err := svc.Issue(7)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	claims, err := svc.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.NotEmpty(t, claims.ID, "token should carry a nonce")
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestIssueEmptySecret(t *testing.T) {
	svc := New(nil, time.Minute)

	_, err := svc.Issue(1)
	assert.ErrorIs(t, err, ErrSigning)
}

func TestDecodeTampered(t *testing.T) {
	svc := New([]byte("super-secret"), 10*time.Minute)

	tok, err := svc.Issue(42)
	require.NoError(t, err)

	// flip a byte in the signed portion
	raw := []byte(tok)
	i := strings.LastIndexByte(tok, '.') - 2
	if raw[i] == 'a' {
		raw[i] = 'b'
	} else {
		raw[i] = 'a'
	}

	_, err = svc.Decode(string(raw))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeWrongSecret(t *testing.T) {
	issuer := New([]byte("right-secret"), 10*time.Minute)
	verifier := New([]byte("wrong-secret"), 10*time.Minute)

	tok, err := issuer.Issue(42)
	require.NoError(t, err)

	_, err = verifier.Decode(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeExpired(t *testing.T) {
	svc := New([]byte("super-secret"), 10*time.Minute)
	issued := time.Now()
	svc.now = func() time.Time { return issued }

	tok, err := svc.Issue(9)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(11 * time.Minute) }
	_, err = svc.Decode(tok)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestDecodeMalformed(t *testing.T) {
	svc := New([]byte("super-secret"), 10*time.Minute)

	for _, tok := range []string{"", "garbage-token", "not.a.jwt"} {
		_, err := svc.Decode(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}
