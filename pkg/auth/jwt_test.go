package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateJWT("ops", "s3cret", time.Hour)
	require.NoError(t, err)

	sub, err := ParseJWT(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)
}

func TestParseRejectsWrongSecretAndExpiry(t *testing.T) {
	token, err := GenerateJWT("ops", "s3cret", time.Hour)
	require.NoError(t, err)

	_, err = ParseJWT(token, "other")
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	expired, err := GenerateJWT("ops", "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(expired, "s3cret")
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestExtractToken(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"Bearer abc":      "abc",
		"bearer   abc":    "abc",
		"Basic dXNlcjpw":  "",
		"Bearer a b":      "",
	}
	for header, want := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, ExtractToken(r), header)
	}
}
