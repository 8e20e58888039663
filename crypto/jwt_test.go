package crypto_test

import (
	"chatus/crypto"
	"chatus/domain"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "a signing key long enough for hs256 in tests"

func TestSessionTokens_Generate(t *testing.T) {
	t.Parallel()
	s := crypto.NewSessionTokens(testKey, time.Hour)
	now := time.Now()
	token, err := s.Generate("123-456-789", now)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	head, _ := base64.RawURLEncoding.DecodeString(parts[0])
	body, _ := base64.RawURLEncoding.DecodeString(parts[1])
	sig, _ := base64.RawURLEncoding.DecodeString(parts[2])

	assert.JSONEq(t, `{"alg":"HS256","typ":"JWT"}`, string(head))
	var claims map[string]any
	require.NoError(t, json.Unmarshal(body, &claims))
	assert.Equal(t, "123-456-789", claims["sub"])
	assert.Equal(t, "chatus", claims["iss"])
	assert.EqualValues(t, now.Unix(), claims["iat"])
	assert.EqualValues(t, now.Add(time.Hour).Unix(), claims["exp"])
	assert.NotEmpty(t, claims["jti"])
	assert.Len(t, sig, 256/8)

	again, err := s.Generate("123-456-789", now)
	require.NoError(t, err)
	assert.NotEqual(t, token, again, "every token has its own id")
}

func TestSessionTokens_Verify(t *testing.T) {
	t.Parallel()
	s := crypto.NewSessionTokens(testKey, 2*time.Hour)
	now := time.Now()

	token, _ := s.Generate("idid", now.Add(-time.Hour))
	parts := strings.Split(token, ".")

	sign := func(claims jwt.Claims) string {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
		require.NoError(t, err)
		return signed
	}
	expired, _ := s.Generate("idid", now.Add(-3*time.Hour))

	tests := []struct {
		name        string
		token       string
		expectedId  string
		expectedErr error
	}{
		{name: "valid", token: token, expectedId: "idid"},
		{name: "expired", token: expired, expectedErr: domain.ErrExpiredToken},
		{name: "tampered signature", token: token + "lol", expectedErr: domain.ErrInvalidTokenSignature},
		{
			name:        "other key",
			token:       must(crypto.NewSessionTokens("some other key entirely", time.Hour).Generate("idid", now)),
			expectedErr: domain.ErrInvalidTokenSignature,
		},
		{
			name:        "es512 header",
			token:       "eyJhbGciOiJFUzUxMiIsInR5cCI6IkpXVCJ9." + parts[1] + "." + parts[2],
			expectedErr: domain.ErrInvalidSigningAlg,
		},
		{
			name:        "none alg",
			token:       "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + parts[1] + ".",
			expectedErr: domain.ErrInvalidSigningAlg,
		},
		{name: "garbage", token: "stemretmretm", expectedErr: domain.ErrCorruptedToken},
		{
			name: "foreign issuer",
			token: sign(jwt.RegisteredClaims{
				Issuer: "someone-else", Subject: "idid", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			expectedErr: domain.ErrCorruptedToken,
		},
		{
			name:        "no expiry",
			token:       sign(jwt.RegisteredClaims{Issuer: "chatus", Subject: "idid"}),
			expectedErr: domain.ErrCorruptedToken,
		},
		{
			name: "no subject",
			token: sign(jwt.RegisteredClaims{
				Issuer: "chatus", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}),
			expectedErr: domain.ErrCorruptedToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			id, err := s.Verify(tc.token)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Empty(t, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedId, id)
		})
	}
}

func must(token string, err error) string {
	if err != nil {
		panic(err)
	}
	return token
}
