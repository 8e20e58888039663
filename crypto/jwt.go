package crypto

import (
	"chatus/domain"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "chatus"

// SessionTokens issues and checks the HS256 session cookie. The user id is
// carried as the subject claim.
type SessionTokens struct {
	key    []byte
	maxAge time.Duration
	parser *jwt.Parser
}

func NewSessionTokens(key string, maxAge time.Duration) *SessionTokens {
	return &SessionTokens{
		key:    []byte(key),
		maxAge: maxAge,
		parser: jwt.NewParser(jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired()),
	}
}

func (s *SessionTokens) Generate(userId string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    tokenIssuer,
		Subject:   userId,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.maxAge)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.UnexpectedTokenGenerationError, err)
	}
	return signed, nil
}

// verifyErrors is checked in order, the first match wins.
var verifyErrors = []struct {
	cause error
	err   error
}{
	{domain.ErrInvalidSigningAlg, domain.ErrInvalidSigningAlg},
	{jwt.ErrTokenExpired, domain.ErrExpiredToken},
	{jwt.ErrSignatureInvalid, domain.ErrInvalidTokenSignature},
	{jwt.ErrTokenMalformed, domain.ErrCorruptedToken},
	{jwt.ErrTokenInvalidIssuer, domain.ErrCorruptedToken},
	{jwt.ErrTokenRequiredClaimMissing, domain.ErrCorruptedToken},
}

// Verify returns the user id of a valid token.
func (s *SessionTokens) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := s.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidSigningAlg
		}
		return s.key, nil
	})
	if err != nil {
		for _, e := range verifyErrors {
			if errors.Is(err, e.cause) {
				return "", e.err
			}
		}
		return "", fmt.Errorf("%w: %w", domain.UnexpectedTokenVerificationError, err)
	}
	if claims.Subject == "" {
		return "", domain.ErrCorruptedToken
	}
	return claims.Subject, nil
}
