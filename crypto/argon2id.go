package crypto

import (
	"chatus/domain"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// HashParams tunes argon2id. MemoryKiB is in kibibytes.
type HashParams struct {
	Iterations  uint32
	MemoryKiB   uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultHashParams follows the RFC 9106 second recommendation.
func DefaultHashParams() HashParams {
	return HashParams{Iterations: 3, MemoryKiB: 64 * 1024, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

type PasswordHasher struct {
	params argon2id.Params
}

func NewPasswordHasher(p HashParams) *PasswordHasher {
	return &PasswordHasher{params: argon2id.Params{
		Memory:      p.MemoryKiB,
		Iterations:  p.Iterations,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	}}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, &h.params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.UnexpectedPasswordHashingError, err)
	}
	return hash, nil
}

// Compare reports whether password matches hash. Hashes made with other
// parameters still verify, the parameters are read from the hash itself.
func (h *PasswordHasher) Compare(hash, password string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.UnexpectedPasswordHashComparisonError, err)
	}
	return match, nil
}
