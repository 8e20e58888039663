package crypto_test

import (
	"chatus/crypto"
	"chatus/domain"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHasher_HashAndCompare(t *testing.T) {
	t.Parallel()
	hasher := crypto.NewPasswordHasher(crypto.HashParams{Iterations: 1, MemoryKiB: 16 * 1024, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	password := "correct horse battery"

	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id"))

	match, err := hasher.Compare(hash, password)
	assert.NoError(t, err)
	assert.True(t, match)

	match, err = hasher.Compare(hash, "wrong password")
	assert.NoError(t, err)
	assert.False(t, match)

	match, err = hasher.Compare("not-a-hash", password)
	assert.ErrorIs(t, err, domain.UnexpectedPasswordHashComparisonError)
	assert.False(t, match)
}

func TestPasswordHasher_Params(t *testing.T) {
	t.Parallel()
	iter, memory, parallelism := uint32(2), uint32(12*1024), uint8(2)
	keyLen, saltLen := uint32(32), uint32(16)
	hasher := crypto.NewPasswordHasher(crypto.HashParams{Iterations: iter, MemoryKiB: memory, Parallelism: parallelism, SaltLength: saltLen, KeyLength: keyLen})

	hash, err := hasher.Hash("param check")
	require.NoError(t, err)

	// $argon2id$v=19$m=12288,t=2,p=2$salt$key
	parts := strings.Split(hash, "$")
	require.Len(t, parts, 6)
	assert.Equal(t, fmt.Sprintf("m=%d,t=%d,p=%d", memory, iter, parallelism), parts[3])

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	assert.NoError(t, err)
	assert.Len(t, salt, int(saltLen))

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	assert.NoError(t, err)
	assert.Len(t, key, int(keyLen))
}
