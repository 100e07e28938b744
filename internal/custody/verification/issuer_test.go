package verification

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueProducesUniqueHighEntropyTokens(t *testing.T) {
	issuer := NewIssuer("test-pepper")
	addressID := uuid.New()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		plaintext, rec, err := issuer.Issue(addressID)
		require.NoError(t, err)

		// 32 random bytes hex-encoded
		assert.Len(t, plaintext, 64)
		assert.False(t, seen[plaintext], "token collision")
		seen[plaintext] = true

		assert.Equal(t, addressID, rec.AddressID)
		assert.Nil(t, rec.VerifiedAt)
	}
}

func TestIssuedRecordNeverStoresPlaintext(t *testing.T) {
	issuer := NewIssuer("test-pepper")

	plaintext, rec, err := issuer.Issue(uuid.New())
	require.NoError(t, err)

	assert.NotContains(t, rec.TokenDigest, plaintext)
	assert.NotEqual(t, plaintext, rec.LookupHash)
}

func TestExpirySetToTwentyFourHours(t *testing.T) {
	issuer := NewIssuer("test-pepper")

	before := time.Now().Add(TokenTTL)
	_, rec, err := issuer.Issue(uuid.New())
	require.NoError(t, err)
	after := time.Now().Add(TokenTTL)

	assert.False(t, rec.ExpiresAt.Before(before))
	assert.False(t, rec.ExpiresAt.After(after))
}

func TestMatches(t *testing.T) {
	issuer := NewIssuer("test-pepper")

	plaintext, rec, err := issuer.Issue(uuid.New())
	require.NoError(t, err)

	assert.True(t, issuer.Matches(plaintext, rec))
	assert.False(t, issuer.Matches("0000000000000000000000000000000000000000000000000000000000000000", rec))

	// a different pepper cannot validate the same record
	other := NewIssuer("other-pepper")
	assert.False(t, other.Matches(plaintext, rec))
}

func TestLookupHashIsDeterministic(t *testing.T) {
	issuer := NewIssuer("test-pepper")

	plaintext, rec, err := issuer.Issue(uuid.New())
	require.NoError(t, err)

	assert.Equal(t, rec.LookupHash, issuer.LookupHash(plaintext))
	assert.NotEqual(t, rec.LookupHash, issuer.LookupHash(plaintext+"x"))
}
