// Package verification issues single-use address verification tokens
package verification

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

const (
	// TokenTTL is the fixed lifetime of a verification token
	TokenTTL = 24 * time.Hour

	tokenBytes      = 32
	saltBytes       = 16
	pbkdf2Iter      = 100000
	pbkdf2KeyLength = 32
)

// Issuer creates and checks verification tokens. The plaintext leaves the
// process exactly once, at issuance; only a salted PBKDF2 digest plus a
// deterministic lookup hash are persisted.
type Issuer struct {
	pepper []byte
}

// NewIssuer creates a token issuer. The pepper is a deployment-wide secret
// mixed into the stored digest so a leaked database alone cannot be used to
// forge redeemable tokens.
func NewIssuer(pepper string) *Issuer {
	return &Issuer{pepper: []byte(pepper)}
}

// Issue generates a fresh token bound to the given address. The returned
// record carries the stored forms and a 24-hour expiry; the plaintext is for
// out-of-band delivery and is never retrievable again.
func (i *Issuer) Issue(addressID uuid.UUID) (string, *interfaces.AddressVerification, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("token generation failed: %w", err)
	}
	plaintext := hex.EncodeToString(raw)

	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", nil, fmt.Errorf("salt generation failed: %w", err)
	}

	now := time.Now()
	rec := &interfaces.AddressVerification{
		ID:          uuid.New(),
		AddressID:   addressID,
		LookupHash:  i.LookupHash(plaintext),
		TokenDigest: i.digest(plaintext, salt),
		ExpiresAt:   now.Add(TokenTTL),
		CreatedAt:   now,
	}
	return plaintext, rec, nil
}

// LookupHash returns the deterministic form used to resolve a presented
// token to its verification record.
func (i *Issuer) LookupHash(plaintext string) string {
	mac := hmac.New(sha256.New, i.pepper)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches checks a presented plaintext against the record's salted digest
func (i *Issuer) Matches(plaintext string, rec *interfaces.AddressVerification) bool {
	parts := strings.SplitN(rec.TokenDigest, "$", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := pbkdf2.Key(append([]byte(plaintext), i.pepper...), salt, pbkdf2Iter, pbkdf2KeyLength, sha256.New)
	return hmac.Equal(want, got)
}

func (i *Issuer) digest(plaintext string, salt []byte) string {
	key := pbkdf2.Key(append([]byte(plaintext), i.pepper...), salt, pbkdf2Iter, pbkdf2KeyLength, sha256.New)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(key)
}
