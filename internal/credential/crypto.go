package credential

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

// cipher seals and opens token plaintext with a fixed 32-byte key: a
// deployment secret hashed down to the key size the underlying primitive
// requires, rather than a per-record random key.
type cipher struct {
	key [32]byte
}

// newCipher derives a secretbox key as SHA-256 of the configured secret.
func newCipher(secret string) *cipher {
	return &cipher{key: sha256.Sum256([]byte(secret))}
}

func (c *cipher) seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return sealed, nil
}

func (c *cipher) open(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	if len(ciphertext) < 24 {
		return "", errors.New("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plain, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &c.key)
	if !ok {
		return "", errors.New("failed to decrypt credential: authentication failed")
	}
	return string(plain), nil
}
