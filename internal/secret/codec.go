// Package secret seals sensitive strings for storage at rest.
//
// Sealed values use a tagged envelope:
//
//	enc:v1:<nonce>:<tag>:<ciphertext>
//
// where each part is unpadded base64url. Values without the prefix are
// treated as legacy plaintext and returned unchanged by Open.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/LightHostingFree/sslgen/internal/certerr"
)

// Prefix marks a value produced by Seal.
const Prefix = "enc:v1:"

const (
	nonceSize = 12
	tagSize   = 16
)

// ErrDecode is returned when a tagged value cannot be opened: the envelope is
// malformed or the authentication tag does not verify.
var ErrDecode = errors.New("secret: cannot decode sealed value")

var b64 = base64.RawURLEncoding

// Codec seals and opens strings with AES-256-GCM.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the AES key from SHA-256(key). An empty key is a
// configuration error.
func NewCodec(key string) (*Codec, error) {
	if key == "" {
		return nil, certerr.Configf("secret.encryption_key is required")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("secret: init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("secret: init gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce. Empty input is returned
// as is.
func (c *Codec) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secret: generate nonce: %w", err)
	}
	out := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]

	return Prefix + b64.EncodeToString(nonce) + ":" + b64.EncodeToString(tag) + ":" + b64.EncodeToString(ct), nil
}

// Open decrypts a value produced by Seal. Input without the envelope prefix
// (including empty input) is returned unchanged.
func (c *Codec) Open(token string) (string, error) {
	if !strings.HasPrefix(token, Prefix) {
		return token, nil
	}
	parts := strings.Split(strings.TrimPrefix(token, Prefix), ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 envelope parts, got %d", ErrDecode, len(parts))
	}

	nonce, err := b64.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad nonce", ErrDecode)
	}
	tag, err := b64.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: bad tag", ErrDecode)
	}
	ct, err := b64.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrDecode)
	}

	plain, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return string(plain), nil
}

// IsSealed reports whether v carries the envelope prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, Prefix)
}
