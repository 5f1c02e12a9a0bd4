package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the key length accepted by both ciphers.
const KeySize = 32

// CipherType identifies an AEAD algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

var (
	ErrKeySize       = fmt.Errorf("adaptive: key must be %d bytes", KeySize)
	ErrShortMessage  = errors.New("adaptive: ciphertext shorter than nonce")
	ErrUnknownCipher = errors.New("adaptive: unknown cipher")
)

// ParseCipherType accepts the canonical names, case-insensitively. The
// empty string selects the host default.
func ParseCipherType(s string) (CipherType, error) {
	switch CipherType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultCipherType(), nil
	case CipherAESGCM:
		return CipherAESGCM, nil
	case CipherChaCha20, "chacha20":
		return CipherChaCha20, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCipher, s)
	}
}

// DefaultCipherType returns the preferred cipher for this architecture.
func DefaultCipherType() CipherType {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return CipherAESGCM
	default:
		return CipherChaCha20
	}
}

// Cipher seals and opens messages with one key.
type Cipher struct {
	typ  CipherType
	aead cipher.AEAD
}

// New returns a cipher of the host's default type.
func New(key []byte) (*Cipher, error) {
	return NewWithType(key, DefaultCipherType())
}

// NewWithType returns a cipher of the given type.
func NewWithType(key []byte, typ CipherType) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch typ {
	case CipherAESGCM:
		var block cipher.Block
		if block, err = aes.NewCipher(key); err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case CipherChaCha20:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, typ)
	}
	if err != nil {
		return nil, fmt.Errorf("adaptive: init %s: %w", typ, err)
	}
	return &Cipher{typ: typ, aead: aead}, nil
}

// Type returns the algorithm in use.
func (c *Cipher) Type() CipherType { return c.typ }

// Overhead is the number of bytes Seal adds to a plaintext.
func (c *Cipher) Overhead() int { return c.aead.NonceSize() + c.aead.Overhead() }

// Seal encrypts and authenticates plaintext together with aad. The result
// is nonce || ciphertext || tag.
func (c *Cipher) Seal(plaintext, aad []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("adaptive: nonce: %w", err)
	}
	return c.aead.Seal(out, out[:ns], plaintext, aad), nil
}

// Open reverses Seal. It fails if the message or aad was altered.
func (c *Cipher) Open(sealed, aad []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, ErrShortMessage
	}
	return c.aead.Open(nil, sealed[:ns], sealed[ns:], aad)
}
