package sealed

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/yndnr/seqmesh-go/pkg/crypto/adaptive"
)

const (
	// MinPassphraseLength is the shortest accepted passphrase.
	MinPassphraseLength = 8

	// SaltLength is the Argon2id salt stored in the header.
	SaltLength = 16
)

type kdfParams struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
}

// Argon2id cost. Tests lower it.
var kdf = kdfParams{time: 3, memory: 64 * 1024, threads: 4}

// ValidatePassphrase checks the minimum length.
func ValidatePassphrase(passphrase []byte) error {
	if len(passphrase) < MinPassphraseLength {
		return ErrPassphraseTooShort
	}
	return nil
}

// deriveKey stretches passphrase into an adaptive.KeySize key.
func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, kdf.time, kdf.memory, kdf.threads, adaptive.KeySize)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("sealed: salt: %w", err)
	}
	return salt, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
