// Package adaptive wraps the two AEAD ciphers used for sealed backups and
// picks one for the host when the caller does not.
//
// AES-256-GCM is chosen on amd64 and arm64, where the standard library
// uses hardware AES. ChaCha20-Poly1305 is chosen everywhere else.
//
//	c, err := adaptive.New(key) // 32-byte key
//	sealed, err := c.Seal(plaintext, aad)
//	plain, err := c.Open(sealed, aad)
//
// Seal prefixes a fresh random nonce to each ciphertext.
package adaptive
