// Package sealed encrypts backup streams with a passphrase.
//
// A sealed stream starts with a fixed header (magic, format version,
// cipher and Argon2id salt) followed by length-prefixed frames. Each frame
// holds up to ChunkSize bytes of plaintext sealed by pkg/crypto/adaptive,
// with the header, the frame index and a final-frame flag as associated
// data. Reordered, dropped or truncated frames fail authentication, and a
// stream that ends before its final frame reports ErrTruncated.
//
// The admin backup endpoint seals with NewWriter when
// security.backup_passphrase is set, and seqmesh-cli opens the result with
// NewReader.
package sealed
