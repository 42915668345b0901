package records

// AEAD is the capability set shared by every record-protection
// primitive this layer can drive: a real AEAD cipher (AES-GCM,
// ChaCha20-Poly1305) and the legacy CBC+HMAC construction (cbc_hmac.go)
// both implement it, and the record writer/reader (writer.go,
// reader.go, cipherstate.go) never know which one they are holding.
// This unification is the reason those two files stay short: CBC+HMAC
// is one more implementation of this interface, not a separate code
// path threaded through the framer.
type AEAD interface {
	// NonceSize returns the number of bytes Start expects.
	NonceSize() int

	// SetAD records the additional authenticated data covering the
	// next Start/Finish pair. It must be called before Start.
	SetAD(ad []byte)

	// Start keys the primitive for one record using nonce, which must
	// be NonceSize() bytes. For encryption it prepares to seal; for
	// decryption it prepares to open.
	Start(nonce []byte) error

	// Finish transforms dst[offset:] in place (encrypting or
	// decrypting) and returns the resulting slice, which for
	// encryption is longer than the input (tag appended) and for
	// decryption is shorter (tag stripped and verified). On
	// authentication failure it returns an error and the caller must
	// not use the returned bytes.
	Finish(dst []byte, offset int) ([]byte, error)

	// OutputLength returns the number of bytes Finish will produce
	// from an input of inputLen bytes (dst[offset:] before the call).
	OutputLength(inputLen int) int

	// MinimumFinalSize is the smallest legal input to Finish — for an
	// AEAD this is the tag length, since a ciphertext shorter than the
	// tag cannot possibly be genuine.
	MinimumFinalSize() int
}

// RandomSource supplies the random bytes CipherState needs for CBC
// explicit IVs. It is satisfied directly by crypto/rand.Reader; its
// only purpose in being its own named interface (rather than plain
// io.Reader) is letting tests substitute a deterministic source.
type RandomSource interface {
	Read(p []byte) (n int, err error)
}
