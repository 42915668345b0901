package records

// NonceFormat selects how a CipherState turns a sequence number (and,
// for reads, the bytes on the wire) into the 12-byte AEAD nonce.
type NonceFormat int

const (
	// CBCMode is the legacy construction: an explicit random IV per
	// record (except the handshake-derived initial IV on TLS1.0's
	// first record), carried on the wire and consumed whole as the
	// cipher IV rather than XORed or appended.
	CBCMode NonceFormat = iota
	// AEADXOR12 XORs an 8-byte big-endian sequence number into a
	// 12-byte implicit nonce; no explicit nonce is carried on the
	// wire. Used by ChaCha20-Poly1305 suites (RFC 7905) and by
	// AES-GCM suites negotiated in their TLS 1.3-style form.
	AEADXOR12
	// AEADImplicit4 carries an explicit 8-byte nonce on the wire,
	// concatenated after a 4-byte implicit salt (RFC 5288).
	AEADImplicit4
)

func (f NonceFormat) String() string {
	switch f {
	case CBCMode:
		return "CBC_MODE"
	case AEADXOR12:
		return "AEAD_XOR_12"
	case AEADImplicit4:
		return "AEAD_IMPLICIT_4"
	default:
		return "unknown"
	}
}

// CipherAlgorithm names the bulk cipher a Ciphersuite negotiates.
type CipherAlgorithm int

const (
	CipherAES128GCM CipherAlgorithm = iota
	CipherAES256GCM
	CipherChaCha20Poly1305
	CipherAES128CBC
	CipherAES256CBC
)

// MACAlgorithm names the MAC a CBC_MODE Ciphersuite negotiates. AEAD
// suites carry MACNone: authentication is integral to the cipher.
type MACAlgorithm int

const (
	MACNone MACAlgorithm = iota
	MACSHA1
	MACSHA256
	MACSHA384
)

// Ciphersuite is the descriptor the handshake/ciphersuite registry
// supplies to a CipherState. Registry negotiation itself is out of
// scope for this package; this type only models what the record layer
// needs to read off a negotiated suite.
type Ciphersuite struct {
	Name string

	Cipher          CipherAlgorithm
	MAC             MACAlgorithm
	CipherKeyLen    int
	MACKeyLen       int
	CipherBlockSize int // 0 for AEAD suites

	Format NonceFormat

	// UsesEncryptThenMAC is not read by this package: Encrypt-then-MAC
	// is a per-connection negotiated extension, passed to
	// NewCBCCipherState as its etm argument. None of the suites in the
	// table below sets it.
	UsesEncryptThenMAC bool
}

// NonceBytesFromHandshake returns the portion of the 12-byte AEAD
// nonce that comes from the handshake-derived implicit nonce/salt.
func (c *Ciphersuite) NonceBytesFromHandshake(version ProtocolVersion) int {
	switch c.Format {
	case AEADXOR12:
		return 12
	case AEADImplicit4:
		return 4
	case CBCMode:
		return c.CipherBlockSize
	default:
		return 0
	}
}

// NonceBytesFromRecord returns the portion of the 12-byte AEAD nonce
// (for CBCMode, the whole IV) carried explicitly on the wire.
func (c *Ciphersuite) NonceBytesFromRecord(version ProtocolVersion) int {
	switch c.Format {
	case AEADXOR12:
		return 0
	case AEADImplicit4:
		return 8
	case CBCMode:
		return c.CipherBlockSize
	default:
		return 0
	}
}

// Concrete suites exercised by tests and available to callers; this is
// a small worked table, not a full registry (registries belong to the
// handshake layer), narrowed to TLS1.0-1.2 suites this package
// actually drives end to end.
var (
	TLS_AES_128_GCM = &Ciphersuite{
		Name: "TLS_RSA_WITH_AES_128_GCM_SHA256",

		Cipher:       CipherAES128GCM,
		MAC:          MACNone,
		CipherKeyLen: 16,
		Format:       AEADImplicit4,
	}
	TLS_AES_256_GCM = &Ciphersuite{
		Name: "TLS_RSA_WITH_AES_256_GCM_SHA384",

		Cipher:       CipherAES256GCM,
		MAC:          MACNone,
		CipherKeyLen: 32,
		Format:       AEADImplicit4,
	}
	TLS_CHACHA20_POLY1305 = &Ciphersuite{
		Name: "TLS_RSA_WITH_CHACHA20_POLY1305_SHA256",

		Cipher:       CipherChaCha20Poly1305,
		MAC:          MACNone,
		CipherKeyLen: 32,
		Format:       AEADXOR12,
	}
	TLS_AES_128_CBC_SHA = &Ciphersuite{
		Name: "TLS_RSA_WITH_AES_128_CBC_SHA",

		Cipher:          CipherAES128CBC,
		MAC:             MACSHA1,
		CipherKeyLen:    16,
		MACKeyLen:       20,
		CipherBlockSize: 16,
		Format:          CBCMode,
	}
	TLS_AES_256_CBC_SHA256 = &Ciphersuite{
		Name: "TLS_RSA_WITH_AES_256_CBC_SHA256",

		Cipher:          CipherAES256CBC,
		MAC:             MACSHA256,
		CipherKeyLen:    32,
		MACKeyLen:       32,
		CipherBlockSize: 16,
		Format:          CBCMode,
	}
)
