package records

import (
	"encoding/binary"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// CipherState binds one negotiated ciphersuite, one set of session
// keys, and one direction (our outgoing records or the peer's
// incoming ones) to a single live, already-keyed AEAD. It is created
// once per epoch when a handshake installs new keys and is immutable
// for the lifetime of that epoch; a connection simply holds on to the
// CipherState for whichever epochs it has not yet retired and looks
// one up per record via get_cipherstate(epoch) (see reader.go).
//
// The direction is bound in at construction time rather than taken as
// a parameter on every call: a CipherState never needs to ask "which
// side am I" mid-record.
type CipherState struct {
	version ProtocolVersion
	suite   *Ciphersuite
	ourSide bool

	aead AEAD

	nonceBytesFromRecord    int
	nonceBytesFromHandshake int
	implicitNonce           []byte

	// initialIV is the handshake-derived IV used for the very first
	// CBC_MODE record on TLS1.0 (RFC 2246's implicit first-record IV).
	// It is non-nil only for CBC_MODE. WriteNonce consumes it (sets it
	// to nil) after its single use and places it on the wire as the
	// first record's explicit IV; the read path does not use it, since
	// ReadNonce always takes the IV from the record itself.
	initialIV []byte
}

// NewCipherState constructs a CipherState for one direction of one
// epoch. side identifies which party's keys to read off sessionKeys;
// ourSide reports whether this state encrypts records we send (true)
// or decrypts records the peer sends (false). etm is not used here:
// CBC_MODE suites are rejected and must be built with
// NewCBCCipherState, which takes its own etm argument.
func NewCipherState(version ProtocolVersion, side Side, ourSide bool, suite *Ciphersuite, sessionKeys SessionKeys, etm bool) (*CipherState, error) {
	key := sessionKeys.AEADKey(side)
	if len(key) == 0 {
		return nil, newInternalError("session keys did not supply an AEAD key for the negotiated ciphersuite")
	}

	aead, err := newAEADForSuite(suite, key, ourSide)
	if err != nil {
		return nil, wrapInternalError("constructing AEAD for negotiated ciphersuite", err)
	}

	cs := &CipherState{
		version:                 version,
		suite:                   suite,
		ourSide:                 ourSide,
		aead:                    aead,
		nonceBytesFromRecord:    suite.NonceBytesFromRecord(version),
		nonceBytesFromHandshake: suite.NonceBytesFromHandshake(version),
		implicitNonce:           sessionKeys.Nonce(side),
	}

	if suite.Format == CBCMode {
		iv := sessionKeys.Nonce(side)
		if len(iv) != suite.CipherBlockSize {
			return nil, newInternalError("handshake-derived initial IV has the wrong length for the negotiated block size")
		}
		cs.initialIV = iv
	}

	log.WithFields(logger.Fields{
		"suite":   suite.Name,
		"side":    side,
		"ourSide": ourSide,
	}).Debug("cipher state installed for new epoch")
	return cs, nil
}

func newAEADForSuite(suite *Ciphersuite, key []byte, ourSide bool) (AEAD, error) {
	switch suite.Format {
	case AEADImplicit4, AEADXOR12:
	case CBCMode:
		return nil, oops.Errorf("records: CBC_MODE ciphersuites must be constructed via NewCBCCipherState")
	default:
		return nil, oops.Errorf("records: unknown nonce format %v", suite.Format)
	}
	switch suite.Cipher {
	case CipherAES128GCM, CipherAES256GCM:
		return NewGCM(key, ourSide)
	case CipherChaCha20Poly1305:
		return NewChaCha20Poly1305(key, ourSide)
	default:
		return nil, oops.Errorf("records: unsupported AEAD cipher algorithm %d", suite.Cipher)
	}
}

// NewCBCCipherState is the CBC_MODE counterpart of NewCipherState.
// CBC_MODE needs a separate MAC key alongside the bulk cipher key,
// which the minimal SessionKeys interface (one key, one nonce, per
// side) has no slot for; callers negotiating a CBC_MODE suite supply
// both explicitly here instead of trying to force them through
// SessionKeys.
func NewCBCCipherState(version ProtocolVersion, side Side, ourSide bool, suite *Ciphersuite, cipherKey, macKey, initialIV []byte, etm bool) (*CipherState, error) {
	if suite.Format != CBCMode {
		return nil, oops.Errorf("records: NewCBCCipherState requires a CBC_MODE ciphersuite")
	}
	if len(initialIV) != suite.CipherBlockSize {
		return nil, newInternalError("handshake-derived initial IV has the wrong length for the negotiated block size")
	}

	aead, err := NewCBCHMAC(suite.Cipher, suite.MAC, cipherKey, macKey, ourSide, etm)
	if err != nil {
		return nil, wrapInternalError("constructing CBC+HMAC AEAD for negotiated ciphersuite", err)
	}

	cs := &CipherState{
		version:                 version,
		suite:                   suite,
		ourSide:                 ourSide,
		aead:                    aead,
		nonceBytesFromRecord:    suite.NonceBytesFromRecord(version),
		nonceBytesFromHandshake: suite.NonceBytesFromHandshake(version),
		initialIV:               initialIV,
	}
	log.WithFields(logger.Fields{
		"suite":   suite.Name,
		"side":    side,
		"ourSide": ourSide,
		"etm":     etm,
	}).Debug("CBC cipher state installed for new epoch")
	return cs, nil
}

// NonceBytesFromRecord returns how many explicit nonce bytes the
// writer must place on the wire (and the reader must consume) for
// this cipher state's suite.
func (cs *CipherState) NonceBytesFromRecord() int { return cs.nonceBytesFromRecord }

// AEAD exposes the live keyed primitive, for the writer/reader to
// drive directly (set_ad/start/finish).
func (cs *CipherState) AEAD() AEAD { return cs.aead }

// WriteNonce produces the 12-byte (or, for CBC_MODE, block-size)
// nonce for writing record seq, and the explicit nonce bytes (if any)
// that must be placed on the wire alongside it. For CBC_MODE the
// first call consumes the handshake-derived initial IV; every
// subsequent call draws nonceBytesFromRecord fresh bytes from rng,
// supplied by the caller on each write (see writer.go) rather than
// stashed on the CipherState.
func (cs *CipherState) WriteNonce(seq uint64, rng RandomSource) (nonce, explicit []byte, err error) {
	switch cs.suite.Format {
	case AEADXOR12:
		nonce = xorNonce(cs.implicitNonce, seq)
		return nonce, nil, nil

	case AEADImplicit4:
		nonce = make([]byte, 12)
		copy(nonce, cs.implicitNonce)
		binary.BigEndian.PutUint64(nonce[4:], seq)
		return nonce, nonce[4:], nil

	case CBCMode:
		if cs.initialIV != nil {
			nonce = cs.initialIV
			cs.initialIV = nil
			return nonce, nonce, nil
		}
		if rng == nil {
			return nil, nil, newInternalError("CBC_MODE write requires a random source for the explicit IV")
		}
		nonce = make([]byte, cs.nonceBytesFromRecord)
		if _, err := rng.Read(nonce); err != nil {
			return nil, nil, oops.Errorf("records: reading random IV: %w", err)
		}
		return nonce, nonce, nil

	default:
		return nil, nil, oops.Errorf("records: unknown nonce format %v", cs.suite.Format)
	}
}

// ReadNonce produces the nonce for reading a record whose on-wire
// contents begin at recordBytes and whose total length is recordLen,
// for sequence number seq (already parsed by the caller: for TLS from
// SequenceNumbers, for DTLS from the record header).
func (cs *CipherState) ReadNonce(recordBytes []byte, recordLen int, seq uint64) ([]byte, error) {
	switch cs.suite.Format {
	case AEADXOR12:
		return xorNonce(cs.implicitNonce, seq), nil

	case AEADImplicit4:
		if recordLen < 8 {
			return nil, newAlertError(AlertBadRecordMAC, "record too short to contain an explicit AEAD_IMPLICIT_4 nonce")
		}
		nonce := make([]byte, 12)
		copy(nonce, cs.implicitNonce)
		copy(nonce[4:], recordBytes[:8])
		return nonce, nil

	case CBCMode:
		if recordLen < cs.nonceBytesFromRecord {
			return nil, newAlertError(AlertBadRecordMAC, "record too short to contain the CBC explicit IV")
		}
		nonce := make([]byte, cs.nonceBytesFromRecord)
		copy(nonce, recordBytes[:cs.nonceBytesFromRecord])
		return nonce, nil

	default:
		return nil, oops.Errorf("records: unknown nonce format %v", cs.suite.Format)
	}
}

// xorNonce XORs an 8-byte big-endian sequence number into bytes 4..12
// of a copy of implicit (the AEAD_XOR_12 construction, RFC 7905 §2).
func xorNonce(implicit []byte, seq uint64) []byte {
	nonce := make([]byte, 12)
	copy(nonce, implicit)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	for i, b := range seqBytes {
		nonce[4+i] ^= b
	}
	return nonce
}

// formatAD builds the 13-byte additional authenticated data covering
// a record: seq(8) || type(1) || version_major(1) || version_minor(1)
// || plaintext_len_be(2). The same layout covers both AEAD suites and
// the CBC+HMAC adapter's MAC input.
func formatAD(seq uint64, typ ContentType, version ProtocolVersion, plaintextLen int) []byte {
	ad := make([]byte, aadSize)
	binary.BigEndian.PutUint64(ad[0:8], seq)
	ad[8] = byte(typ)
	ad[9] = version.Major()
	ad[10] = version.Minor()
	binary.BigEndian.PutUint16(ad[11:13], uint16(plaintextLen))
	return ad
}
