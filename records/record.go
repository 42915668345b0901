package records

import (
	"fmt"
)

// ProtocolVersion is the wire (major, minor) pair identifying a TLS or
// DTLS version. DTLS versions carry major version 254; see IsDatagram.
type ProtocolVersion uint16

// Well-known protocol versions. SSL30 is recognized on the wire but
// never negotiated by this record layer.
const (
	TLSXX ProtocolVersion = 0x0000 // unspecified protocol version
	SSL30 ProtocolVersion = 0x0300
	TLS10 ProtocolVersion = 0x0301
	TLS11 ProtocolVersion = 0x0302
	TLS12 ProtocolVersion = 0x0303

	DTLS10 ProtocolVersion = 0xfeff
	DTLS12 ProtocolVersion = 0xfefd
)

// Major returns the wire major version byte.
func (v ProtocolVersion) Major() byte { return byte(v >> 8) }

// Minor returns the wire minor version byte.
func (v ProtocolVersion) Minor() byte { return byte(v) }

// IsDatagram reports whether v identifies a DTLS version (major == 254).
func (v ProtocolVersion) IsDatagram() bool { return v.Major() == 254 }

func (v ProtocolVersion) String() string {
	switch v {
	case SSL30:
		return "SSL3.0"
	case TLS10:
		return "TLS1.0"
	case TLS11:
		return "TLS1.1"
	case TLS12:
		return "TLS1.2"
	case DTLS10:
		return "DTLS1.0"
	case DTLS12:
		return "DTLS1.2"
	default:
		return fmt.Sprintf("0x%04x", uint16(v))
	}
}

// ContentType identifies the payload carried by a record.
type ContentType uint8

const (
	ChangeCipherSpec ContentType = 20
	Alert            ContentType = 21
	Handshake        ContentType = 22
	ApplicationData  ContentType = 23
	Heartbeat        ContentType = 24

	// NoRecord is an internal sentinel: the DTLS reader sets rec.Type
	// to NoRecord whenever an incoming datagram is silently dropped.
	NoRecord ContentType = 0
)

func (t ContentType) String() string {
	switch t {
	case ChangeCipherSpec:
		return "change_cipher_spec"
	case Alert:
		return "alert"
	case Handshake:
		return "handshake"
	case ApplicationData:
		return "application_data"
	case Heartbeat:
		return "heartbeat"
	case NoRecord:
		return "no_record"
	default:
		return fmt.Sprintf("content_type(%d)", uint8(t))
	}
}

// Size limits from the TLS/DTLS record layer RFCs.
const (
	TLSHeaderSize  = 5  // type(1) || version(2) || length(2)
	DTLSHeaderSize = 13 // type(1) || version(2) || epoch+seq(8) || length(2)

	MaxPlaintextSize  = 1 << 14          // 16384
	MaxCiphertextSize = (1 << 14) + 2048 // 18432

	// aadSize is the size of the additional authenticated data passed
	// to the AEAD: seq(8) || type(1) || version_major(1) || version_minor(1) || len(2).
	aadSize = 13
)

// Record is a single, fully-decoded record: the content type, the
// protocol version and sequence it was framed with, and its plaintext
// payload. Its lifetime is a single read or write.
type Record struct {
	Type     ContentType
	Version  ProtocolVersion
	Sequence uint64
	Data     []byte
}

// InternalError marks an unrecoverable failure that must terminate the
// connection even on the otherwise-tolerant DTLS read path: a disabled
// ciphersuite, a missing cipher state for a declared epoch, or
// sequence number exhaustion. It is distinct from AlertError (see
// errors.go) precisely so the DTLS reader can tell the two apart and
// never swallow this one into a silent drop.
type InternalError struct {
	msg string
	err error
}

func newInternalError(msg string) error { return &InternalError{msg: msg} }

func wrapInternalError(msg string, err error) error {
	return &InternalError{msg: msg, err: err}
}

func (e *InternalError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("records: internal error: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("records: internal error: %s", e.msg)
}

func (e *InternalError) Unwrap() error { return e.err }
