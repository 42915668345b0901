package records

import (
	"encoding/binary"
	"io"

	"github.com/samber/oops"
)

// WriteRecord serializes one record (type, data, version, sequence)
// onto the end of dst, protecting it with cs if non-nil, and returns
// the extended slice. A nil cs writes the record in the clear, which
// is only legal at epoch 0 (the handshake's unprotected ChangeCipherSpec
// and the messages preceding it).
//
// rng supplies the randomness a CBC_MODE cipher state needs for its
// per-record explicit IV; AEAD suites and the unencrypted path ignore
// it, so callers writing only AEAD traffic may pass nil.
func WriteRecord(dst []byte, typ ContentType, data []byte, version ProtocolVersion, seq uint64, cs *CipherState, rng RandomSource) ([]byte, error) {
	if len(data) > 0xFFFF {
		return nil, oops.Errorf("records: record data length %d does not fit in a uint16", len(data))
	}

	start := len(dst)
	dst = append(dst, byte(typ), version.Major(), version.Minor())
	if version.IsDatagram() {
		var seqBytes [8]byte
		binary.BigEndian.PutUint64(seqBytes[:], seq)
		dst = append(dst, seqBytes[:]...)
	}
	lengthOffset := len(dst)
	dst = append(dst, 0, 0) // placeholder, filled in once the true size is known

	var err error
	if cs == nil {
		dst = append(dst, data...)
	} else {
		dst, err = writeProtected(dst, lengthOffset, typ, data, version, seq, cs, rng)
		if err != nil {
			return nil, err
		}
	}

	binary.BigEndian.PutUint16(dst[lengthOffset:lengthOffset+2], uint16(len(dst)-lengthOffset-2))

	if len(dst)-start > MaxCiphertextSize {
		return nil, newAlertError(AlertRecordOverflow, "record exceeds maximum ciphertext size")
	}
	return dst, nil
}

func writeProtected(dst []byte, lengthOffset int, typ ContentType, data []byte, version ProtocolVersion, seq uint64, cs *CipherState, rng RandomSource) ([]byte, error) {
	aead := cs.AEAD()
	nonce, explicit, err := cs.WriteNonce(seq, rng)
	if err != nil {
		return nil, err
	}

	dst = append(dst, explicit...)
	payloadStart := len(dst)
	dst = append(dst, data...)

	aead.SetAD(formatAD(seq, typ, version, len(data)))
	if err := aead.Start(nonce); err != nil {
		return nil, err
	}
	dst, err = aead.Finish(dst, payloadStart)
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// Writer streams application or handshake data out as a sequence of
// records, flushing a new record whenever the caller's write would
// overflow the current one or Flush is called explicitly. Framing
// state (sequence numbers, cipher state per epoch) is supplied by the
// caller rather than owned here, since the handshake layer installs
// new epochs independently of anything the Writer knows about.
type Writer struct {
	dst     io.Writer
	version ProtocolVersion
	typ     ContentType
	seq     *SequenceState
	cs      *CipherState // nil at epoch 0
	rng     RandomSource

	buf     []byte
	pending []byte
}

// NewWriter builds a Writer over dst. buf, if non-nil, is reused as
// scratch space for one record at a time (len(buf) should be at least
// MaxPlaintextSize to avoid mid-write fragmentation, but any size
// works — the Writer simply flushes more often with a small buffer).
func NewWriter(dst io.Writer, version ProtocolVersion, seq *SequenceState, buf []byte) *Writer {
	if buf == nil {
		buf = make([]byte, MaxPlaintextSize)
	}
	return &Writer{dst: dst, version: version, typ: ApplicationData, seq: seq, buf: buf, pending: buf[:0]}
}

// SetContentType changes the record type used for subsequent writes,
// flushing any buffered content under the previous type first.
func (w *Writer) SetContentType(t ContentType) error {
	if w.typ == t {
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}
	w.typ = t
	return nil
}

// SetCipherState installs the CipherState (and, for CBC_MODE suites, a
// random source) for subsequent writes, flushing any content buffered
// under the previous epoch first. Pass nil to drop back to
// unencrypted writes (only legal before any epoch has been installed).
func (w *Writer) SetCipherState(cs *CipherState, rng RandomSource) error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.cs = cs
	w.rng = rng
	return nil
}

// Write buffers b, flushing complete records to the underlying writer
// as the buffer fills.
func (w *Writer) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		room := cap(w.pending) - len(w.pending)
		n := copy(w.pending[len(w.pending):cap(w.pending)], b[:min(len(b), room)])
		w.pending = w.pending[:len(w.pending)+n]
		b = b[n:]
		written += n
		if len(b) > 0 {
			if err := w.Flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush emits any buffered content as a single record.
func (w *Writer) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	seq, err := w.seq.NextWriteSequence()
	if err != nil {
		return err
	}
	record, err := WriteRecord(nil, w.typ, w.pending, w.version, seq, w.cs, w.rng)
	if err != nil {
		return err
	}
	if _, err := w.dst.Write(record); err != nil {
		return err
	}
	w.seq.WriteAccept()
	w.pending = w.buf[:0]
	return nil
}
