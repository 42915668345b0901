package records

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/samber/oops"
)

// Input is the raw bytes a caller has already pulled off the
// transport and is feeding to the reader; Consumed is a cursor into
// Data advanced by fillTo as bytes are claimed. Transport I/O itself
// is out of scope for this package — Input only describes what the
// reader is handed, not how it got there.
type Input struct {
	Data       []byte
	Consumed   int
	IsDatagram bool
}

// fillTo moves bytes from in into readbuf until readbuf holds at
// least desired bytes or in is exhausted. It returns the remaining
// deficit: 0 once readbuf has enough, otherwise how many more bytes
// the caller still needs to supply before calling again. This is the
// reader's only state besides readbuf itself, which is what makes the
// parser resumable without any coroutine or task runtime: a "deficit"
// return value stands in for suspension.
func fillTo(readbuf *[]byte, in *Input, desired int) int {
	if len(*readbuf) >= desired {
		return 0
	}
	need := desired - len(*readbuf)
	avail := len(in.Data) - in.Consumed
	take := need
	if take > avail {
		take = avail
	}
	if take > 0 {
		*readbuf = append(*readbuf, in.Data[in.Consumed:in.Consumed+take]...)
		in.Consumed += take
	}
	return desired - len(*readbuf)
}

// CipherStateLookup borrows the live CipherState for a given epoch.
// The reader does not own cipher states; a handshake layer installs
// and retires them independently of any reader in flight. It must
// return ok=false only for an epoch that has genuinely never been
// installed — a missing cipher state for an epoch the peer has
// clearly moved to is an internal consistency failure, not a normal
// miss.
type CipherStateLookup func(epoch uint16) (cs *CipherState, ok bool)

// ReadRecordTLS attempts to parse one TLS record out of readbuf plus
// whatever new bytes in supplies, consuming from in.Consumed forward.
// It returns a positive deficit when more bytes are required (the
// caller should supply them in a subsequent Input and call again with
// the same readbuf) or 0 once rec has been populated. seqNums
// supplies the sequence number and the epoch the reader couldn't
// otherwise observe (TLS carries no epoch or sequence on the wire);
// a nil seqNums (a server reading its first flight, before any
// handshake state exists) is treated as sequence 0 at epoch 0.
//
// TLS is fatal on malformed input: an error returned here must be
// propagated as the named alert and the connection closed. Contrast
// with ReadRecordDTLS, which swallows equivalent conditions.
func ReadRecordTLS(rec *Record, readbuf *[]byte, in *Input, seqNums *SequenceState, getCipherState CipherStateLookup) (int, error) {
	if deficit := fillTo(readbuf, in, TLSHeaderSize); deficit > 0 {
		return deficit, nil
	}
	buf := *readbuf

	version := ProtocolVersion(buf[1])<<8 | ProtocolVersion(buf[2])
	if version.IsDatagram() {
		return 0, newAlertError(AlertProtocolVersion, "DTLS-shaped record received on a TLS transport")
	}

	recordSize := int(buf[3])<<8 | int(buf[4])
	if recordSize > MaxCiphertextSize {
		return 0, newAlertError(AlertRecordOverflow, "declared record length exceeds the maximum ciphertext size")
	}
	if recordSize == 0 {
		return 0, newAlertError(AlertDecodeError, "zero-length record")
	}

	if deficit := fillTo(readbuf, in, TLSHeaderSize+recordSize); deficit > 0 {
		return deficit, nil
	}
	buf = *readbuf

	typ := ContentType(buf[0])
	// A server reading its very first flight has no sequence state yet;
	// both the sequence and the epoch are zero until the handshake
	// installs one.
	var seq uint64
	var epoch uint16
	if seqNums != nil {
		seq = seqNums.NextReadSequence()
		epoch = seqNums.CurrentReadEpoch()
	}
	payload := buf[TLSHeaderSize : TLSHeaderSize+recordSize]

	if epoch == 0 {
		rec.Type = typ
		rec.Version = version
		rec.Sequence = seq
		rec.Data = append(rec.Data[:0], payload...)
		*readbuf = (*readbuf)[:0]
		return 0, nil
	}

	cs, ok := getCipherState(epoch)
	if !ok {
		return 0, newInternalError("no cipher state installed for the current read epoch")
	}
	plaintext, err := decryptRecord(typ, payload, version, seq, cs)
	if err != nil {
		return 0, err
	}

	rec.Type = typ
	rec.Version = version
	rec.Sequence = seq
	rec.Data = append(rec.Data[:0], plaintext...)
	if seqNums != nil {
		seqNums.ReadAccept(seq)
	}
	*readbuf = (*readbuf)[:0]
	return 0, nil
}

// ReadRecordDTLS is the datagram counterpart of ReadRecordTLS. DTLS is
// tolerant: nearly every malformed, replayed, or truncated datagram is
// dropped silently (rec.Type is set to NoRecord and readbuf cleared)
// rather than treated as fatal, since corruption and reordering are
// routine on an unreliable transport. The one exception is an
// *InternalError — a condition the caller must treat as unrecoverable
// regardless of transport — which propagates rather than being
// swallowed.
func ReadRecordDTLS(rec *Record, readbuf *[]byte, in *Input, seqNums *SequenceState, getCipherState CipherStateLookup) (int, error) {
	deficit, err := readRecordDTLS(rec, readbuf, in, seqNums, getCipherState)
	if err == nil || deficit > 0 {
		return deficit, err
	}
	var internal *InternalError
	if errors.As(err, &internal) {
		return 0, err
	}
	log.WithField("reason", err.Error()).Debug("dropping malformed or replayed DTLS datagram")
	rec.Type = NoRecord
	rec.Data = rec.Data[:0]
	*readbuf = (*readbuf)[:0]
	return 0, nil
}

// readRecordDTLS assumes in holds exactly one datagram's worth of
// bytes (a caller reading off a packet transport hands over a whole
// UDP payload per call, never a partial one followed later by the
// rest). So unlike the TLS path, a fillTo deficit here never means
// "wait for the next read" — there is no next read for this datagram
// — it means the datagram itself was truncated, which is just another
// reason to drop it silently.
func readRecordDTLS(rec *Record, readbuf *[]byte, in *Input, seqNums *SequenceState, getCipherState CipherStateLookup) (int, error) {
	if deficit := fillTo(readbuf, in, DTLSHeaderSize); deficit > 0 {
		return 0, oops.Errorf("records: truncated DTLS datagram (short header)")
	}
	buf := *readbuf

	version := ProtocolVersion(buf[1])<<8 | ProtocolVersion(buf[2])
	if !version.IsDatagram() {
		return 0, oops.Errorf("records: non-datagram version on DTLS transport")
	}

	recordSize := int(buf[11])<<8 | int(buf[12])
	if recordSize > MaxCiphertextSize {
		return 0, oops.Errorf("records: declared DTLS record length exceeds the maximum ciphertext size")
	}

	if deficit := fillTo(readbuf, in, DTLSHeaderSize+recordSize); deficit > 0 {
		return 0, oops.Errorf("records: truncated DTLS datagram (short payload)")
	}
	buf = *readbuf

	seq := binary.BigEndian.Uint64(buf[3:11]) // wire field is epoch(2) || seq48(6)
	epoch := uint16(seq >> 48)

	if seqNums != nil && seqNums.AlreadySeen(seq) {
		return 0, oops.Errorf("records: replayed or already-seen DTLS sequence number")
	}

	typ := ContentType(buf[0])
	payload := buf[DTLSHeaderSize : DTLSHeaderSize+recordSize]

	if epoch == 0 {
		rec.Type = typ
		rec.Version = version
		rec.Sequence = seq
		rec.Data = append(rec.Data[:0], payload...)
		if seqNums != nil {
			seqNums.ReadAccept(seq)
		}
		*readbuf = (*readbuf)[:0]
		return 0, nil
	}

	cs, ok := getCipherState(epoch)
	if !ok {
		return 0, newInternalError("no cipher state installed for a DTLS epoch the peer has moved to")
	}
	plaintext, err := decryptRecord(typ, payload, version, seq, cs)
	if err != nil {
		return 0, err
	}

	rec.Type = typ
	rec.Version = version
	rec.Sequence = seq
	rec.Data = append(rec.Data[:0], plaintext...)
	if seqNums != nil {
		seqNums.ReadAccept(seq)
	}
	*readbuf = (*readbuf)[:0]
	return 0, nil
}

// decryptRecord recovers the nonce, applies the minimum-size check
// with the same alert a genuine MAC failure would raise (so a
// too-short ciphertext and a bad MAC are indistinguishable to a
// padding-oracle scanner), and drives the AEAD.
func decryptRecord(typ ContentType, payload []byte, version ProtocolVersion, seq uint64, cs *CipherState) ([]byte, error) {
	nonce, err := cs.ReadNonce(payload, len(payload), seq)
	if err != nil {
		return nil, err
	}

	nonceBytesFromRecord := cs.NonceBytesFromRecord()
	if len(payload) < nonceBytesFromRecord {
		return nil, newAlertError(AlertBadRecordMAC, "record shorter than its explicit nonce")
	}
	msg := payload[nonceBytesFromRecord:]

	aead := cs.AEAD()
	if len(msg) < aead.MinimumFinalSize() {
		return nil, newAlertError(AlertBadRecordMAC, "ciphertext shorter than the minimum tag size")
	}

	ptextSize := aead.OutputLength(len(msg))
	aead.SetAD(formatAD(seq, typ, version, ptextSize))
	if err := aead.Start(nonce); err != nil {
		return nil, err
	}

	buf := append([]byte(nil), msg...)
	out, err := aead.Finish(buf, 0)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reader streams records off src, handing decoded plaintext to
// callers through the standard io.Reader contract. It owns the
// resumable readbuf and pulls exactly as many bytes from src as
// fillTo reports are missing; DTLS drops are transparent to callers —
// Reader simply moves on to the next datagram.
type Reader struct {
	src      io.Reader
	version  ProtocolVersion
	datagram bool
	seq      *SequenceState
	getCS    CipherStateLookup

	readbuf []byte
	rec     Record
	unread  []byte
}

// NewReader builds a Reader pulling framed records from src.
func NewReader(src io.Reader, version ProtocolVersion, seq *SequenceState, getCS CipherStateLookup) *Reader {
	return &Reader{src: src, version: version, datagram: version.IsDatagram(), seq: seq, getCS: getCS}
}

func (r *Reader) Read(p []byte) (int, error) {
	n := copy(p, r.unread)
	r.unread = r.unread[n:]
	p = p[n:]
	for len(p) > 0 {
		if err := r.fillRecord(); err != nil {
			return n, err
		}
		if r.rec.Type == NoRecord {
			continue
		}
		m := copy(p, r.rec.Data)
		r.unread = r.rec.Data[m:]
		p = p[m:]
		n += m
	}
	return n, nil
}

func (r *Reader) fillRecord() error {
	if r.datagram {
		// One src.Read per datagram: the DTLS parser never asks for
		// more bytes (a truncated datagram is a drop, not a deficit),
		// so the whole payload must arrive in a single feed.
		buf := make([]byte, DTLSHeaderSize+MaxCiphertextSize)
		n, err := r.src.Read(buf)
		if err != nil {
			return err
		}
		in := &Input{Data: buf[:n], IsDatagram: true}
		_, err = ReadRecordDTLS(&r.rec, &r.readbuf, in, r.seq, r.getCS)
		return err
	}

	in := &Input{}
	for {
		deficit, err := ReadRecordTLS(&r.rec, &r.readbuf, in, r.seq, r.getCS)
		if err != nil {
			return err
		}
		if deficit == 0 {
			return nil
		}
		chunk := make([]byte, deficit)
		if _, err := io.ReadFull(r.src, chunk); err != nil {
			return err
		}
		in = &Input{Data: chunk}
	}
}
