package records

import "sync/atomic"

// replayWindowSize is the width, in sequence numbers, of the DTLS
// sliding anti-replay window (RFC 6347 §4.1.2.6 describes a 64-entry
// bitmap; this package follows suit).
const replayWindowSize = 64

// epochWindow is the replay bitmap for one DTLS epoch. highest is the
// largest accepted wire sequence number seen in the epoch; bit i of
// window represents highest-i.
type epochWindow struct {
	highest uint64
	window  uint64
}

func (w *epochWindow) seen(seq uint64) bool {
	if seq > w.highest {
		return false
	}
	diff := w.highest - seq
	if diff >= replayWindowSize {
		return true
	}
	return w.window&(1<<diff) != 0
}

func (w *epochWindow) accept(seq uint64) {
	switch {
	case seq > w.highest:
		shift := seq - w.highest
		if shift >= replayWindowSize {
			w.window = 1
		} else {
			w.window = (w.window << shift) | 1
		}
		w.highest = seq
	case seq == w.highest:
		w.window |= 1
	default:
		diff := w.highest - seq
		if diff < replayWindowSize {
			w.window |= 1 << diff
		}
	}
}

// SequenceState tracks the read and write sequence counters, the
// epoch, and (for DTLS) the per-epoch anti-replay windows for one
// connection. It is the concrete implementation of the
// "sequence_numbers" collaborator the reader and writer borrow.
//
// The replay windows are kept per epoch rather than gated behind a
// single "current epoch": a record for an epoch below the highest one
// installed is still checked against *that epoch's own* window,
// never rejected merely for being old. This preserves RFC 6347
// §4.2.1's allowance for a retransmitted epoch-0 flight to arrive
// after epoch 1 has been installed.
//
// SequenceState is safe for concurrent use by one reader goroutine
// and one writer goroutine (the read and write halves of a
// connection never touch the same fields), matching the
// single-reader/single-writer model assumed throughout this package.
type SequenceState struct {
	datagram bool

	readEpoch  uint32
	writeEpoch uint32

	readSeq  uint64 // atomic: next expected TLS read sequence within readEpoch
	writeSeq uint64 // atomic: next write sequence within writeEpoch

	windows map[uint16]*epochWindow // DTLS only; read direction
}

// NewSequenceState constructs sequence tracking for one connection.
// datagram selects DTLS semantics (wire-carried epoch+sequence,
// per-epoch replay windows); false selects the plain TLS counter.
func NewSequenceState(datagram bool) *SequenceState {
	s := &SequenceState{datagram: datagram}
	if datagram {
		s.windows = make(map[uint16]*epochWindow)
	}
	return s
}

// NextWriteSequence returns the 64-bit wire sequence value to use for
// the next outgoing record (epoch<<48|seq for DTLS, plain seq for
// TLS) without committing it; call WriteAccept once the record has
// actually been emitted.
func (s *SequenceState) NextWriteSequence() (uint64, error) {
	seq := atomic.LoadUint64(&s.writeSeq)
	if seq >= 1<<48 {
		return 0, newInternalError("write sequence number exhausted, epoch change required")
	}
	if s.datagram {
		return uint64(atomic.LoadUint32(&s.writeEpoch))<<48 | seq, nil
	}
	return seq, nil
}

// WriteAccept commits the sequence number most recently handed out by
// NextWriteSequence, advancing the write counter.
func (s *SequenceState) WriteAccept() {
	atomic.AddUint64(&s.writeSeq, 1)
}

// NextReadSequence returns the sequence value the TLS read path
// should assume for the next record (TLS carries no sequence on the
// wire, so the reader must track it itself). DTLS readers ignore this
// and instead parse epoch+sequence directly off each datagram.
func (s *SequenceState) NextReadSequence() uint64 {
	seq := atomic.LoadUint64(&s.readSeq)
	if s.datagram {
		return uint64(atomic.LoadUint32(&s.readEpoch))<<48 | seq
	}
	return seq
}

// CurrentReadEpoch returns the current read epoch: the count of
// AdvanceReadEpoch calls, raised for DTLS by ReadAccept to the highest
// epoch a record has been accepted for. The TLS read path selects its
// cipher state by it; DTLS acceptance is never gated by it.
func (s *SequenceState) CurrentReadEpoch() uint16 { return uint16(atomic.LoadUint32(&s.readEpoch)) }

// CurrentWriteEpoch returns the epoch new outgoing records are
// stamped with.
func (s *SequenceState) CurrentWriteEpoch() uint16 { return uint16(atomic.LoadUint32(&s.writeEpoch)) }

// AdvanceReadEpoch moves the current read epoch forward and resets
// the TLS read counter. Existing DTLS replay windows for other epochs
// are left intact: a later record for a lower epoch is still checked
// against its own window, not rejected outright (see the
// SequenceState doc comment).
func (s *SequenceState) AdvanceReadEpoch() {
	atomic.AddUint32(&s.readEpoch, 1)
	atomic.StoreUint64(&s.readSeq, 0)
}

// AdvanceWriteEpoch moves the current write epoch forward and resets
// the write counter.
func (s *SequenceState) AdvanceWriteEpoch() {
	atomic.AddUint32(&s.writeEpoch, 1)
	atomic.StoreUint64(&s.writeSeq, 0)
}

// AlreadySeen reports whether a DTLS record carrying the given
// 64-bit (epoch<<48|seq) value falls outside its epoch's replay
// window or has already been accepted. TLS connections never call
// this; it panics if used on non-datagram state, which would
// indicate a caller bug rather than a condition to tolerate.
func (s *SequenceState) AlreadySeen(seq uint64) bool {
	if !s.datagram {
		panic("records: AlreadySeen called on non-datagram SequenceState")
	}
	epoch := uint16(seq >> 48)
	w := s.windows[epoch]
	if w == nil {
		return false
	}
	return w.seen(seq & ((1 << 48) - 1))
}

// ReadAccept records a successfully authenticated (or, at epoch 0,
// successfully parsed) record's sequence number. For DTLS, seq is the
// full 64-bit epoch<<48|wireSeq value and is folded into that epoch's
// replay window; for TLS it advances the plain read counter.
func (s *SequenceState) ReadAccept(seq uint64) {
	if !s.datagram {
		atomic.StoreUint64(&s.readSeq, seq+1)
		return
	}
	epoch := uint16(seq >> 48)
	wireSeq := seq & ((1 << 48) - 1)
	w := s.windows[epoch]
	if w == nil {
		w = &epochWindow{}
		s.windows[epoch] = w
	}
	w.accept(wireSeq)
	if uint32(epoch) > atomic.LoadUint32(&s.readEpoch) {
		atomic.StoreUint32(&s.readEpoch, uint32(epoch))
	}
}
