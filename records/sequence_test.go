package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceState_TLSWriteAndRead(t *testing.T) {
	s := NewSequenceState(false)
	for i := uint64(0); i < 5; i++ {
		seq, err := s.NextWriteSequence()
		assert.Nil(t, err)
		assert.Equal(t, i, seq)
		s.WriteAccept()
	}

	assert.Equal(t, uint64(0), s.NextReadSequence())
	s.ReadAccept(0)
	assert.Equal(t, uint64(1), s.NextReadSequence())
}

func TestSequenceState_DTLSFoldsEpochIntoWriteSequence(t *testing.T) {
	s := NewSequenceState(true)
	seq, err := s.NextWriteSequence()
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), seq)

	s.AdvanceWriteEpoch()
	seq, err = s.NextWriteSequence()
	assert.Nil(t, err)
	assert.Equal(t, uint64(1)<<48, seq)
}

func TestSequenceState_ReplayWindow_ExactDuplicate(t *testing.T) {
	s := NewSequenceState(true)
	assert.False(t, s.AlreadySeen(5))
	s.ReadAccept(5)
	assert.True(t, s.AlreadySeen(5))
}

func TestSequenceState_ReplayWindow_WithinWindowUnsetBit(t *testing.T) {
	s := NewSequenceState(true)
	s.ReadAccept(100)
	assert.False(t, s.AlreadySeen(99))
	s.ReadAccept(99)
	assert.True(t, s.AlreadySeen(99))
}

func TestSequenceState_ReplayWindow_BelowWindowIsReplay(t *testing.T) {
	s := NewSequenceState(true)
	s.ReadAccept(100)
	assert.True(t, s.AlreadySeen(100-64))
	assert.True(t, s.AlreadySeen(0))
}

func TestSequenceState_ReplayWindow_AheadSlides(t *testing.T) {
	s := NewSequenceState(true)
	s.ReadAccept(10)
	s.ReadAccept(200)
	assert.True(t, s.AlreadySeen(200))
	// 10 now falls far outside the slid window.
	assert.True(t, s.AlreadySeen(10))
	assert.False(t, s.AlreadySeen(199))
}

func TestSequenceState_ReplayWindow_PerEpoch(t *testing.T) {
	s := NewSequenceState(true)
	s.ReadAccept(1<<48 | 5) // epoch 1, seq 5
	// Epoch 0's window is untouched by epoch 1 activity: a
	// retransmitted epoch-0 record can still arrive and be accepted
	// (RFC 6347 §4.2.1).
	assert.False(t, s.AlreadySeen(5))
}

func TestSequenceState_AlreadySeenPanicsOnTLS(t *testing.T) {
	s := NewSequenceState(false)
	assert.Panics(t, func() { s.AlreadySeen(0) })
}
