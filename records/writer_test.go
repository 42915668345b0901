package records

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteRecord_Unencrypted(t *testing.T) {
	out, err := WriteRecord(nil, Handshake, h2b("facade"), TLS11, 0, nil, nil)
	assert.Nil(t, err)
	assertEqualBytes(t, h2b("1603020003facade"), out)
}

func TestWriteRecord_DataTooLargeForUint16(t *testing.T) {
	data := make([]byte, 0x10000)
	_, err := WriteRecord(nil, ApplicationData, data, TLS12, 0, nil, nil)
	assert.NotNil(t, err)
}

// TestWriteRecord_AESGCMExample pins the deterministic wire layout:
// TLS 1.2, AES-128-GCM (AEAD_IMPLICIT_4), implicit nonce 01 02 03 04,
// seq 0, type 23 (application_data), data "hello". The deterministic
// part of the wire format — header, length, and explicit nonce — must
// match exactly; the ciphertext bytes themselves depend on the key
// and are only checked indirectly, via round trip, elsewhere in this
// file.
func TestWriteRecord_AESGCMExample(t *testing.T) {
	keys := &StaticSessionKeys{
		ClientKey:   bytes.Repeat([]byte{0x11}, 16),
		ClientNonce: h2b("01020304"),
	}
	cs, err := NewCipherState(TLS12, ClientSide, true, TLS_AES_128_GCM, keys, false)
	assert.Nil(t, err)

	out, err := WriteRecord(nil, ApplicationData, []byte("hello"), TLS12, 0, cs, nil)
	assert.Nil(t, err)

	// type || version || length || explicit nonce (big-endian seq)
	assertEqualBytes(t, h2b("170303001d0000000000000000"), out[:13])
	// length(5+16 tag + 8 explicit nonce) = 29 = 0x1d
	assert.Equal(t, 13+5+16, len(out))
}

func TestWriteRecord_ChaCha20Example(t *testing.T) {
	keys := &StaticSessionKeys{
		ClientKey:   bytes.Repeat([]byte{0x22}, 32),
		ClientNonce: bytes.Repeat([]byte{0x00}, 12),
	}
	cs, err := NewCipherState(TLS12, ClientSide, true, TLS_CHACHA20_POLY1305, keys, false)
	assert.Nil(t, err)

	out, err := WriteRecord(nil, ApplicationData, []byte("hello"), TLS12, 42, cs, nil)
	assert.Nil(t, err)

	// No explicit nonce bytes on the wire for AEAD_XOR_12.
	assertEqualBytes(t, h2b("1703030015"), out[:5])
	assert.Equal(t, 5+5+16, len(out))
}

// TestWriteRecord_RoundTrip exercises the universal round-trip
// property for every concrete suite the ciphersuite table carries.
func TestWriteRecord_RoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		suite *Ciphersuite
		keys  *StaticSessionKeys
	}{
		{"AES128GCM", TLS_AES_128_GCM, &StaticSessionKeys{
			ClientKey: bytes.Repeat([]byte{1}, 16), ClientNonce: h2b("01020304"),
		}},
		{"AES256GCM", TLS_AES_256_GCM, &StaticSessionKeys{
			ClientKey: bytes.Repeat([]byte{2}, 32), ClientNonce: h2b("0a0b0c0d"),
		}},
		{"ChaCha20Poly1305", TLS_CHACHA20_POLY1305, &StaticSessionKeys{
			ClientKey: bytes.Repeat([]byte{3}, 32), ClientNonce: bytes.Repeat([]byte{9}, 12),
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			writeCS, err := NewCipherState(TLS12, ClientSide, true, c.suite, c.keys, false)
			assert.Nil(t, err)
			readCS, err := NewCipherState(TLS12, ClientSide, false, c.suite, c.keys, false)
			assert.Nil(t, err)

			for seq := uint64(0); seq < 5; seq++ {
				data := []byte("the quick brown fox jumps over the lazy dog")
				out, err := WriteRecord(nil, ApplicationData, data, TLS12, seq, writeCS, nil)
				assert.Nil(t, err)

				var rec Record
				readbuf := append([]byte(nil), out...)
				seqNums := NewSequenceState(false)
				seqNums.AdvanceReadEpoch()
				for i := uint64(0); i < seq; i++ {
					seqNums.ReadAccept(i)
				}
				deficit, err := ReadRecordTLS(&rec, &readbuf, &Input{}, seqNums, func(uint16) (*CipherState, bool) { return readCS, true })
				assert.Nil(t, err)
				assert.Equal(t, 0, deficit)
				assertEqualBytes(t, data, rec.Data)
				assert.Equal(t, ApplicationData, rec.Type)
				assert.Equal(t, seq, rec.Sequence)
			}
		})
	}
}

func TestWriteRecord_CBCRoundTrip(t *testing.T) {
	cipherKey := bytes.Repeat([]byte{4}, 16)
	macKey := bytes.Repeat([]byte{5}, 20)
	initialIV := bytes.Repeat([]byte{6}, 16)

	writeCS, err := NewCBCCipherState(TLS12, ClientSide, true, TLS_AES_128_CBC_SHA, cipherKey, macKey, initialIV, false)
	assert.Nil(t, err)
	readCS, err := NewCBCCipherState(TLS12, ClientSide, false, TLS_AES_128_CBC_SHA, cipherKey, macKey, initialIV, false)
	assert.Nil(t, err)

	rng := bytes.NewReader(bytes.Repeat([]byte{7}, 16*8))
	data := []byte("hello, CBC world")

	out, err := WriteRecord(nil, ApplicationData, data, TLS12, 0, writeCS, rng)
	assert.Nil(t, err)

	var rec Record
	readbuf := append([]byte(nil), out...)
	seqNums := NewSequenceState(false)
	seqNums.AdvanceReadEpoch()
	deficit, err := ReadRecordTLS(&rec, &readbuf, &Input{}, seqNums, func(uint16) (*CipherState, bool) { return readCS, true })
	assert.Nil(t, err)
	assert.Equal(t, 0, deficit)
	assertEqualBytes(t, data, rec.Data)
}

func TestWriteRecord_RecordOverflow(t *testing.T) {
	keys := &StaticSessionKeys{ClientKey: bytes.Repeat([]byte{1}, 32), ClientNonce: bytes.Repeat([]byte{1}, 12)}
	cs, err := NewCipherState(TLS12, ClientSide, true, TLS_CHACHA20_POLY1305, keys, false)
	assert.Nil(t, err)
	data := make([]byte, MaxCiphertextSize) // larger than any legal plaintext once AEAD overhead is added
	_, err = WriteRecord(nil, ApplicationData, data, TLS12, 0, cs, nil)
	assert.True(t, IsAlert(err, AlertRecordOverflow))
}

func TestWriter_BasicStreaming(t *testing.T) {
	b := bytes.NewBuffer(nil)
	seq := NewSequenceState(false)
	w := NewWriter(b, TLS11, seq, nil)
	w.SetContentType(Alert)
	n, err := w.Write(h2b("facadebeefdead"))
	assert.Nil(t, err)
	assert.Equal(t, 7, n)
	assert.Nil(t, w.Flush())
	assertEqualBytes(t, h2b("1503020007facadebeefdead"), b.Bytes())
}

func TestWriter_DTLSHeaderCarriesSequence(t *testing.T) {
	b := bytes.NewBuffer(nil)
	seq := NewSequenceState(true)
	w := NewWriter(b, DTLS12, seq, nil)
	assert.Nil(t, w.SetContentType(Handshake))
	_, err := w.Write([]byte("hi"))
	assert.Nil(t, err)
	assert.Nil(t, w.Flush())
	out := b.Bytes()
	assertEqualBytes(t, h2b("16fefd00000000000000000002"), out[:13])
	assertEqualBytes(t, []byte("hi"), out[13:])
}
