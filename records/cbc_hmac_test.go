package records

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newCBCPair(t *testing.T, etm bool) (write, read AEAD) {
	cipherKey := bytes.Repeat([]byte{0x10}, 16)
	macKey := bytes.Repeat([]byte{0x20}, 20)
	write, err := NewCBCHMAC(CipherAES128CBC, MACSHA1, cipherKey, macKey, true, etm)
	assert.Nil(t, err)
	read, err = NewCBCHMAC(CipherAES128CBC, MACSHA1, cipherKey, macKey, false, etm)
	assert.Nil(t, err)
	return write, read
}

func sealOpen(t *testing.T, write, read AEAD, iv, ad, plaintext []byte) ([]byte, error) {
	write.SetAD(ad)
	assert.Nil(t, write.Start(iv))
	ctext, err := write.Finish(append([]byte(nil), plaintext...), 0)
	assert.Nil(t, err)

	read.SetAD(ad)
	assert.Nil(t, read.Start(iv))
	return read.Finish(append([]byte(nil), ctext...), 0)
}

func TestCBCHMAC_RoundTrip_MACThenEncrypt(t *testing.T) {
	write, read := newCBCPair(t, false)
	iv := bytes.Repeat([]byte{0x30}, 16)
	ad := formatAD(0, ApplicationData, TLS12, 13)
	out, err := sealOpen(t, write, read, iv, ad, []byte("hello, world!"))
	assert.Nil(t, err)
	assertEqualBytes(t, []byte("hello, world!"), out)
}

func TestCBCHMAC_RoundTrip_EncryptThenMAC(t *testing.T) {
	write, read := newCBCPair(t, true)
	iv := bytes.Repeat([]byte{0x31}, 16)
	ad := formatAD(1, ApplicationData, TLS12, 13)
	out, err := sealOpen(t, write, read, iv, ad, []byte("hello, world!"))
	assert.Nil(t, err)
	assertEqualBytes(t, []byte("hello, world!"), out)
}

func TestCBCHMAC_RoundTrip_EmptyPlaintext(t *testing.T) {
	for _, etm := range []bool{false, true} {
		write, read := newCBCPair(t, etm)
		iv := bytes.Repeat([]byte{0x32}, 16)
		ad := formatAD(0, ApplicationData, TLS12, 0)
		out, err := sealOpen(t, write, read, iv, ad, nil)
		assert.Nil(t, err)
		assert.Equal(t, 0, len(out))
	}
}

func TestCBCHMAC_TamperRejection(t *testing.T) {
	for _, etm := range []bool{false, true} {
		write, read := newCBCPair(t, etm)
		iv := bytes.Repeat([]byte{0x33}, 16)
		plaintext := []byte("a rather unremarkable sentence")
		ad := formatAD(0, ApplicationData, TLS12, len(plaintext))

		write.SetAD(ad)
		assert.Nil(t, write.Start(iv))
		ctext, err := write.Finish(append([]byte(nil), plaintext...), 0)
		assert.Nil(t, err)

		for _, bit := range []int{0, len(ctext) / 2, len(ctext) - 1} {
			tampered := append([]byte(nil), ctext...)
			tampered[bit] ^= 0x01

			read.SetAD(ad)
			assert.Nil(t, read.Start(iv))
			_, err := read.Finish(tampered, 0)
			assert.True(t, IsAlert(err, AlertBadRecordMAC), "etm=%v bit=%d", etm, bit)
		}
	}
}

func TestCBCHMAC_WrongADIsRejected(t *testing.T) {
	write, read := newCBCPair(t, false)
	iv := bytes.Repeat([]byte{0x34}, 16)
	plaintext := []byte("authenticate the header too")
	goodAD := formatAD(0, ApplicationData, TLS12, len(plaintext))
	badAD := formatAD(1, ApplicationData, TLS12, len(plaintext)) // seq flipped

	write.SetAD(goodAD)
	assert.Nil(t, write.Start(iv))
	ctext, err := write.Finish(append([]byte(nil), plaintext...), 0)
	assert.Nil(t, err)

	read.SetAD(badAD)
	assert.Nil(t, read.Start(iv))
	_, err = read.Finish(ctext, 0)
	assert.True(t, IsAlert(err, AlertBadRecordMAC))
}

// TestCBCHMAC_PaddingAndMACFailuresAreIndistinguishable checks the
// Lucky-13-style property at the unit level: a ciphertext with a
// corrupted final byte (breaks padding, MAC incidentally still wrong)
// and a ciphertext with a corrupted first byte (breaks the MAC,
// padding still structurally valid) must fail with exactly the same
// error, never a distinguishable one, regardless of which boundary
// the corruption touches. Wall-clock indistinguishability is a
// property of extractPadding/macWithExtra's fixed-shape arithmetic
// (see cbc_hmac.go) and is not re-measured here; this test only pins
// down that both failure shapes collapse to one error value.
func TestCBCHMAC_PaddingAndMACFailuresAreIndistinguishable(t *testing.T) {
	write, read := newCBCPair(t, false)
	iv := bytes.Repeat([]byte{0x35}, 16)
	plaintext := []byte("0123456789abcdef") // exactly one block; with the 20-byte MAC, 12 bytes of padding
	ad := formatAD(0, ApplicationData, TLS12, len(plaintext))

	write.SetAD(ad)
	assert.Nil(t, write.Start(iv))
	ctext, err := write.Finish(append([]byte(nil), plaintext...), 0)
	assert.Nil(t, err)

	badPadding := append([]byte(nil), ctext...)
	badPadding[len(badPadding)-1] ^= 0xFF

	badMAC := append([]byte(nil), ctext...)
	badMAC[0] ^= 0xFF

	read.SetAD(ad)
	assert.Nil(t, read.Start(iv))
	_, err1 := read.Finish(append([]byte(nil), badPadding...), 0)

	read.SetAD(ad)
	assert.Nil(t, read.Start(iv))
	_, err2 := read.Finish(append([]byte(nil), badMAC...), 0)

	assert.True(t, IsAlert(err1, AlertBadRecordMAC))
	assert.True(t, IsAlert(err2, AlertBadRecordMAC))

	var ae1, ae2 *AlertError
	assert.ErrorAs(t, err1, &ae1)
	assert.ErrorAs(t, err2, &ae2)
	assert.Equal(t, ae1.Description, ae2.Description)
}

func TestCBCHMAC_MinimumFinalSize(t *testing.T) {
	write, _ := newCBCPair(t, false)
	// roundUp(macSize(20)+1, blockSize(16)): the smallest ciphertext
	// that could possibly contain a MAC plus one byte of padding.
	assert.Equal(t, 32, write.MinimumFinalSize())
}

func TestCBCHMAC_ShortCiphertextIsBadRecordMAC(t *testing.T) {
	write, read := newCBCPair(t, false)
	iv := bytes.Repeat([]byte{0x36}, 16)
	read.SetAD(formatAD(0, ApplicationData, TLS12, 0))
	assert.Nil(t, read.Start(iv))
	_, err := read.Finish(make([]byte, 3), 0)
	assert.True(t, IsAlert(err, AlertBadRecordMAC))
	_ = write
}
