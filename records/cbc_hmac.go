package records

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"hash"

	"github.com/samber/oops"
)

// cbcHMAC adapts the legacy MAC-then-Encrypt (or Encrypt-then-MAC, RFC
// 7366, when negotiated) CBC construction to the AEAD capability set,
// so the record writer and reader drive it through the same interface
// as a real AEAD. Decryption is constant-time with respect to padding
// validity, following the Lucky13 mitigation in Go's own crypto/tls:
// the MAC absorbs a fixed total number of bytes regardless of where
// the real plaintext/padding boundary falls, and padding and MAC
// failures collapse into a single constant-time verdict before any
// branch is taken.
type cbcHMAC struct {
	block     cipher.Block
	newMAC    func() hash.Hash
	macSize   int
	blockSize int
	encrypt   bool
	etm       bool
	ad        []byte
	iv        []byte
}

// NewCBCHMAC builds a CBC+HMAC AEAD for the given cipher/MAC pair.
// etm selects Encrypt-then-MAC (RFC 7366) in place of the classic
// MAC-then-Encrypt construction; it must match what both sides
// negotiated.
func NewCBCHMAC(cipherAlgo CipherAlgorithm, macAlgo MACAlgorithm, key, macKey []byte, encrypt, etm bool) (AEAD, error) {
	var block cipher.Block
	var err error
	switch cipherAlgo {
	case CipherAES128CBC, CipherAES256CBC:
		block, err = aes.NewCipher(key)
	default:
		return nil, oops.Errorf("records: unsupported CBC cipher algorithm %d", cipherAlgo)
	}
	if err != nil {
		return nil, oops.Errorf("records: aes.NewCipher: %w", err)
	}

	var newMAC func() hash.Hash
	switch macAlgo {
	case MACSHA1:
		newMAC = func() hash.Hash { return hmac.New(sha1.New, macKey) }
	case MACSHA256:
		newMAC = func() hash.Hash { return hmac.New(sha256.New, macKey) }
	case MACSHA384:
		newMAC = func() hash.Hash { return hmac.New(sha512.New384, macKey) }
	default:
		return nil, oops.Errorf("records: unsupported CBC MAC algorithm %d", macAlgo)
	}

	return &cbcHMAC{
		block:     block,
		newMAC:    newMAC,
		macSize:   newMAC().Size(),
		blockSize: block.BlockSize(),
		encrypt:   encrypt,
		etm:       etm,
	}, nil
}

func (c *cbcHMAC) NonceSize() int { return c.blockSize }

func (c *cbcHMAC) SetAD(ad []byte) { c.ad = ad }

func (c *cbcHMAC) Start(nonce []byte) error {
	if len(nonce) != c.blockSize {
		return oops.Errorf("records: CBC IV must be %d bytes, got %d", c.blockSize, len(nonce))
	}
	c.iv = nonce
	return nil
}

// paddingBytesNeeded returns how many padding bytes (including the
// trailing length byte) must be appended so that n+k is a multiple of
// the block size, per RFC 5246 §6.2.3.2's minimal padding rule.
func paddingBytesNeeded(n, blockSize int) int {
	return blockSize - (n % blockSize)
}

func (c *cbcHMAC) OutputLength(inputLen int) int {
	if c.encrypt {
		if c.etm {
			return inputLen + paddingBytesNeeded(inputLen, c.blockSize) + c.macSize
		}
		unpadded := inputLen + c.macSize
		return unpadded + paddingBytesNeeded(unpadded, c.blockSize)
	}
	// Decrypt: the real plaintext length is only known after removing
	// padding inside Finish; this is a conservative placeholder used
	// only to seed the AAD's length field, which Finish corrects
	// in place before computing the MAC (mirroring how Go's halfConn
	// rewrites record[3:5] with the true length before tls10MAC).
	if c.etm {
		n := inputLen - c.macSize
		if n < 0 {
			return 0
		}
		return n
	}
	n := inputLen - c.macSize
	if n < 0 {
		return 0
	}
	return n
}

func (c *cbcHMAC) MinimumFinalSize() int {
	if c.etm {
		return c.blockSize + c.macSize
	}
	return roundUp(c.macSize+1, c.blockSize)
}

func roundUp(n, multiple int) int {
	return n + (multiple-n%multiple)%multiple
}

func (c *cbcHMAC) Finish(dst []byte, offset int) ([]byte, error) {
	if c.encrypt {
		return c.seal(dst, offset)
	}
	return c.open(dst, offset)
}

// seal grows body past dst's original length with append, so it never
// assumes dst was over-allocated to hold the MAC and padding: if dst's
// capacity falls short, append reallocates, and the final merge back
// into dst (rather than a bare re-slice of dst's own backing array)
// is what makes that reallocation safe regardless of which path it
// took.
func (c *cbcHMAC) seal(dst []byte, offset int) ([]byte, error) {
	body := dst[offset:]
	if c.etm {
		padLen := paddingBytesNeeded(len(body), c.blockSize)
		body = appendPadding(body, padLen)
		cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(body, body)
		// The EtM MAC covers the ciphertext, so the AAD's length field
		// carries the ciphertext length, as openEncryptThenMAC expects.
		binary.BigEndian.PutUint16(c.ad[aadSize-2:aadSize], uint16(len(body)))
		mac := c.newMAC()
		mac.Write(c.ad)
		mac.Write(body)
		body = mac.Sum(body)
		return append(dst[:offset], body...), nil
	}

	mac := c.newMAC()
	mac.Write(c.ad)
	mac.Write(body)
	body = mac.Sum(body)
	padLen := paddingBytesNeeded(len(body), c.blockSize)
	body = appendPadding(body, padLen)
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(body, body)
	return append(dst[:offset], body...), nil
}

// appendPadding appends n bytes each equal to n-1 (RFC 5246 minimal
// padding) to body.
func appendPadding(body []byte, n int) []byte {
	padValue := byte(n - 1)
	for i := 0; i < n; i++ {
		body = append(body, padValue)
	}
	return body
}

func (c *cbcHMAC) open(dst []byte, offset int) ([]byte, error) {
	body := dst[offset:]
	if c.etm {
		return c.openEncryptThenMAC(body)
	}
	return c.openMACThenEncrypt(body)
}

func (c *cbcHMAC) openEncryptThenMAC(body []byte) ([]byte, error) {
	if len(body) < c.macSize {
		return nil, newAlertError(AlertBadRecordMAC, "CBC/EtM record shorter than MAC")
	}
	ctextLen := len(body) - c.macSize
	if ctextLen%c.blockSize != 0 || ctextLen < c.blockSize {
		return nil, newAlertError(AlertBadRecordMAC, "CBC/EtM ciphertext not a multiple of the block size")
	}
	ciphertext, remoteMAC := body[:ctextLen], body[ctextLen:]

	binary.BigEndian.PutUint16(c.ad[aadSize-2:aadSize], uint16(ctextLen))
	mac := c.newMAC()
	mac.Write(c.ad)
	mac.Write(ciphertext)
	localMAC := mac.Sum(nil)

	if subtle.ConstantTimeCompare(localMAC, remoteMAC) != 1 {
		return nil, newAlertError(AlertBadRecordMAC, "CBC/EtM MAC mismatch")
	}

	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(ciphertext, ciphertext)
	padLen, good := extractPadding(ciphertext)
	if good != 255 {
		return nil, newAlertError(AlertBadRecordMAC, "CBC/EtM invalid padding")
	}
	return ciphertext[:len(ciphertext)-padLen], nil
}

func (c *cbcHMAC) openMACThenEncrypt(body []byte) ([]byte, error) {
	if len(body)%c.blockSize != 0 || len(body) < roundUp(c.macSize+1, c.blockSize) {
		return nil, newAlertError(AlertBadRecordMAC, "CBC record not a multiple of the block size")
	}

	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(body, body)

	paddingLen, paddingGood := extractPadding(body)

	n := len(body) - c.macSize - paddingLen
	n = subtle.ConstantTimeSelect(int(uint32(n)>>31), 0, n) // clamp n >= 0, branch-free

	binary.BigEndian.PutUint16(c.ad[aadSize-2:aadSize], uint16(n))

	localMAC := macWithExtra(c.newMAC(), c.ad, body[:n], body[n+c.macSize:])
	remoteMAC := body[n : n+c.macSize]

	macAndPaddingGood := subtle.ConstantTimeCompare(localMAC, remoteMAC) & int(paddingGood)
	if macAndPaddingGood != 1 {
		return nil, newAlertError(AlertBadRecordMAC, "CBC record MAC or padding invalid")
	}
	return body[:n], nil
}

// macWithExtra computes HMAC(ad || data) but additionally feeds extra
// into the running hash state afterward, without including it in the
// digest. This absorbs the CPU cost of the bytes past the claimed
// plaintext/padding boundary so that the time taken to compute the
// MAC does not depend on where that boundary was declared to be —
// len(data)+len(extra) is always the same total regardless of
// paddingLen, which is the Lucky13 mitigation used by Go's own
// crypto/tls (tls10MAC).
func macWithExtra(mac hash.Hash, ad, data, extra []byte) []byte {
	mac.Write(ad)
	mac.Write(data)
	sum := mac.Sum(nil)
	if len(extra) > 0 {
		mac.Write(extra)
	}
	return sum
}

// extractPadding returns, in constant time, the number of trailing
// bytes (including the length byte itself) to remove from payload,
// and a byte equal to 255 if the padding was valid or 0 otherwise.
// Follows the arithmetic in Go's crypto/tls extractPadding.
func extractPadding(payload []byte) (toRemove int, good byte) {
	if len(payload) < 1 {
		return 0, 0
	}

	paddingLen := payload[len(payload)-1]
	t := uint(len(payload)-1) - uint(paddingLen)
	// If len(payload) >= (paddingLen + 1) the MSB of t is zero.
	good = byte(int32(^t) >> 31)

	toCheck := 256
	if toCheck > len(payload) {
		toCheck = len(payload)
	}

	for i := 0; i < toCheck; i++ {
		t := uint(paddingLen) - uint(i)
		mask := byte(int32(^t) >> 31) // zero MSB, i.e. i <= paddingLen
		b := payload[len(payload)-1-i]
		good &^= mask&paddingLen ^ mask&b
	}

	good &= good << 4
	good &= good << 2
	good &= good << 1
	good = uint8(int8(good) >> 7)

	// Zero paddingLen on failure so any unchecked bytes stay folded
	// into the MAC input rather than being silently excluded.
	paddingLen &= good

	toRemove = int(paddingLen) + 1
	return
}
