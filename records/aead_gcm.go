package records

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/samber/oops"
)

// gcmAEAD wraps the standard library's AES-GCM (crypto/aes +
// crypto/cipher) behind the AEAD capability set, the same pairing
// pion/dtls's CCM/GCM ciphers and qwerty-iot/dtls's CipherGcm reach for
// to drive a DTLS/TLS AEAD record.
type gcmAEAD struct {
	gcm     cipher.AEAD
	ad      []byte
	nonce   []byte
	encrypt bool
}

// NewGCM builds an AEAD over AES-GCM with a 12-byte nonce and the
// standard 16-byte tag.
func NewGCM(key []byte, encrypt bool) (AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, oops.Errorf("records: aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, oops.Errorf("records: cipher.NewGCM: %w", err)
	}
	return &gcmAEAD{gcm: gcm, encrypt: encrypt}, nil
}

func (a *gcmAEAD) NonceSize() int { return a.gcm.NonceSize() }

func (a *gcmAEAD) SetAD(ad []byte) { a.ad = ad }

func (a *gcmAEAD) Start(nonce []byte) error {
	if len(nonce) != a.gcm.NonceSize() {
		return oops.Errorf("records: GCM nonce must be %d bytes, got %d", a.gcm.NonceSize(), len(nonce))
	}
	a.nonce = nonce
	return nil
}

func (a *gcmAEAD) Finish(dst []byte, offset int) ([]byte, error) {
	head, body := dst[:offset], dst[offset:]
	if a.encrypt {
		out := a.gcm.Seal(head, a.nonce, body, a.ad)
		return out, nil
	}
	out, err := a.gcm.Open(head, a.nonce, body, a.ad)
	if err != nil {
		return nil, newAlertError(AlertBadRecordMAC, "GCM authentication failed")
	}
	return out, nil
}

func (a *gcmAEAD) OutputLength(inputLen int) int {
	if a.encrypt {
		return inputLen + a.gcm.Overhead()
	}
	return inputLen - a.gcm.Overhead()
}

func (a *gcmAEAD) MinimumFinalSize() int { return a.gcm.Overhead() }
