package records

import (
	"github.com/samber/oops"
	"golang.org/x/crypto/chacha20poly1305"
)

// chachaAEAD wraps golang.org/x/crypto/chacha20poly1305 behind the
// AEAD capability set, for the RFC 7905
// TLS_*_WITH_CHACHA20_POLY1305_SHA256 suites.
type chachaAEAD struct {
	aead interface {
		NonceSize() int
		Overhead() int
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
	ad      []byte
	nonce   []byte
	encrypt bool
}

// NewChaCha20Poly1305 builds an AEAD over ChaCha20-Poly1305 with its
// standard 12-byte nonce and 16-byte tag.
func NewChaCha20Poly1305(key []byte, encrypt bool) (AEAD, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, oops.Errorf("records: chacha20poly1305.New: %w", err)
	}
	return &chachaAEAD{aead: aead, encrypt: encrypt}, nil
}

func (a *chachaAEAD) NonceSize() int { return a.aead.NonceSize() }

func (a *chachaAEAD) SetAD(ad []byte) { a.ad = ad }

func (a *chachaAEAD) Start(nonce []byte) error {
	if len(nonce) != a.aead.NonceSize() {
		return oops.Errorf("records: ChaCha20-Poly1305 nonce must be %d bytes, got %d", a.aead.NonceSize(), len(nonce))
	}
	a.nonce = nonce
	return nil
}

func (a *chachaAEAD) Finish(dst []byte, offset int) ([]byte, error) {
	head, body := dst[:offset], dst[offset:]
	if a.encrypt {
		return a.aead.Seal(head, a.nonce, body, a.ad), nil
	}
	out, err := a.aead.Open(head, a.nonce, body, a.ad)
	if err != nil {
		return nil, newAlertError(AlertBadRecordMAC, "ChaCha20-Poly1305 authentication failed")
	}
	return out, nil
}

func (a *chachaAEAD) OutputLength(inputLen int) int {
	if a.encrypt {
		return inputLen + a.aead.Overhead()
	}
	return inputLen - a.aead.Overhead()
}

func (a *chachaAEAD) MinimumFinalSize() int { return a.aead.Overhead() }
