// Package crypto provides the AES-128-CCM authenticated decryption used by
// encrypted MiBeacon advertisements, and the helpers that assemble its key
// and nonce from configuration and frame bytes.
package crypto

import (
	"crypto/aes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/dtls/v3/pkg/crypto/ccm"
)

const (
	// KeySize is the length of a device bind token (AES-128 key).
	KeySize = 16
	// NonceSize is the length of the CCM nonce: 5 frame bytes + 3 MAC bytes.
	NonceSize = 8
	// TagSize is the length of the CCM authentication tag appended to the ciphertext.
	TagSize = 4
	// FramePrefixSize is the number of leading frame bytes copied into the nonce.
	FramePrefixSize = 5
)

// associatedData is authenticated but not encrypted by MiBeacon senders.
var associatedData = []byte{0x11}

// ErrDecrypt covers every decryption failure: bad key or nonce length,
// truncated input and tag mismatch. Callers drop the record.
var ErrDecrypt = errors.New("ble/crypto: decrypt failed")

// Decrypt authenticates and decrypts ciphertextWithTag (ciphertext followed by
// a TagSize-byte tag) with AES-128-CCM. No plaintext is returned on error.
func Decrypt(key, nonce, ciphertextWithTag []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrDecrypt, KeySize, len(key))
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrDecrypt, NonceSize, len(nonce))
	}
	if len(ciphertextWithTag) < TagSize {
		return nil, fmt.Errorf("%w: input shorter than %d-byte tag", ErrDecrypt, TagSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new cipher: %v", ErrDecrypt, err)
	}
	aead, err := ccm.NewCCM(block, TagSize, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: new CCM: %v", ErrDecrypt, err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertextWithTag, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// Seal encrypts plaintext with the same parameters Decrypt expects. It exists
// for fixtures and the decode-adv tool; the bridge never encrypts.
func Seal(key, nonce, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize || len(nonce) != NonceSize {
		return nil, fmt.Errorf("ble/crypto: seal: key %d bytes, nonce %d bytes", len(key), len(nonce))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new cipher: %w", err)
	}
	aead, err := ccm.NewCCM(block, TagSize, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new CCM: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, associatedData), nil
}

// Nonce builds the 8-byte CCM nonce from the first FramePrefixSize bytes of
// the encrypted frame and the three least significant bytes of the device
// MAC, in the order they are written in AA:BB:CC:DD:EE:FF form.
func Nonce(frame []byte, mac [6]byte) ([]byte, error) {
	if len(frame) < FramePrefixSize {
		return nil, fmt.Errorf("%w: frame shorter than %d-byte nonce prefix", ErrDecrypt, FramePrefixSize)
	}
	nonce := make([]byte, 0, NonceSize)
	nonce = append(nonce, frame[:FramePrefixSize]...)
	nonce = append(nonce, mac[3:6]...)
	return nonce, nil
}

// ParseToken decodes a hex bind token (colons, dashes and spaces allowed) and
// checks its length.
func ParseToken(s string) ([]byte, error) {
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(strings.TrimSpace(s))
	key, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: token is not hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("ble/crypto: token must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
