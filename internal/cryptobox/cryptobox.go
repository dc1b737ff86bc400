// Package cryptobox is a reference implementation of the sealed-box
// Encryptor/Decryptor contract the capture session's WAV writer treats as
// an external collaborator. It uses AES-256-GCM: each call produces a
// self-contained blob of nonce (12B) || ciphertext || tag (16B) suitable
// for direct on-disk storage, matching the encrypted-WAV chunk format in
// the container spec.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the required AES-256 key length in bytes.
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// AlgorithmName identifies this encryptor for RecordingMetadata.
const AlgorithmName = "AES-256-GCM"

// ErrInvalidKeySize reports a key that is not exactly KeySize bytes.
var ErrInvalidKeySize = errors.New("cryptobox: key must be 32 bytes for AES-256-GCM")

// Box seals and opens chunks with a fixed AES-256-GCM key.
type Box struct {
	aead cipher.AEAD
}

// New constructs a Box from a raw 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new gcm: %w", err)
	}

	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce, returning
// nonce||ciphertext||tag. Two calls with the same plaintext and key yield
// distinct ciphertexts because the nonce is freshly generated each time.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptobox: generate nonce: %w", err)
	}

	sealed := b.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// Decrypt opens a blob produced by Encrypt, verifying the authentication
// tag. Any corruption, including a single flipped byte, causes failure.
func (b *Box) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < nonceSize+tagSize {
		return nil, errors.New("cryptobox: blob too short to contain nonce and tag")
	}

	nonce := blob[:nonceSize]
	ciphertext := blob[nonceSize:]

	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: decrypt: %w", err)
	}
	return plaintext, nil
}

// Overhead returns the fixed per-chunk size increase Encrypt adds to a
// plaintext of any length: a 12-byte nonce plus a 16-byte tag.
func Overhead() int {
	return nonceSize + tagSize
}
