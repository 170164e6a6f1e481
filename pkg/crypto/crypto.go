// Package crypto implements envelope encryption for file blobs.
//
// Every blob is encrypted under a fresh per-file Data Encryption Key (DEK)
// with AES-256-GCM. The DEK is wrapped under a process-wide Key Encryption
// Key (KEK) using the same AEAD with its own fresh nonce; the wrapped form
// stored alongside the file metadata is wrapIV || ciphertext || tag.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// KEKSize is the required Key Encryption Key length in bytes.
	KEKSize = 32
	// DEKSize is the per-blob Data Encryption Key length in bytes.
	DEKSize = 32
	// IVSize is the GCM nonce length in bytes.
	IVSize = 12

	// Algorithm is the tag persisted with every encrypted blob.
	Algorithm = "AES-256-GCM"
)

var (
	// ErrInvalidKEK is returned when the master key is not base64 of
	// exactly 32 bytes. The process refuses to start in that case.
	ErrInvalidKEK = errors.New("master key must be base64 of exactly 32 bytes")

	// ErrDecryptFailed is returned when AEAD authentication fails or the
	// stored crypto fields are malformed. The cause is deliberately not
	// attached; callers log it and surface a redacted server error.
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrUnknownAlgorithm is returned for an unrecognized algorithm tag.
	ErrUnknownAlgorithm = errors.New("unknown encryption algorithm")
)

// Service encrypts and decrypts file bodies with envelope keys.
type Service struct {
	kek []byte
}

// New creates a crypto service from a base64-encoded 32-byte master key.
func New(masterKeyBase64 string) (*Service, error) {
	kek, err := base64.StdEncoding.DecodeString(masterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKEK, err)
	}
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKEK, len(kek))
	}
	return &Service{kek: kek}, nil
}

// Encrypt encrypts a file body under a fresh DEK and wraps the DEK under
// the KEK. Returns the ciphertext, the wrapped DEK, the body IV and the
// algorithm tag to persist with the file record.
func (s *Service) Encrypt(plaintext []byte) (ciphertext, wrappedDEK, iv []byte, algo string, err error) {
	dek := make([]byte, DEKSize)
	if _, err = rand.Read(dek); err != nil {
		return nil, nil, nil, "", fmt.Errorf("failed to generate DEK: %w", err)
	}
	defer zero(dek)

	iv = make([]byte, IVSize)
	if _, err = rand.Read(iv); err != nil {
		return nil, nil, nil, "", fmt.Errorf("failed to generate IV: %w", err)
	}

	gcm, err := newGCM(dek)
	if err != nil {
		return nil, nil, nil, "", err
	}
	ciphertext = gcm.Seal(nil, iv, plaintext, nil)

	wrappedDEK, err = s.wrapDEK(dek)
	if err != nil {
		return nil, nil, nil, "", err
	}

	return ciphertext, wrappedDEK, iv, Algorithm, nil
}

// Decrypt is the exact inverse of Encrypt. Authentication failure at either
// layer surfaces as ErrDecryptFailed.
func (s *Service) Decrypt(ciphertext, wrappedDEK, iv []byte, algo string) ([]byte, error) {
	if algo != Algorithm {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
	if len(iv) != IVSize {
		return nil, ErrDecryptFailed
	}

	dek, err := s.unwrapDEK(wrappedDEK)
	if err != nil {
		return nil, err
	}
	defer zero(dek)

	gcm, err := newGCM(dek)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// wrapDEK encrypts the DEK under the KEK. Output layout: wrapIV || ct || tag.
func (s *Service) wrapDEK(dek []byte) ([]byte, error) {
	gcm, err := newGCM(s.kek)
	if err != nil {
		return nil, err
	}
	wrapIV := make([]byte, IVSize)
	if _, err := rand.Read(wrapIV); err != nil {
		return nil, fmt.Errorf("failed to generate wrap IV: %w", err)
	}
	return gcm.Seal(wrapIV, wrapIV, dek, nil), nil
}

// unwrapDEK recovers the DEK from its wrapped form.
func (s *Service) unwrapDEK(wrapped []byte) ([]byte, error) {
	gcm, err := newGCM(s.kek)
	if err != nil {
		return nil, err
	}
	if len(wrapped) < IVSize+gcm.Overhead() {
		return nil, ErrDecryptFailed
	}
	wrapIV, ct := wrapped[:IVSize], wrapped[IVSize:]
	dek, err := gcm.Open(nil, wrapIV, ct, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	if len(dek) != DEKSize {
		return nil, ErrDecryptFailed
	}
	return dek, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
