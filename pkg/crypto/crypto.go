// Package crypto provides the authenticated symmetric engine used to
// encrypt chunk payloads before they leave the aggregator.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/shardvault/shardvault/pkg/errdefs"
)

// CipherTag identifies the cipher suite recorded on each file record.
// Downloads must present the same tag the file was uploaded with.
const CipherTagAES256GCM = "AES256GCM"

// KnownCipherTag reports whether tag names a supported cipher suite.
func KnownCipherTag(tag string) bool {
	return tag == CipherTagAES256GCM
}

// Engine encrypts and decrypts chunk payloads with AES-256-GCM.
// The nonce is generated per call and prepended to the ciphertext, so a
// ciphertext is self-contained given the key.
type Engine struct {
	key []byte // 32 bytes for AES-256
}

// NewEngine creates an engine from a raw 32-byte key.
func NewEngine(key []byte) (*Engine, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &Engine{key: key}, nil
}

// keySalt pins the scrypt parameters to one derivation scheme, so the
// same passphrase yields the same key across restarts.
const keySalt = "shardvault.chunk-key.v1"

// NewEngineFromPassphrase derives a 32-byte key from a passphrase with
// scrypt and creates an engine with it. The derivation is deterministic.
func NewEngineFromPassphrase(passphrase string) (*Engine, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	key, err := scrypt.Key([]byte(passphrase), []byte(keySalt), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}
	return NewEngine(key)
}

// Tag returns the cipher tag this engine produces.
func (e *Engine) Tag() string {
	return CipherTagAES256GCM
}

// Encrypt seals plaintext and returns the nonce-prefixed ciphertext.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %v", errdefs.ErrCrypto, err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed ciphertext produced by Encrypt.
// Tag mismatches and malformed input yield ErrCrypto; they are never
// silently swallowed.
func (e *Engine) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", errdefs.ErrCrypto)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrCrypto, err)
	}
	return plaintext, nil
}

func (e *Engine) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create cipher: %v", errdefs.ErrCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GCM: %v", errdefs.ErrCrypto, err)
	}
	return gcm, nil
}
