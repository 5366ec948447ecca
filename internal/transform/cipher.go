package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32
	kdfRounds  = 100_000
	nonceSize  = 12
	cipherSalt = "syftsync/content/v1"
)

var (
	ErrNoKey        = errors.New("transform: encryption key is empty")
	ErrNotEncrypted = errors.New("transform: content is not encrypted with this key")
)

// keyCache avoids re-running the KDF for every pass.
var keyCache sync.Map // passphrase -> []byte

// Cipher is AES-256-GCM with a random nonce prepended to every ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, ErrNoKey
	}

	var key []byte
	if cached, ok := keyCache.Load(passphrase); ok {
		key = cached.([]byte)
	} else {
		key = pbkdf2.Key([]byte(passphrase), []byte(cipherSalt), kdfRounds, keySize, sha256.New)
		keyCache.Store(passphrase, key)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("transform: aes: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("transform: gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns nonce || ciphertext.
func (c *Cipher) Encrypt(plain []byte) ([]byte, error) {
	out := make([]byte, nonceSize, nonceSize+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("transform: nonce: %w", err)
	}
	return c.aead.Seal(out, out[:nonceSize], plain, nil), nil
}

// Decrypt reverses Encrypt. Any content not produced by this key yields ErrNotEncrypted.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceSize+c.aead.Overhead() {
		return nil, ErrNotEncrypted
	}
	plain, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrNotEncrypted
	}
	return plain, nil
}

// IsEncrypted reports whether data authenticates under this key.
func (c *Cipher) IsEncrypted(data []byte) bool {
	_, err := c.Decrypt(data)
	return err == nil
}
