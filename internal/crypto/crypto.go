package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeySize is the length in bytes of every symmetric key handled by the engine.
const KeySize = 32

// ErrDecryption is returned when ciphertext cannot be decoded or authenticated.
var ErrDecryption = errors.New("decryption failed")

// DecryptKey unwraps ciphertext produced by EncryptKey using AES-256-GCM.
// The nonce is expected as a prefix of the ciphertext.
func DecryptKey(key, wrapped []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(wrapped) < gcm.NonceSize() {
		return nil, ErrDecryption
	}

	nonce, ciphertext := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}

	return plain, nil
}

// EncryptKey wraps plaintext under the provided key using AES-256-GCM with a
// random nonce prefixed to the result.
func EncryptKey(key, plain []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// DecryptString decodes a base64 ciphertext field and decrypts it to UTF-8 text.
func DecryptString(key []byte, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryption
	}

	plain, err := DecryptKey(key, raw)
	if err != nil {
		return "", err
	}

	return string(plain), nil
}

// EncryptString encrypts UTF-8 text and encodes the result as base64.
func EncryptString(key []byte, value string) (string, error) {
	wrapped, err := EncryptKey(key, []byte(value))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// DecryptInt decrypts a field holding a decimal integer.
func DecryptInt(key []byte, encoded string) (int64, error) {
	text, err := DecryptString(key, encoded)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse decrypted integer: %w", err)
	}

	return value, nil
}

// DecryptTime decrypts a field holding decimal epoch milliseconds.
func DecryptTime(key []byte, encoded string) (time.Time, error) {
	millis, err := DecryptInt(key, encoded)
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(millis), nil
}

// EncryptTime encrypts a timestamp as decimal epoch milliseconds.
func EncryptTime(key []byte, value time.Time) (string, error) {
	return EncryptString(key, strconv.FormatInt(value.UnixMilli(), 10))
}

// newGCM builds the AEAD used for every wrap and unwrap operation.
func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return gcm, nil
}
