package keystore

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rdvincent/tutanota/internal/crypto"
)

// Facade unwraps keys protected by the device key store.
// Implementations stand in for the platform's hardware-backed keystore.
type Facade interface {
	Unwrap(wrapped []byte) ([]byte, error)
}

// FileFacade implements Facade with a device key read from a file on disk.
type FileFacade struct {
	// deviceKey is the raw symmetric key protecting all push channel keys.
	deviceKey []byte
}

// filePermissions restricts the device key file to the owning user.
const filePermissions = 0o600

// NewFileFacade loads the base64 device key stored at path.
func NewFileFacade(path string) (*FileFacade, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read device key: %w", err)
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(contents)))
	if err != nil {
		return nil, fmt.Errorf("decode device key: %w", err)
	}

	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("device key must be %d bytes, got %d", crypto.KeySize, len(key))
	}

	return &FileFacade{deviceKey: key}, nil
}

// Unwrap decrypts a key wrapped under the device key.
func (f *FileFacade) Unwrap(wrapped []byte) ([]byte, error) {
	key, err := crypto.DecryptKey(f.deviceKey, wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrap key: %w", err)
	}

	return key, nil
}

// Generate creates a fresh device key at path, refusing to overwrite an
// existing one.
func Generate(path string) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("device key already exists at %s", path)
	}

	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate device key: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(path, []byte(encoded), filePermissions); err != nil {
		return fmt.Errorf("write device key: %w", err)
	}

	return nil
}
