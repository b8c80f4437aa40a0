package keyring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Source supplies the push-channel key mapping: push channel id to the
// channel's session key, wrapped under the device key and base64 encoded.
type Source interface {
	PushChannelKeys(ctx context.Context) (map[string]string, error)
}

// FileSource reads the mapping from a YAML file.
type FileSource struct {
	// path is the filesystem location of the keyring file.
	path string
}

// NewFileSource creates a source backed by the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path: filepath.Clean(path),
	}
}

// PushChannelKeys loads the mapping. A missing file yields an empty mapping
// (no channels registered yet); an unreadable or malformed file is an error,
// since scheduling against a partial keyring would silently drop alarms.
func (s *FileSource) PushChannelKeys(_ context.Context) (map[string]string, error) {
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}

		return nil, fmt.Errorf("read keyring: %w", err)
	}

	var keys map[string]string
	if err = yaml.Unmarshal(contents, &keys); err != nil {
		return nil, fmt.Errorf("unmarshal keyring: %w", err)
	}

	if keys == nil {
		keys = map[string]string{}
	}

	return keys, nil
}
