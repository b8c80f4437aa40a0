package alarms

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	domain "github.com/rdvincent/tutanota/internal/domain/alarm"
)

// Repository defines persistence operations for the recurring-alarm set.
// The set is always read and written as a whole; there are no partial updates.
type Repository interface {
	Load(ctx context.Context) ([]domain.AlarmNotification, error)
	Save(ctx context.Context, notifications []domain.AlarmNotification) error
}

// FileRepository persists the recurring-alarm set as a JSON array on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON file.
	path string
	// mu protects concurrent access to the file.
	mu sync.Mutex
}

// filePermissions restricts the stored set to the owning user; it still
// contains wrapped key material.
const filePermissions = 0o600

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the recurring-alarm set from disk. A missing or malformed file
// yields an empty set, never an error: losing the recurring set is
// recoverable (alarms are re-persisted on the next server push), while
// refusing to start the pass is not.
func (r *FileRepository) Load(_ context.Context) ([]domain.AlarmNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		return nil, nil
	}

	var notifications []domain.AlarmNotification
	if err = json.Unmarshal(contents, &notifications); err != nil {
		return nil, nil
	}

	return notifications, nil
}

// Save overwrites the entire stored set.
func (r *FileRepository) Save(_ context.Context, notifications []domain.AlarmNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if notifications == nil {
		notifications = []domain.AlarmNotification{}
	}

	data, err := json.MarshalIndent(notifications, "", "  ")
	if err != nil {
		return fmt.Errorf("encode recurring alarms: %w", err)
	}

	if err = os.WriteFile(r.path, data, filePermissions); err != nil {
		return fmt.Errorf("write recurring alarms: %w", err)
	}

	return nil
}
