package calib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ProfileStore is the persistence port for calibration profiles. The core
// never touches files directly; the daemon and the calibrate CLI inject an
// implementation.
type ProfileStore interface {
	Load() (*Profile, error)
	Save(*Profile) error
}

// FileStore persists the profile as a JSON document, matching the external
// get/save contract. A missing or empty file loads as an uncalibrated
// profile rather than an error.
type FileStore struct {
	Path string
}

// NewFileStore returns a FileStore at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads and parses the profile document.
func (s *FileStore) Load() (*Profile, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return NewProfile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	if len(data) == 0 {
		return NewProfile(), nil
	}

	p := NewProfile()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}
	return p, nil
}

// Save overwrites the profile document wholesale.
func (s *FileStore) Save(p *Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create calibration dir: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	return nil
}
