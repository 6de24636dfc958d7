package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// DefaultTokenFile is the token file name used when none is configured
const DefaultTokenFile = "token.json"

// Store persists a single TokenRecord
type Store interface {
	// Load returns the stored record. Missing or unreadable data yields false.
	Load() (TokenRecord, bool)
	// Save replaces the stored record.
	Save(record TokenRecord) error
}

// FileStore keeps the token as JSON in one file
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore creates a store backed by path
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if path == "" {
		path = DefaultTokenFile
	}
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the token file. A corrupt file is logged and treated as absent.
func (s *FileStore) Load() (TokenRecord, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read token file, ignoring it",
				zap.String("path", s.path),
				zap.Error(err),
			)
		}
		return TokenRecord{}, false
	}

	var record TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn("token file is corrupt, ignoring it",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return TokenRecord{}, false
	}
	if record.AccessToken == "" {
		s.logger.Warn("token file has no access token, ignoring it",
			zap.String("path", s.path),
		)
		return TokenRecord{}, false
	}

	return record, true
}

// Save overwrites the token file with record. The file is written next to
// the target and renamed over it, readable by the owner only.
func (s *FileStore) Save(record TokenRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}

	s.logger.Debug("saved token", zap.String("path", s.path))
	return nil
}
