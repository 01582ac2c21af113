package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvcrn/codex-oauth-proxy/internal/logger"
)

// FileStore implements Store on top of a single JSON file readable only by
// the owning user.
type FileStore struct {
	filePath string
}

// NewFileStore creates a file-based credential store. An empty path selects
// the default location under the user's home directory.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return &FileStore{filePath: path}, nil
}

// DefaultPath returns ~/.codex-oauth-proxy/tokens.json.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".codex-oauth-proxy", "tokens.json"), nil
}

// Path returns the location of the credential file.
func (f *FileStore) Path() string {
	return f.filePath
}

// Load reads the credential file on every call; the file is the single
// source of truth.
func (f *FileStore) Load() (*Credential, bool) {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Get().Warn().Err(err).Str("path", f.filePath).Msg("Failed to read credentials file")
		}
		return nil, false
	}

	cred := &Credential{}
	if err := json.Unmarshal(data, cred); err != nil {
		logger.Get().Warn().Err(err).Str("path", f.filePath).Msg("Ignoring corrupt credentials file")
		return nil, false
	}
	return cred, true
}

// Save writes the credential to a temp file in the same directory and renames
// it over the previous file, so readers never observe a partial write.
func (f *FileStore) Save(cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("refusing to save nil credential")
	}

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict permissions on %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		return fmt.Errorf("failed to write credentials to %s: %w", f.filePath, err)
	}
	committed = true

	logger.Get().Info().Str("path", f.filePath).Msg("Saved credentials")
	return nil
}

// Name returns the store name
func (f *FileStore) Name() string {
	return fmt.Sprintf("FileStore(%s)", f.filePath)
}
