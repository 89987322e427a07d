package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePersister stores the session as a JSON file with 0600 permissions.
// The token and user live under stable top-level keys so the file survives
// schema additions.
type FilePersister struct {
	path string
}

// NewFilePersister creates a file-backed persister at path. If path is empty,
// a default under the user config directory is used.
func NewFilePersister(path string) (*FilePersister, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "ledgerview", "session.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("cannot create session dir: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Save writes the session atomically (temp file + rename).
func (p *FilePersister) Save(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

// Load reads the persisted session. Returns (nil, nil) when none exists.
func (p *FilePersister) Load() (*Session, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A corrupt session file is treated as absent, not fatal.
		return nil, fmt.Errorf("corrupt session file: %w", err)
	}
	return &sess, nil
}

// Delete removes the persisted session. Missing file is not an error.
func (p *FilePersister) Delete() error {
	err := os.Remove(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
