package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileRepository stores the session as JSON in a single file. Records are
// keyed by namespace so one file holds the sessions of several servers
// next to other local state.
type FileRepository struct {
	path string
	key  string
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository returns a repository writing the namespace's record
// to path.
func NewFileRepository(path, namespace string) *FileRepository {
	return &FileRepository{path: path, key: recordKey(namespace)}
}

// DefaultFilePath returns ~/.config/labportal/session.json.
func DefaultFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "labportal", "session.json"), nil
}

func (f *FileRepository) readAll() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	records := map[string]json.RawMessage{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return records, nil
}

func (f *FileRepository) writeAll(records map[string]json.RawMessage) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to chmod session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func (f *FileRepository) Load(ctx context.Context) (Persisted, error) {
	records, err := f.readAll()
	if err != nil {
		return Persisted{}, err
	}

	raw, ok := records[f.key]
	if !ok {
		return Persisted{}, ErrNotFound
	}

	var p Persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return Persisted{}, fmt.Errorf("failed to decode session record: %w", err)
	}
	return p, nil
}

func (f *FileRepository) Save(ctx context.Context, p Persisted) error {
	records, err := f.readAll()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	records[f.key] = raw
	return f.writeAll(records)
}

func (f *FileRepository) Clear(ctx context.Context) error {
	records, err := f.readAll()
	if err != nil {
		return err
	}
	if _, ok := records[f.key]; !ok {
		return nil
	}
	delete(records, f.key)
	return f.writeAll(records)
}
