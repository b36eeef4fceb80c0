package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Persister stores requests durably. Abstracted for testability (DIP).
type Persister interface {
	LoadAll() ([]*Request, error)
	Save(r *Request) error
	Delete(requestID string) error
}

// FileStore implements Persister with one JSON file per request.
type FileStore struct {
	dir string
}

// NewFileStore creates a filesystem-backed persister rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// RequestPath returns the absolute path of a request's JSON file.
func (fs *FileStore) RequestPath(requestID string) string {
	return filepath.Join(fs.dir, requestID+".json")
}

// LoadAll reads every request file in the directory. A missing directory
// is an empty store, not an error.
func (fs *FileStore) LoadAll() ([]*Request, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading requests directory: %w", err)
	}

	var out []*Request
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		var r Request
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", e.Name(), err)
		}
		out = append(out, &r)
	}
	return out, nil
}

// Save writes the request atomically: temp file in the same directory,
// then rename over the old file.
func (fs *FileStore) Save(r *Request) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	if err := os.MkdirAll(fs.dir, 0o755); err != nil {
		return fmt.Errorf("creating requests directory: %w", err)
	}

	tmp, err := os.CreateTemp(fs.dir, r.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing request: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("setting permissions: %w", err)
	}
	return os.Rename(tmp.Name(), fs.RequestPath(r.ID))
}

// Delete removes a request's file. Deleting a missing file is a no-op.
func (fs *FileStore) Delete(requestID string) error {
	err := os.Remove(fs.RequestPath(requestID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
