package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bageldb/libraries/internal/constants"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileStore persists credentials as a YAML document on an afero filesystem.
// Every operation re-reads the file, so several processes sharing the file
// see each other's writes (last writer wins).
//
// SECURITY: the file holds bearer tokens. It is written 0600 in a 0700
// directory and its values are never logged.
type FileStore struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewFileStore creates a store backed by path on fs.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// NewOSFileStore creates a store on the real filesystem.
func NewOSFileStore(path string) *FileStore {
	return NewFileStore(afero.NewOsFs(), path)
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", false, &StoreError{Op: "get", Key: key, Err: err}
	}

	value, ok := data[key]

	return value, ok, nil
}

// Set stores value under key.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}

	data[key] = value

	err = s.save(data)
	if err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}

	return nil
}

// Remove deletes key.
func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return &StoreError{Op: "remove", Key: key, Err: err}
	}

	if _, ok := data[key]; !ok {
		return nil
	}

	delete(data, key)

	err = s.save(data)
	if err != nil {
		return &StoreError{Op: "remove", Key: key, Err: err}
	}

	return nil
}

// Clear deletes the backing file.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.fs.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StoreError{Op: "clear", Err: err}
	}

	return nil
}

func (s *FileStore) load() (map[string]string, error) {
	data := make(map[string]string)

	raw, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return data, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	err = yaml.Unmarshal(raw, &data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}

	if data == nil {
		data = make(map[string]string)
	}

	return data, nil
}

// save writes to a temp file and renames it over the target so readers in
// other processes never see a partial document.
func (s *FileStore) save(data map[string]string) error {
	err := s.fs.MkdirAll(filepath.Dir(s.path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	tmp := s.path + ".tmp"

	err = afero.WriteFile(s.fs, tmp, raw, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}

	err = s.fs.Rename(tmp, s.path)
	if err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}

	return nil
}
