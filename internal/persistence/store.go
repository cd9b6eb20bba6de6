package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	backupPrefix = "state_"
	backupLayout = "20060102_150405"

	// DefaultBackups is how many previous state files are kept.
	DefaultBackups = 10
)

// FileStore reads and writes the state document on an afero filesystem.
// At most one Save or Load touches the file at a time.
type FileStore struct {
	fs      afero.Fs
	path    string
	backups int
	now     func() time.Time

	mu sync.Mutex
}

type StoreOption func(*FileStore)

// WithBackups sets how many previous state files to keep. Zero disables
// backups.
func WithBackups(n int) StoreOption {
	return func(s *FileStore) {
		if n >= 0 {
			s.backups = n
		}
	}
}

// WithStoreClock replaces time.Now for SavedAt stamps and backup names.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates a store for the document at path on fs.
func NewFileStore(fs afero.Fs, path string, opts ...StoreOption) *FileStore {
	s := &FileStore{
		fs:      fs,
		path:    path,
		backups: DefaultBackups,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the durable state file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) backupDir() string {
	return filepath.Join(filepath.Dir(s.path), "backups")
}

// withContext runs fn, returning early with ctx's error if ctx ends first.
// fn keeps running in the background; the store lock is released only once
// it finishes, so a later call waits instead of racing it.
func (s *FileStore) withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Save writes doc atomically: the encoded document goes to a temp file that
// is then renamed over the state file. The previous state file is copied to
// the backup directory first.
func (s *FileStore) Save(ctx context.Context, doc Document) error {
	doc.Version = Version
	doc.SavedAt = s.now().UTC()
	doc.normalize()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &WriteError{Path: s.path, Op: "encode", Err: err}
	}

	err = s.withContext(ctx, func() error { return s.write(data) })
	if err == nil {
		return nil
	}
	var we *WriteError
	if errors.As(err, &we) {
		return err
	}
	return &WriteError{Path: s.path, Op: "wait", Err: err}
}

func (s *FileStore) write(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: s.path, Op: "mkdir", Err: err}
	}

	if s.backups > 0 {
		if err := s.backupCurrent(); err != nil {
			slog.Warn("state backup failed", "path", s.path, "error", err)
		}
	}

	tmp := s.path + ".tmp-" + uuid.NewString()[:8]
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &WriteError{Path: s.path, Op: "create temp", Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return &WriteError{Path: s.path, Op: "write temp", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return &WriteError{Path: s.path, Op: "sync temp", Err: err}
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return &WriteError{Path: s.path, Op: "close temp", Err: err}
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		s.fs.Remove(tmp)
		return &WriteError{Path: s.path, Op: "rename", Err: err}
	}
	return nil
}

// backupCurrent copies the existing state file into the backup directory
// and removes all but the newest backups. Caller must hold s.mu.
func (s *FileStore) backupCurrent() error {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read current state: %w", err)
	}
	if err := s.fs.MkdirAll(s.backupDir(), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	name := filepath.Join(s.backupDir(), backupPrefix+s.now().Format(backupLayout)+".json")
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return s.trimBackups()
}

func (s *FileStore) trimBackups() error {
	names, err := s.listBackups()
	if err != nil {
		return err
	}
	if len(names) <= s.backups {
		return nil
	}
	for _, name := range names[:len(names)-s.backups] {
		if err := s.fs.Remove(filepath.Join(s.backupDir(), name)); err != nil {
			return fmt.Errorf("remove old backup: %w", err)
		}
	}
	slog.Debug("removed old state backups", "count", len(names)-s.backups)
	return nil
}

// listBackups returns backup file names, oldest first.
func (s *FileStore) listBackups() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.backupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Backups lists the kept backup files, oldest first.
func (s *FileStore) Backups() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.listBackups()
	if err != nil {
		return nil, err
	}
	for i, n := range names {
		names[i] = filepath.Join(s.backupDir(), n)
	}
	return names, nil
}

// Load reads the state file. A missing file yields an empty document; a file
// that cannot be decoded yields a *CorruptStateError. Version 1 documents
// are migrated.
func (s *FileStore) Load(ctx context.Context) (Document, error) {
	var doc Document
	err := s.withContext(ctx, func() error {
		data, err := afero.ReadFile(s.fs, s.path)
		if err != nil {
			if os.IsNotExist(err) {
				doc = Empty()
				return nil
			}
			return fmt.Errorf("read state file: %w", err)
		}
		doc, err = Decode(data)
		if err != nil {
			return &CorruptStateError{Path: s.path, Err: err}
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Quarantine renames the state file aside as <path>.corrupt_<unix> and
// returns the new name.
func (s *FileStore) Quarantine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst := s.path + ".corrupt_" + strconv.FormatInt(s.now().Unix(), 10)
	if err := s.fs.Rename(s.path, dst); err != nil {
		return "", fmt.Errorf("quarantine state file: %w", err)
	}
	return dst, nil
}

// Decode parses a state document of any supported version.
func Decode(data []byte) (Document, error) {
	var probe struct {
		Version json.Number `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Document{}, fmt.Errorf("decode state: %w", err)
	}

	version := Version
	if probe.Version != "" {
		f, err := probe.Version.Float64()
		if err != nil {
			return Document{}, fmt.Errorf("decode state: bad version %q", probe.Version)
		}
		version = int(f)
	}

	switch {
	case version <= 1:
		return migrateV1(data)
	case version == Version:
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return Document{}, fmt.Errorf("decode state: %w", err)
		}
		doc.normalize()
		return doc, nil
	default:
		return Document{}, fmt.Errorf("decode state: unsupported version %d", version)
	}
}
