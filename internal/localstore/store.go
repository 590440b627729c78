// Package localstore keeps checklist documents as one JSON file per
// document in a flat directory. It is the local side of the sync.
package localstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	apperrors "github.com/alexjbarnes/checklist-sync/internal/errors"
	"github.com/alexjbarnes/checklist-sync/internal/models"
	"github.com/alexjbarnes/checklist-sync/internal/syncer"
)

const (
	// Ext is the filename extension of stored documents.
	Ext = ".json"

	dirPerm  = fs.FileMode(0o755)
	filePerm = fs.FileMode(0o644)
)

// Store provides thread-safe access to the document directory. Writes
// are serialized by an exclusive lock; reads take a shared lock so they
// never see a partial write.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.RWMutex

	// echoes holds the content hash of each document the store itself
	// wrote, so the watcher can drop the resulting filesystem event.
	echoMu sync.Mutex
	echoes map[string][sha256.Size]byte
}

var _ syncer.LocalStore = (*Store)(nil)

// New creates a Store rooted at dir, creating the directory if needed.
// dir must be absolute (resolved at config load time).
func New(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("checklist directory must not be empty")
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating checklist directory %s: %w", dir, err)
	}

	return &Store{
		dir:    filepath.Clean(dir),
		logger: logger,
		echoes: make(map[string][sha256.Size]byte),
	}, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// ListNames returns the names of all stored documents, sorted.
func (s *Store) ListNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	entries, err := os.ReadDir(s.dir)
	s.mu.RUnlock()

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}

		name, ok := nameFromFile(e.Name())
		if !ok {
			continue
		}

		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// Get reads a document. It returns nil, nil when the document does not
// exist.
func (s *Store) Get(_ context.Context, name string) (*models.LocalRecord, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %q is not a regular file", apperrors.ErrInvalidName, name)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path validated by Store.resolve
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	return &models.LocalRecord{
		Name:         norm.NFC.String(name),
		ModifiedTime: info.ModTime(),
		Contents:     data,
	}, nil
}

// Put writes a document atomically and sets its modification time to
// mtime. A reader never observes a half-written document.
func (s *Store) Put(_ context.Context, rec models.LocalRecord, mtime time.Time) error {
	path, err := s.resolve(rec.Name)
	if err != nil {
		return err
	}

	if mtime.After(syncer.MaxModifiedTime) {
		mtime = syncer.MaxModifiedTime
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", rec.Name, err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(rec.Contents); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", rec.Name, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", rec.Name, err)
	}

	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("setting permissions for %s: %w", rec.Name, err)
	}

	if !mtime.IsZero() {
		if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
			return fmt.Errorf("setting mtime for %s: %w", rec.Name, err)
		}
	}

	s.recordEcho(norm.NFC.String(rec.Name), rec.Contents)

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place %s: %w", rec.Name, err)
	}

	return nil
}

func (s *Store) recordEcho(name string, content []byte) {
	s.echoMu.Lock()
	defer s.echoMu.Unlock()

	s.echoes[name] = sha256.Sum256(content)
}

// consumeEcho reports whether content is exactly what the store last
// wrote for name, forgetting the record either way.
func (s *Store) consumeEcho(name string, content []byte) bool {
	s.echoMu.Lock()
	defer s.echoMu.Unlock()

	want, ok := s.echoes[name]
	if !ok {
		return false
	}

	delete(s.echoes, name)

	return want == sha256.Sum256(content)
}

// resolve validates a document name and returns its absolute path.
// Names are single path elements: no separators, no ".." and no NUL.
func (s *Store) resolve(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, norm.NFC.String(name)+Ext)
	if filepath.Dir(path) != s.dir {
		return "", fmt.Errorf("%w: %q resolves outside the checklist directory", apperrors.ErrInvalidName, name)
	}

	return path, nil
}

// ValidateName checks that name can be stored as a single file.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", apperrors.ErrInvalidName)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a null byte", apperrors.ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", apperrors.ErrInvalidName, name)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", apperrors.ErrInvalidName, name)
	}

	return nil
}

// nameFromFile maps a directory entry to a document name. Hidden files,
// temp files and other extensions are not documents.
func nameFromFile(base string) (string, bool) {
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return "", false
	}

	name, ok := strings.CutSuffix(base, Ext)
	if !ok || name == "" {
		return "", false
	}

	return norm.NFC.String(name), true
}
