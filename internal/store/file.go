package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/kirsle/configdir"

	"github.com/ytget/ytcipher/internal/logger"
	"github.com/ytget/ytcipher/youtube/cipher"
)

const (
	appName         = "ytcipher"
	defaultFileName = "ciphers.json"
	dirMode         = 0o755
	fileMode        = fs.FileMode(0o644)
)

// Stores opened on the same path share a lock, so two FileStores in one
// process cannot interleave a read-merge-write.
var (
	locksMu sync.Mutex
	locks   = make(map[string]*sync.RWMutex)
)

func lockFor(path string) *sync.RWMutex {
	locksMu.Lock()
	defer locksMu.Unlock()
	l, ok := locks[path]
	if !ok {
		l = &sync.RWMutex{}
		locks[path] = l
	}
	return l
}

// DefaultPath returns ciphers.json under the per-user cache directory.
func DefaultPath() string {
	return filepath.Join(configdir.LocalCache(appName), defaultFileName)
}

// FileStore keeps every release's program in one JSON object
// {"<release id>": "<encoded program>"}. The directory and file are created on
// the first Put.
type FileStore struct {
	path string
	mu   *sync.RWMutex
}

// NewFileStore creates a store backed by path. An empty path selects
// DefaultPath.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	return &FileStore{path: abs, mu: lockFor(abs)}, nil
}

// Path returns the absolute file location.
func (s *FileStore) Path() string { return s.path }

// Lookup returns the program stored for releaseID. A missing, empty or
// undecodable file, or an undecodable entry, is a miss.
func (s *FileStore) Lookup(releaseID string) (cipher.Program, bool) {
	log := logger.WithComponent(logger.ComponentStore)
	s.mu.RLock()
	entries, err := s.read()
	s.mu.RUnlock()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Debug("store unreadable, treating as miss", map[string]any{"path": s.path, "error": err.Error()})
		}
		return nil, false
	}
	enc, ok := entries[releaseID]
	if !ok {
		return nil, false
	}
	p, err := cipher.ParseProgram(enc)
	if err != nil {
		log.Debug("stored program undecodable, treating as miss", map[string]any{"release": releaseID, "error": err.Error()})
		return nil, false
	}
	return p, true
}

// Put records p for releaseID, keeping every other entry in the file.
func (s *FileStore) Put(releaseID string, p cipher.Program) error {
	if releaseID == "" {
		return cipher.NewError(cipher.ErrCodeStoreWriteFailed, "empty release id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		entries = make(map[string]string)
	default:
		logger.WithComponent(logger.ComponentStore).Warn("replacing unreadable store file", map[string]any{
			"path":  s.path,
			"error": err.Error(),
		})
		entries = make(map[string]string)
	}
	entries[releaseID] = p.Encode()

	if err := s.write(entries); err != nil {
		return cipher.NewError(cipher.ErrCodeStoreWriteFailed, "write store file", map[string]any{"path": s.path}).Wrap(err)
	}
	logger.WithComponent(logger.ComponentStore).Debug("stored program", map[string]any{"release": releaseID, "entries": len(entries)})
	return nil
}

// Entry is one stored release.
type Entry struct {
	ReleaseID string `json:"release_id"`
	Program   string `json:"program"`
}

// Entries lists the raw stored mapping sorted by release id. A missing file
// yields no entries.
func (s *FileStore) Entries() ([]Entry, error) {
	s.mu.RLock()
	entries, err := s.read()
	s.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for id, enc := range entries {
		out = append(out, Entry{ReleaseID: id, Program: enc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseID < out[j].ReleaseID })
	return out, nil
}

var errEmptyFile = errors.New("store file is empty")

// read must be called with the lock held.
func (s *FileStore) read() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, errEmptyFile
	}
	var entries map[string]string
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode store file: %w", err)
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	return entries, nil
}

// write must be called with the write lock held.
func (s *FileStore) write(entries map[string]string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, fileMode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
