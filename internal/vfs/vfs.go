package vfs

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vc-agent/core/internal/eventbus"
)

// DefaultMaxFileSize is the default per-file content cap (10 MiB),
// per spec §4.2.
const DefaultMaxFileSize = 10 * 1024 * 1024

// ChangePayload is the payload of a VFSChange event.
type ChangePayload struct {
	Path      string `json:"path"`
	Operation string `json:"operation"` // "write" or "delete"
	VersionID string `json:"version_id,omitempty"`
	Author    string `json:"author,omitempty"`
}

// VFS is a content-addressed, versioned mapping from relative path to
// current content plus history. Implementations are safe for
// concurrent use.
type VFS interface {
	Read(path string) ([]byte, bool, error)
	Write(path string, content []byte, author string) (FileVersion, error)
	Delete(path string, author string) (string, error)
	List() ([]string, error)
	GetVersion(id string) (FileVersion, bool, error)
	Diff(idA, idB string) (DiffResult, error)
	Snapshot(author string) (string, error)
	GetSnapshot(id string) (Snapshot, bool, error)
}

// Config configures a VFS instance.
type Config struct {
	// Base is the directory every path is resolved and (for the disk
	// backend) persisted against.
	Base string
	// MaxFileSize bounds a single write's content length. Zero means
	// DefaultMaxFileSize.
	MaxFileSize int
	// Bus, if set, receives VFSChange events for every write/delete.
	Bus *eventbus.Bus
}

func (c *Config) maxFileSize() int {
	if c.MaxFileSize > 0 {
		return c.MaxFileSize
	}
	return DefaultMaxFileSize
}

// memVFS is the in-memory VFS implementation: no backing disk store,
// versions and snapshots live only for the process lifetime.
type memVFS struct {
	mu        sync.RWMutex
	cfg       Config
	files     map[string]string // path -> current version id
	versions  map[string]FileVersion
	snapshots map[string]Snapshot
	entropy   *ulid.MonotonicEntropy
}

// NewMemory constructs an in-memory VFS. cfg.Base is still required and
// used purely for path-safety resolution (ResolvePath), since callers
// supply relative paths that must stay contained within a notional
// root even when nothing is written to disk.
func NewMemory(cfg Config) VFS {
	return &memVFS{
		cfg:       cfg,
		files:     make(map[string]string),
		versions:  make(map[string]FileVersion),
		snapshots: make(map[string]Snapshot),
		entropy:   ulid.Monotonic(newEntropySource(), 0),
	}
}

func (m *memVFS) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

func (m *memVFS) Read(path string) ([]byte, bool, error) {
	if _, err := ResolvePath(m.cfg.Base, path); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	vid, ok := m.files[path]
	if !ok {
		return nil, false, nil
	}
	v := m.versions[vid]
	out := make([]byte, len(v.Content))
	copy(out, v.Content)
	return out, true, nil
}

func (m *memVFS) Write(path string, content []byte, author string) (FileVersion, error) {
	if _, err := ResolvePath(m.cfg.Base, path); err != nil {
		return FileVersion{}, err
	}
	if max := m.cfg.maxFileSize(); len(content) > max {
		return FileVersion{}, &SizeError{Path: path, Size: len(content), MaxSize: max}
	}

	m.mu.Lock()
	var previous string
	if vid, ok := m.files[path]; ok {
		previous = vid
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	fv := FileVersion{
		ID:         m.newID(),
		Path:       path,
		Content:    stored,
		Timestamp:  time.Now(),
		Author:     author,
		PreviousID: previous,
		Hash:       hashContent(stored),
	}
	m.versions[fv.ID] = fv
	m.files[path] = fv.ID
	m.mu.Unlock()

	m.emitChange(path, "write", fv.ID, author)
	return fv, nil
}

func (m *memVFS) Delete(path string, author string) (string, error) {
	if _, err := ResolvePath(m.cfg.Base, path); err != nil {
		return "", err
	}
	m.mu.Lock()
	_, existed := m.files[path]
	delete(m.files, path)
	m.mu.Unlock()

	if existed {
		m.emitChange(path, "delete", "", author)
	}
	return path, nil
}

func (m *memVFS) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	return out, nil
}

func (m *memVFS) GetVersion(id string) (FileVersion, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[id]
	return v, ok, nil
}

func (m *memVFS) Diff(idA, idB string) (DiffResult, error) {
	m.mu.RLock()
	a, okA := m.versions[idA]
	b, okB := m.versions[idB]
	m.mu.RUnlock()
	if !okA {
		return DiffResult{}, fmt.Errorf("vfs_error: unknown version %s", idA)
	}
	if !okB {
		return DiffResult{}, fmt.Errorf("vfs_error: unknown version %s", idB)
	}
	return DiffResult{
		FromID:    idA,
		ToID:      idB,
		FromBytes: len(a.Content),
		ToBytes:   len(b.Content),
		Identical: a.Hash == b.Hash,
	}, nil
}

func (m *memVFS) Snapshot(author string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := make(map[string][]byte, len(m.files))
	for path, vid := range m.files {
		v := m.versions[vid]
		c := make([]byte, len(v.Content))
		copy(c, v.Content)
		files[path] = c
	}
	snap := Snapshot{
		ID:        m.newID(),
		Timestamp: time.Now(),
		Author:    author,
		Files:     files,
	}
	m.snapshots[snap.ID] = snap
	return snap.ID, nil
}

func (m *memVFS) GetSnapshot(id string) (Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	return s, ok, nil
}

func (m *memVFS) emitChange(path, op, versionID, author string) {
	if m.cfg.Bus == nil {
		return
	}
	m.cfg.Bus.Emit(eventbus.KindVFSChange, ChangePayload{
		Path:      path,
		Operation: op,
		VersionID: versionID,
		Author:    author,
	}, nil)
}
