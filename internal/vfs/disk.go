package vfs

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vc-agent/core/internal/eventbus"
)

// Persisted state layout, per spec §6.4:
//
//	<base>/files/      current file tree (UTF-8 content on disk)
//	<base>/versions/    <versionId>.json FileVersion records
//	<base>/snapshots/   <snapshotId>.json path->content maps
const (
	filesDirName     = "files"
	versionsDirName  = "versions"
	snapshotsDirName = "snapshots"
)

// diskVFS is the persistent VFS backend: every Write and Snapshot is
// durable via atomic temp-file-then-rename, Delete removes the file
// from files/, and startup scans the files directory tree to
// synthesize a FileVersion per file.
type diskVFS struct {
	mu        sync.RWMutex
	cfg       Config
	files     map[string]string // path -> current version id
	versions  map[string]FileVersion
	snapshots map[string]Snapshot
	entropy   *ulid.MonotonicEntropy
}

// NewDisk constructs a persistent VFS rooted at cfg.Base, creating the
// files/versions/snapshots directory layout if absent and replaying any
// existing versions/snapshots plus synthesizing a FileVersion for every
// file already present under files/.
func NewDisk(cfg Config) (VFS, error) {
	if cfg.Base == "" {
		return nil, fmt.Errorf("vfs_error: Base directory required")
	}
	for _, dir := range []string{filesDirName, versionsDirName, snapshotsDirName} {
		if err := os.MkdirAll(filepath.Join(cfg.Base, dir), 0o755); err != nil {
			return nil, fmt.Errorf("vfs_error: create %s dir: %w", dir, err)
		}
	}

	d := &diskVFS{
		cfg:       cfg,
		files:     make(map[string]string),
		versions:  make(map[string]FileVersion),
		snapshots: make(map[string]Snapshot),
		entropy:   ulid.Monotonic(newEntropySource(), 0),
	}
	if err := d.loadVersions(); err != nil {
		return nil, err
	}
	if err := d.loadSnapshots(); err != nil {
		return nil, err
	}
	if err := d.bootstrapFromFilesDir(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *diskVFS) loadVersions() error {
	dir := filepath.Join(d.cfg.Base, versionsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("vfs_error: read versions dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var v FileVersion
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		d.versions[v.ID] = v
		// A path whose file is gone from files/ was deleted: its
		// versions stay retrievable by id, but it gets no current
		// mapping.
		if _, err := os.Stat(filepath.Join(d.cfg.Base, filesDirName, filepath.FromSlash(v.Path))); err != nil {
			continue
		}
		// The version with the latest timestamp for a path wins,
		// whatever order the records are loaded in.
		if cur, ok := d.files[v.Path]; !ok || d.versions[cur].Timestamp.Before(v.Timestamp) {
			d.files[v.Path] = v.ID
		}
	}
	return nil
}

func (d *diskVFS) loadSnapshots() error {
	dir := filepath.Join(d.cfg.Base, snapshotsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("vfs_error: read snapshots dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		d.snapshots[s.ID] = s
	}
	return nil
}

// bootstrapFromFilesDir scans the files/ tree and synthesizes a
// FileVersion (author="disk-load", timestamp=mtime) for any file not
// already accounted for by a loaded version record, per spec §4.2
// ("Startup scans a files-directory tree and synthesizes a FileVersion
// per file").
func (d *diskVFS) bootstrapFromFilesDir() error {
	root := filepath.Join(d.cfg.Base, filesDirName)
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, ok := d.files[rel]; ok {
			return nil // already reconciled from a loaded version record
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("vfs_error: read %s: %w", rel, err)
		}
		fv := FileVersion{
			ID:        d.newID(),
			Path:      rel,
			Content:   content,
			Timestamp: info.ModTime(),
			Author:    "disk-load",
			Hash:      hashContent(content),
		}
		d.versions[fv.ID] = fv
		d.files[rel] = fv.ID
		return nil
	})
}

func (d *diskVFS) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), d.entropy).String()
}

func (d *diskVFS) Read(path string) ([]byte, bool, error) {
	if _, err := ResolvePath(d.cfg.Base, path); err != nil {
		return nil, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	vid, ok := d.files[path]
	if !ok {
		return nil, false, nil
	}
	v := d.versions[vid]
	out := make([]byte, len(v.Content))
	copy(out, v.Content)
	return out, true, nil
}

func (d *diskVFS) Write(path string, content []byte, author string) (FileVersion, error) {
	resolved, err := ResolvePath(d.cfg.Base, path)
	if err != nil {
		return FileVersion{}, err
	}
	if max := d.cfg.maxFileSize(); len(content) > max {
		return FileVersion{}, &SizeError{Path: path, Size: len(content), MaxSize: max}
	}

	d.mu.Lock()
	var previous string
	if vid, ok := d.files[path]; ok {
		previous = vid
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	fv := FileVersion{
		ID:         d.newID(),
		Path:       path,
		Content:    stored,
		Timestamp:  time.Now(),
		Author:     author,
		PreviousID: previous,
		Hash:       hashContent(stored),
	}

	if err := atomicWriteFile(resolved, stored, 0o644); err != nil {
		d.mu.Unlock()
		return FileVersion{}, fmt.Errorf("vfs_error: persist file: %w", err)
	}
	versionPath := filepath.Join(d.cfg.Base, versionsDirName, fv.ID+".json")
	vdata, err := json.Marshal(fv)
	if err != nil {
		d.mu.Unlock()
		return FileVersion{}, fmt.Errorf("vfs_error: marshal version: %w", err)
	}
	if err := atomicWriteFile(versionPath, vdata, 0o644); err != nil {
		d.mu.Unlock()
		return FileVersion{}, fmt.Errorf("vfs_error: persist version: %w", err)
	}

	d.versions[fv.ID] = fv
	d.files[path] = fv.ID
	d.mu.Unlock()

	d.emitChange(path, "write", fv.ID, author)
	return fv, nil
}

func (d *diskVFS) Delete(path string, author string) (string, error) {
	resolved, err := ResolvePath(d.cfg.Base, path)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	_, existed := d.files[path]
	delete(d.files, path)
	if existed {
		if rmErr := os.Remove(resolved); rmErr != nil && !os.IsNotExist(rmErr) {
			d.mu.Unlock()
			return "", fmt.Errorf("vfs_error: remove file: %w", rmErr)
		}
	}
	d.mu.Unlock()

	if existed {
		d.emitChange(path, "delete", "", author)
	}
	return path, nil
}

func (d *diskVFS) List() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.files))
	for p := range d.files {
		out = append(out, p)
	}
	return out, nil
}

func (d *diskVFS) GetVersion(id string) (FileVersion, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.versions[id]
	return v, ok, nil
}

func (d *diskVFS) Diff(idA, idB string) (DiffResult, error) {
	d.mu.RLock()
	a, okA := d.versions[idA]
	b, okB := d.versions[idB]
	d.mu.RUnlock()
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

func (d *diskVFS) Snapshot(author string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	files := make(map[string][]byte, len(d.files))
	for path, vid := range d.files {
		v := d.versions[vid]
		c := make([]byte, len(v.Content))
		copy(c, v.Content)
		files[path] = c
	}
	snap := Snapshot{
		ID:        d.newID(),
		Timestamp: time.Now(),
		Author:    author,
		Files:     files,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("vfs_error: marshal snapshot: %w", err)
	}
	path := filepath.Join(d.cfg.Base, snapshotsDirName, snap.ID+".json")
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("vfs_error: persist snapshot: %w", err)
	}

	d.snapshots[snap.ID] = snap
	return snap.ID, nil
}

func (d *diskVFS) GetSnapshot(id string) (Snapshot, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.snapshots[id]
	return s, ok, nil
}

func (d *diskVFS) emitChange(path, op, versionID, author string) {
	if d.cfg.Bus == nil {
		return
	}
	d.cfg.Bus.Emit(eventbus.KindVFSChange, ChangePayload{
		Path:      path,
		Operation: op,
		VersionID: versionID,
		Author:    author,
	}, nil)
}

// atomicWriteFile writes data to a randomized temp file alongside path
// and renames it over path, so readers never observe a partial write.
// On any failure the temp file is unlinked.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp-" + randomSuffix()
	if err := os.WriteFile(tmp, data, perm); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// newEntropySource returns the entropy reader used to seed monotonic
// ULID generation for FileVersion and Snapshot IDs.
func newEntropySource() io.Reader {
	return rand.Reader
}

func randomSuffix() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
