package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/jsonindex/internal/fs"
)

const (
	// CurrentFileName is the generation marker file.
	CurrentFileName = "CURRENT"

	// LockFileName is the advisory lock file held by an open writer.
	LockFileName = "write.lock"

	commitPrefix  = "commit_"
	segmentPrefix = "seg_"
	tmpSuffix     = ".tmp"
)

// CommitFileName returns the commit pointer file name for a generation.
func CommitFileName(gen uint64) string {
	return fmt.Sprintf("%s%08x", commitPrefix, gen)
}

// ParseCommitFileName extracts the generation from a commit pointer file name.
func ParseCommitFileName(name string) (uint64, bool) {
	hex, ok := strings.CutPrefix(name, commitPrefix)
	if !ok || hex == "" || strings.HasSuffix(hex, tmpSuffix) {
		return 0, false
	}
	gen, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// IsCommitFile reports whether name is a commit pointer file.
func IsCommitFile(name string) bool {
	_, ok := ParseCommitFileName(name)
	return ok
}

func segmentFileName(id uint64) string {
	return fmt.Sprintf("%s%08x.dat", segmentPrefix, id)
}

func deletesFileName(id, delGen uint64) string {
	return fmt.Sprintf("%s%08x_%x.del", segmentPrefix, id, delGen)
}

// isEngineFile reports whether the engine owns name and may delete it.
func isEngineFile(name string) bool {
	return strings.HasPrefix(name, segmentPrefix) || strings.HasPrefix(name, commitPrefix)
}

// Directory is the storage location of one index.
type Directory struct {
	fs   fs.FileSystem
	path string
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithFileSystem sets the file system used by the directory.
func WithFileSystem(fsys fs.FileSystem) DirectoryOption {
	return func(d *Directory) {
		if fsys != nil {
			d.fs = fsys
		}
	}
}

// OpenDirectory opens (creating if needed) the index directory at path.
func OpenDirectory(path string, optFns ...DirectoryOption) (*Directory, error) {
	d := &Directory{fs: fs.Default, path: path}
	for _, fn := range optFns {
		fn(d)
	}
	if err := d.fs.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("engine: open directory %s: %w", path, err)
	}
	return d, nil
}

// Path returns the directory path.
func (d *Directory) Path() string { return d.path }

// FileSystem returns the underlying file system.
func (d *Directory) FileSystem() fs.FileSystem { return d.fs }

func (d *Directory) join(name string) string { return filepath.Join(d.path, name) }

// List returns the names of all regular files, sorted.
func (d *Directory) List() ([]string, error) {
	entries, err := d.fs.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// Open opens a file for reading.
func (d *Directory) Open(name string) (fs.File, error) {
	return d.fs.OpenFile(d.join(name), os.O_RDONLY, 0)
}

// Create creates or truncates a file for writing.
func (d *Directory) Create(name string) (fs.File, error) {
	return d.fs.OpenFile(d.join(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// ReadFile reads a whole file.
func (d *Directory) ReadFile(name string) ([]byte, error) {
	f, err := d.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile creates name with data and syncs it.
func (d *Directory) WriteFile(name string, data []byte) error {
	f, err := d.Create(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteFileAtomic replaces name with data via a temporary file and rename.
func (d *Directory) WriteFileAtomic(name string, data []byte) error {
	return fs.WriteFileAtomic(d.fs, d.join(name), data)
}

// Size returns the size of a file in bytes.
func (d *Directory) Size(name string) (int64, error) {
	info, err := d.fs.Stat(d.join(name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes a file.
func (d *Directory) Remove(name string) error {
	return d.fs.Remove(d.join(name))
}

// Clear deletes every file and subdirectory except the lock file.
func (d *Directory) Clear() error {
	entries, err := d.fs.ReadDir(d.path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == LockFileName {
			continue
		}
		if err := d.fs.RemoveAll(d.join(e.Name())); err != nil {
			return fmt.Errorf("engine: clear %s: %w", e.Name(), err)
		}
	}
	return d.Sync()
}

// Sync makes file creations, renames and removals durable.
func (d *Directory) Sync() error {
	return fs.SyncDir(d.fs, d.path)
}

// ReadCurrentGeneration reads the generation marker. ok is false when the
// marker is missing or unreadable.
func (d *Directory) ReadCurrentGeneration() (gen uint64, ok bool) {
	data, err := d.ReadFile(CurrentFileName)
	if err != nil {
		return 0, false
	}
	gen, err = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// WriteCurrentGeneration atomically replaces the generation marker.
func (d *Directory) WriteCurrentGeneration(gen uint64) error {
	return d.WriteFileAtomic(CurrentFileName, []byte(strconv.FormatUint(gen, 10)))
}
