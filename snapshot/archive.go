package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/jsonindex/engine"
)

// archiveWriter writes zstd-compressed entries into a zip container.
type archiveWriter struct {
	zw       *zip.Writer
	modified time.Time
}

func newArchiveWriter(w io.Writer, modified time.Time) *archiveWriter {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor(zstd.WithEncoderLevel(zstd.SpeedDefault)))
	return &archiveWriter{zw: zw, modified: modified}
}

// add writes one entry and returns the number of uncompressed bytes.
func (a *archiveWriter) add(name string, r io.Reader) (int64, error) {
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zstd.ZipMethodWinZip,
		Modified: a.modified,
	})
	if err != nil {
		return 0, err
	}
	return io.Copy(w, r)
}

func (a *archiveWriter) close() error {
	return a.zw.Close()
}

// blobReader records the first failed read of the underlying blob. A read
// past the end is not a failure: it means the archive is truncated.
type blobReader struct {
	r io.ReaderAt

	mu  sync.Mutex
	err error
}

func (b *blobReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := b.r.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		b.mu.Lock()
		if b.err == nil {
			b.err = err
		}
		b.mu.Unlock()
	}
	return n, err
}

func (b *blobReader) failure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// archive is an opened, structurally checked snapshot archive.
type archive struct {
	gen        uint64
	src        *blobReader
	commit     *zip.File
	commitData []byte
	manifest   *zip.File
	files      map[string]*zip.File
}

// openArchive reads the archive directory. It fails with a *VerifyError when
// the container is malformed, an entry name is not a plain file name, or
// the archive does not hold exactly one commit pointer. Failed blob reads are
// returned as they are.
func openArchive(gen uint64, r io.ReaderAt, size int64) (*archive, error) {
	src := &blobReader{r: r}
	zr, err := zip.NewReader(src, size)
	if err != nil {
		return nil, readFailure(gen, src, "unreadable archive", err)
	}
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	a := &archive{gen: gen, src: src, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		name := f.Name
		if name == "" || name != path.Base(name) || name == "." || name == ".." {
			return nil, &VerifyError{Generation: gen, Reason: fmt.Sprintf("invalid entry name %q", name)}
		}
		switch {
		case name == manifestName:
			a.manifest = f
		case engine.IsCommitFile(name):
			if a.commit != nil {
				return nil, &VerifyError{Generation: gen, Reason: "more than one commit pointer"}
			}
			a.commit = f
		default:
			if _, dup := a.files[name]; dup {
				return nil, &VerifyError{Generation: gen, Reason: fmt.Sprintf("duplicate entry %s", name)}
			}
			a.files[name] = f
		}
	}
	if a.commit == nil {
		return nil, &VerifyError{Generation: gen, Reason: "no commit pointer"}
	}
	return a, nil
}

// verify decodes the commit pointer and checks that it belongs to the
// archive's generation and that every file it names is present.
func (a *archive) verify() (engine.IndexCommit, error) {
	data, err := readEntry(a.commit)
	if err != nil {
		return engine.IndexCommit{}, readFailure(a.gen, a.src, "unreadable commit pointer", err)
	}
	c, err := engine.DecodeCommit(a.commit.Name, data)
	if err != nil {
		return engine.IndexCommit{}, &VerifyError{Generation: a.gen, Reason: "invalid commit pointer", Err: err}
	}
	if c.Generation != a.gen {
		return engine.IndexCommit{}, &VerifyError{
			Generation: a.gen,
			Reason:     fmt.Sprintf("commit generation %08x does not match archive", c.Generation),
		}
	}
	for _, name := range c.SegmentFiles {
		if _, ok := a.files[name]; !ok {
			return engine.IndexCommit{}, &VerifyError{Generation: a.gen, Reason: fmt.Sprintf("missing file %s", name)}
		}
	}
	a.commitData = data
	return c, nil
}

// dataFiles returns every entry except the commit pointer and the manifest,
// sorted by name.
func (a *archive) dataFiles() []*zip.File {
	files := make([]*zip.File, 0, len(a.files))
	for _, f := range a.files {
		files = append(files, f)
	}
	slices.SortFunc(files, func(x, y *zip.File) int {
		return strings.Compare(x.Name, y.Name)
	})
	return files
}

// manifestData returns the manifest entry, or nil when it is missing,
// unreadable or not JSON. Restores do not depend on it.
func (a *archive) manifestData() json.RawMessage {
	if a.manifest == nil {
		return nil
	}
	data, err := readEntry(a.manifest)
	if err != nil || !json.Valid(data) {
		return nil
	}
	return data
}

// readFailure classifies err from reading the archive. It is a storage
// error when the blob itself failed to read and a *VerifyError otherwise.
func readFailure(gen uint64, src *blobReader, reason string, err error) error {
	if ioErr := src.failure(); ioErr != nil {
		return fmt.Errorf("snapshot %08x: %s: %w", gen, reason, ioErr)
	}
	return &VerifyError{Generation: gen, Reason: reason, Err: err}
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
