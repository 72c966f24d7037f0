package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
)

const commitVersion = 1

// IndexCommit describes one durable generation of the index.
type IndexCommit struct {
	Generation   uint64
	FileName     string
	SegmentFiles []string
	UserData     map[string]string
}

// Files returns every file of the commit: segment and deletion files
// followed by the commit pointer itself.
func (c IndexCommit) Files() []string {
	files := make([]string, 0, len(c.SegmentFiles)+1)
	files = append(files, c.SegmentFiles...)
	return append(files, c.FileName)
}

type commitPoint struct {
	Version       int               `json:"version"`
	Generation    uint64            `json:"generation"`
	NextSegmentID uint64            `json:"next_segment_id"`
	Segments      []commitSegment   `json:"segments"`
	UserData      map[string]string `json:"user_data,omitempty"`
}

type commitSegment struct {
	Name     string `json:"name"`
	DocCount int    `json:"doc_count"`
	DelGen   uint64 `json:"del_gen,omitempty"`
	DelFile  string `json:"del_file,omitempty"`
}

func (cp *commitPoint) indexCommit() IndexCommit {
	c := IndexCommit{
		Generation: cp.Generation,
		FileName:   CommitFileName(cp.Generation),
		UserData:   cp.UserData,
	}
	for _, s := range cp.Segments {
		c.SegmentFiles = append(c.SegmentFiles, s.Name)
		if s.DelFile != "" {
			c.SegmentFiles = append(c.SegmentFiles, s.DelFile)
		}
	}
	return c
}

// segmentRef is a segment as seen by the writer: the immutable segment plus
// its mutable deletions.
type segmentRef struct {
	seg      *segment
	deleted  *roaring.Bitmap
	delGen   uint64
	delDirty bool
}

func (r *segmentRef) live() int {
	return r.seg.docCount() - int(r.deleted.GetCardinality())
}

func (r *segmentRef) delFile() string {
	if r.delGen == 0 {
		return ""
	}
	return deletesFileName(r.seg.id, r.delGen)
}

// DecodeCommit parses the contents of a commit pointer file named name.
func DecodeCommit(name string, data []byte) (IndexCommit, error) {
	gen, ok := ParseCommitFileName(name)
	if !ok {
		return IndexCommit{}, fmt.Errorf("%w: %s is not a commit file", ErrCorrupt, name)
	}
	cp, err := decodeCommitPoint(gen, data)
	if err != nil {
		return IndexCommit{}, err
	}
	return cp.indexCommit(), nil
}

func decodeCommitPoint(gen uint64, data []byte) (*commitPoint, error) {
	var cp commitPoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, CommitFileName(gen), err)
	}
	if cp.Generation != gen {
		return nil, fmt.Errorf("%w: %s: generation %d", ErrCorrupt, CommitFileName(gen), cp.Generation)
	}
	return &cp, nil
}

func readCommitPoint(dir *Directory, gen uint64) (*commitPoint, error) {
	data, err := dir.ReadFile(CommitFileName(gen))
	if err != nil {
		return nil, err
	}
	return decodeCommitPoint(gen, data)
}

// listCommits returns the generations of all commit files, ascending.
func listCommits(dir *Directory) ([]uint64, error) {
	names, err := dir.List()
	if err != nil {
		return nil, err
	}
	var gens []uint64
	for _, name := range names {
		if gen, ok := ParseCommitFileName(name); ok {
			gens = append(gens, gen)
		}
	}
	slices.Sort(gens)
	return gens, nil
}

// loadLatestCommit loads the newest readable commit and its segments. The
// CURRENT marker is tried first; when it is missing or points to an
// unreadable commit the commit files are tried newest first.
func loadLatestCommit(dir *Directory) (*commitPoint, []*segmentRef, error) {
	gens, err := listCommits(dir)
	if err != nil {
		return nil, nil, err
	}
	if len(gens) == 0 {
		return nil, nil, fs.ErrNotExist
	}

	order := make([]uint64, 0, len(gens)+1)
	if hint, ok := dir.ReadCurrentGeneration(); ok && slices.Contains(gens, hint) {
		order = append(order, hint)
	}
	for i := len(gens) - 1; i >= 0; i-- {
		if len(order) > 0 && gens[i] == order[0] {
			continue
		}
		order = append(order, gens[i])
	}

	var errs []error
	for _, gen := range order {
		cp, err := readCommitPoint(dir, gen)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		refs, err := loadSegments(dir, cp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return cp, refs, nil
	}
	return nil, nil, fmt.Errorf("engine: no readable commit in %s: %w", dir.Path(), errors.Join(errs...))
}

func loadSegments(dir *Directory, cp *commitPoint) ([]*segmentRef, error) {
	refs := make([]*segmentRef, 0, len(cp.Segments))
	for _, cs := range cp.Segments {
		var id uint64
		if _, err := fmt.Sscanf(cs.Name, segmentPrefix+"%x.dat", &id); err != nil {
			return nil, fmt.Errorf("%w: segment name %q", ErrCorrupt, cs.Name)
		}
		data, err := dir.ReadFile(cs.Name)
		if err != nil {
			return nil, err
		}
		seg, err := decodeSegment(id, data)
		if err != nil {
			return nil, err
		}
		if seg.docCount() != cs.DocCount {
			return nil, fmt.Errorf("%w: %s has %d documents, commit says %d", ErrCorrupt, cs.Name, seg.docCount(), cs.DocCount)
		}
		ref := &segmentRef{seg: seg, deleted: roaring.New(), delGen: cs.DelGen}
		if cs.DelFile != "" {
			data, err := dir.ReadFile(cs.DelFile)
			if err != nil {
				return nil, err
			}
			if ref.deleted, err = decodeDeletes(cs.DelFile, data); err != nil {
				return nil, err
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// loadRetainedCommits reads every readable commit file up to and including
// latest, oldest first. Unreadable commits are skipped; they are removed as
// unreferenced files.
func loadRetainedCommits(dir *Directory, latest uint64) []IndexCommit {
	gens, err := listCommits(dir)
	if err != nil {
		return nil
	}
	var commits []IndexCommit
	for _, gen := range gens {
		if gen > latest {
			continue
		}
		cp, err := readCommitPoint(dir, gen)
		if err != nil {
			continue
		}
		commits = append(commits, cp.indexCommit())
	}
	return commits
}
