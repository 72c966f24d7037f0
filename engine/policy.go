package engine

import (
	"sync"
)

// DeletionPolicy decides which commits may be deleted after a commit.
type DeletionPolicy interface {
	// OnCommit is called with the retained commits, oldest first, and returns
	// the commits that may be deleted.
	OnCommit(commits []IndexCommit) []IndexCommit
}

// KeepLastCommit retains only the newest commit.
type KeepLastCommit struct{}

// OnCommit implements DeletionPolicy.
func (KeepLastCommit) OnCommit(commits []IndexCommit) []IndexCommit {
	if len(commits) <= 1 {
		return nil
	}
	return commits[:len(commits)-1]
}

// SnapshotPolicy wraps a DeletionPolicy and retains pinned commits until they
// are released. Pins are counted per generation. A SnapshotPolicy may be
// shared by successive writers on the same directory; pins outlive the writer
// that created them.
type SnapshotPolicy struct {
	primary DeletionPolicy

	mu     sync.Mutex
	pinned map[uint64]int
}

// NewSnapshotPolicy wraps primary. A nil primary means KeepLastCommit.
func NewSnapshotPolicy(primary DeletionPolicy) *SnapshotPolicy {
	if primary == nil {
		primary = KeepLastCommit{}
	}
	return &SnapshotPolicy{primary: primary, pinned: make(map[uint64]int)}
}

// OnCommit implements DeletionPolicy.
func (p *SnapshotPolicy) OnCommit(commits []IndexCommit) []IndexCommit {
	candidates := p.primary.OnCommit(commits)

	p.mu.Lock()
	defer p.mu.Unlock()

	out := candidates[:0:0]
	for _, c := range candidates {
		if p.pinned[c.Generation] > 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Pinned returns the pinned generations and their pin counts.
func (p *SnapshotPolicy) Pinned() map[uint64]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[uint64]int, len(p.pinned))
	for gen, n := range p.pinned {
		out[gen] = n
	}
	return out
}

func (p *SnapshotPolicy) pin(gen uint64) {
	p.mu.Lock()
	p.pinned[gen]++
	p.mu.Unlock()
}

func (p *SnapshotPolicy) release(gen uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.pinned[gen]
	if !ok {
		return ErrNotPinned
	}
	if n <= 1 {
		delete(p.pinned, gen)
	} else {
		p.pinned[gen] = n - 1
	}
	return nil
}
