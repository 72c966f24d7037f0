//go:build !unix

package engine

import (
	"path/filepath"
	"sync"
)

var (
	heldMu sync.Mutex
	held   = map[string]struct{}{}
)

// obtainLock guards the directory within this process only.
func obtainLock(dir string) (func() error, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	heldMu.Lock()
	defer heldMu.Unlock()
	if _, ok := held[abs]; ok {
		return nil, ErrLocked
	}
	held[abs] = struct{}{}
	return func() error {
		heldMu.Lock()
		delete(held, abs)
		heldMu.Unlock()
		return nil
	}, nil
}
