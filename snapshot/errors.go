package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSnapshot is returned by RestoreSnapshot when no candidate could be restored.
	ErrNoSnapshot = errors.New("snapshot: no snapshot restored")

	// ErrVerify is matched by every VerifyError.
	ErrVerify = errors.New("snapshot: verification failed")

	// ErrBusy is returned when a snapshot or restore is already running.
	ErrBusy = errors.New("snapshot: another snapshot is in progress")
)

// VerifyError reports why an archive failed verification.
type VerifyError struct {
	Generation uint64
	Reason     string
	Err        error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshot %08x: %s: %v", e.Generation, e.Reason, e.Err)
	}
	return fmt.Sprintf("snapshot %08x: %s", e.Generation, e.Reason)
}

// Is makes VerifyError match ErrVerify.
func (e *VerifyError) Is(target error) bool { return target == ErrVerify }

func (e *VerifyError) Unwrap() error { return e.Err }
