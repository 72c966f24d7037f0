package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a diagnostic event. The unexported method closes the set.
type Event interface {
	Time() time.Time
	event()
}

// Generation is an area's change-generation pair.
type Generation struct {
	Current int64 `json:"current"`
	Latest  int64 `json:"latest"`
}

// AreaEventKind is the lifecycle step reported by a storage area.
type AreaEventKind int

const (
	AreaStarting AreaEventKind = iota + 1
	AreaInitializing
	AreaInitialized
	AreaUpdating
	AreaUpdated
	AreaStopped
)

func (k AreaEventKind) String() string {
	switch k {
	case AreaStarting:
		return "starting"
	case AreaInitializing:
		return "initializing"
	case AreaInitialized:
		return "initialized"
	case AreaUpdating:
		return "updating"
	case AreaUpdated:
		return "updated"
	case AreaStopped:
		return "stopped"
	default:
		return fmt.Sprintf("AreaEventKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k AreaEventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode to 0.
func (k *AreaEventKind) UnmarshalText(b []byte) error {
	*k = 0
	for c := AreaStarting; c <= AreaStopped; c++ {
		if c.String() == string(b) {
			*k = c
		}
	}
	return nil
}

// ChangeKind is the kind of a document-level change.
type ChangeKind int

const (
	Created ChangeKind = iota + 1
	Updated
	Deleted
	DigestCompleted
	Reset
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	case DigestCompleted:
		return "digest-completed"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// AreaEvent reports a lifecycle step of one storage area.
type AreaEvent struct {
	At         time.Time
	Area       string
	Kind       AreaEventKind
	Generation Generation
}

// DocumentEvent reports a document change read from an area.
type DocumentEvent struct {
	At         time.Time
	Area       string
	Kind       ChangeKind
	Key        string
	Size       int64
	Generation Generation
}

// FileInfo names one file of a snapshot.
type FileInfo struct {
	Name string
	Size int64
}

// RestoreStarted is published when a snapshot candidate passed verification
// and its files are about to be copied.
type RestoreStarted struct {
	At         time.Time
	RunID      uuid.UUID
	Generation uint64
	Files      []FileInfo
}

// FileRestoreStatus is the state of a single file during restore.
type FileRestoreStatus int

const (
	FilePending FileRestoreStatus = iota
	FileCopying
	FileCompleted
	FileFailed
)

func (s FileRestoreStatus) String() string {
	switch s {
	case FilePending:
		return "pending"
	case FileCopying:
		return "copying"
	case FileCompleted:
		return "completed"
	case FileFailed:
		return "failed"
	default:
		return fmt.Sprintf("FileRestoreStatus(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s FileRestoreStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// FileRestoreProgress reports progress of one file during restore.
type FileRestoreProgress struct {
	At          time.Time
	RunID       uuid.UUID
	Generation  uint64
	File        string
	Status      FileRestoreStatus
	BytesCopied int64
	BytesTotal  int64
}

// RestoreCompleted ends a restore attempt of one candidate. Err is nil on success.
type RestoreCompleted struct {
	At         time.Time
	RunID      uuid.UUID
	Generation uint64
	Err        error
}

// CommitEvent reports a commit attempt.
type CommitEvent struct {
	At           time.Time
	Generation   uint64
	Writes       int64
	Duration     time.Duration
	Err          error
	LeaseExpired bool
}

// SnapshotEvent reports a snapshot attempt.
type SnapshotEvent struct {
	At         time.Time
	RunID      uuid.UUID
	Generation uint64
	Files      int
	Bytes      int64
	Duration   time.Duration
	Err        error
}

// ErrorEvent reports a recoverable failure that was logged and skipped.
type ErrorEvent struct {
	At        time.Time
	Component string
	Message   string
	Err       error
}

func (e AreaEvent) Time() time.Time           { return e.At }
func (e DocumentEvent) Time() time.Time       { return e.At }
func (e RestoreStarted) Time() time.Time      { return e.At }
func (e FileRestoreProgress) Time() time.Time { return e.At }
func (e RestoreCompleted) Time() time.Time    { return e.At }
func (e CommitEvent) Time() time.Time         { return e.At }
func (e SnapshotEvent) Time() time.Time       { return e.At }
func (e ErrorEvent) Time() time.Time          { return e.At }

func (AreaEvent) event()           {}
func (DocumentEvent) event()       {}
func (RestoreStarted) event()      {}
func (FileRestoreProgress) event() {}
func (RestoreCompleted) event()    {}
func (CommitEvent) event()         {}
func (SnapshotEvent) event()       {}
func (ErrorEvent) event()          {}
