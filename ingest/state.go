package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/jsonindex/event"
)

// InitializationState is the global initialization milestone.
type InitializationState int

const (
	Started InitializationState = iota
	Restoring
	Ingesting
	Initialized
)

func (s InitializationState) String() string {
	switch s {
	case Started:
		return "started"
	case Restoring:
		return "restoring"
	case Ingesting:
		return "ingesting"
	case Initialized:
		return "initialized"
	default:
		return fmt.Sprintf("InitializationState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s InitializationState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StorageAreaIngestState is the ingestion progress of one area.
type StorageAreaIngestState struct {
	Area           string              `json:"area"`
	StartTime      time.Time           `json:"start_time"`
	Duration       time.Duration       `json:"duration"`
	IngestedCount  int64               `json:"ingested_count"`
	UpdatedCount   int64               `json:"updated_count"`
	UpdateCycles   int64               `json:"update_cycles"`
	UpdateDuration time.Duration       `json:"update_duration"`
	LastEvent      event.AreaEventKind `json:"last_event"`
	Generation     event.Generation    `json:"generation"`
	BytesLoaded    int64               `json:"bytes_loaded"`
}

// StorageIngestState aggregates all areas.
type StorageIngestState struct {
	StartTime     time.Time                `json:"start_time"`
	Duration      time.Duration            `json:"duration"`
	IngestedCount int64                    `json:"ingested_count"`
	UpdatedCount  int64                    `json:"updated_count"`
	BytesLoaded   int64                    `json:"bytes_loaded"`
	Generation    event.Generation         `json:"generation"`
	Areas         []StorageAreaIngestState `json:"areas"`
}

// Cursors returns the current generation of every area.
func (s StorageIngestState) Cursors() map[string]int64 {
	out := make(map[string]int64, len(s.Areas))
	for _, a := range s.Areas {
		out[a.Area] = a.Generation.Current
	}
	return out
}

// Area returns the state of one area.
func (s StorageIngestState) Area(name string) (StorageAreaIngestState, bool) {
	for _, a := range s.Areas {
		if a.Area == name {
			return a, true
		}
	}
	return StorageAreaIngestState{}, false
}

// DecodeManifest decodes a snapshot manifest. Restore correctness never
// depends on it; callers fall back to an empty state on error.
func DecodeManifest(data []byte) (StorageIngestState, error) {
	var s StorageIngestState
	if len(data) == 0 {
		return s, fmt.Errorf("ingest: empty manifest")
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return StorageIngestState{}, fmt.Errorf("ingest: decode manifest: %w", err)
	}
	return s, nil
}

// FileRestoreState is the progress of one file during restore.
type FileRestoreState struct {
	Name        string                  `json:"name"`
	Status      event.FileRestoreStatus `json:"status"`
	BytesCopied int64                   `json:"bytes_copied"`
	BytesTotal  int64                   `json:"bytes_total"`
}

// SnapshotRestoreState is the progress of a restore run.
type SnapshotRestoreState struct {
	RunID       uuid.UUID          `json:"run_id"`
	Generation  uint64             `json:"generation"`
	StartTime   time.Time          `json:"start_time"`
	Duration    time.Duration      `json:"duration"`
	Files       []FileRestoreState `json:"files"`
	BytesCopied int64              `json:"bytes_copied"`
	BytesTotal  int64              `json:"bytes_total"`
	Completed   bool               `json:"completed"`
	Error       string             `json:"error,omitempty"`
}

// Progress is published to subscribers after every tracked event. Exactly
// one of Ingest and Restore is set.
type Progress struct {
	State   InitializationState
	Ingest  *StorageIngestState
	Restore *SnapshotRestoreState
}
