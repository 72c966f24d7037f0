// Package ingest tracks ingestion progress across storage areas.
//
// A Tracker consumes diagnostic events (see package event) and maintains one
// StorageAreaIngestState per area plus the aggregate StorageIngestState, or a
// SnapshotRestoreState while a snapshot is being restored. Every change is
// published to subscribers.
//
// The tracker also drives the InitializationState gate:
//
//	Started -> Restoring -> Ingesting -> Initialized
//
// The gate only moves forward. WhenState returns a channel that is closed
// once a state (or a later one) has been reached, which is how snapshotting
// waits for a fully loaded index:
//
//	select {
//	case <-tracker.WhenState(ingest.Initialized):
//	case <-ctx.Done():
//	}
package ingest
