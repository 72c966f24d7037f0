// Package jsonindex provides an embeddable full-text index for JSON documents
// with snapshot backup and restore.
//
// Documents belong to areas, logical partitions of a change stream that each
// carry their own generation counter. An Index maps every document to
// indexed fields, buffers writes in a single writer and commits them on a
// throttled schedule. A Manager connects an Index to a source.Source: it
// restores the newest snapshot on startup, resumes ingestion from the
// restored cursors and takes snapshots once the initial load is complete.
//
// # Quick Start
//
//	idx, _ := jsonindex.Open("./data/index",
//		jsonindex.WithSnapshotStore(blobstore.NewLocalStore("./data/snapshots")),
//	)
//	defer idx.Close()
//
//	_ = idx.Create(ctx, "articles", json.RawMessage(`{"id":"1","title":"hello world"}`))
//	hits, _ := idx.Search(ctx, "title:hello", 10)
//
// # Driving an index from a change stream
//
//	src := source.NewMemory([]string{"articles"}, source.WithBus(idx.Bus()))
//	mgr := jsonindex.NewManager(idx, src, jsonindex.WithSnapshotInterval(time.Hour))
//	go mgr.Run(ctx)
//	...
//	_ = mgr.Stop(ctx)
//
// # Snapshots
//
// A snapshot archives one pinned commit into a blob store (local disk,
// Amazon S3 or MinIO) together with the ingest state at that moment. Restore
// walks snapshots newest first and installs the first one that verifies.
//
// # Observability
//
// Every component publishes diagnostic events to an event.Bus. The ingest
// tracker aggregates them into per-area progress and an initialization state
// machine (Started, Restoring, Ingesting, Initialized). Operational metrics
// go to a metrics.Collector; see the metrics/prometheus package.
package jsonindex
