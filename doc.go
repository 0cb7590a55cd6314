// Package mvccindex is an embedded full-text and aggregation index whose
// segments follow the MVCC rules of the table they index.
//
// A DB owns a heap of rows, the transaction log that decides which row
// versions a snapshot sees, and a catalog of index segments. Segments are
// either persisted (flushed components on pages) or Memory segments (staged
// rows indexed on demand by each scan). Catalog entries carry the creating
// and deleting transaction, so a snapshot sees exactly the segments that
// were live for it, and every indexed row is checked against the heap
// before it is counted.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := mvccindex.Open(ctx)
//	defer db.Close()
//
//	tx, _ := db.Begin()
//	db.FlushSegment(ctx, tx, []mvccindex.Document{
//	    {Text: map[string]string{"body": "hello segment"}, Keyword: map[string]string{"lang": "en"}},
//	})
//	tx.Commit()
//
//	res, _ := db.Aggregate(ctx, nil, query.Term("body", "hello"), aggregate.Spec{
//	    GroupBy: "lang",
//	    Metrics: []aggregate.Metric{{Name: "n", Kind: aggregate.MetricCount}},
//	})
//
// # Parallel Scans
//
// Aggregate splits the segments of one snapshot across worker goroutines.
// Workers claim segments from a shared state, most expensive first, open
// their own store over the claimed subset and send back encoded partial
// results. A worker that panics is reported as a warning and aborts the
// scan with ErrWorkerFault; its pins are released either way.
//
// # Storage
//
// Checkpoint saves the heap, the transaction log and all dirty pages to the
// configured blob store (memory, local directory, S3 with optional DynamoDB
// commits, or MinIO). Open recovers the latest checkpoint.
//
//	cfg, _ := mvccindex.LoadConfig("mvccindex.yaml")
//	db, _ := mvccindex.Open(ctx, mvccindex.WithConfig(cfg))
//
// # Maintenance
//
// MergeSegments rewrites mergeable segments into one; Vacuum prunes dead
// row versions, records dead index entries and frees deleted segments that
// no running scan still pins.
package mvccindex
