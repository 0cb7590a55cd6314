// Package txn tracks host transaction state: xid allocation, the commit log
// and MVCC snapshots.
//
// A Snapshot freezes the set of transactions whose effects are visible:
// every xid that committed before the snapshot was taken and is not listed
// as in progress. The snapshot's own transaction always sees its own writes.
package txn
