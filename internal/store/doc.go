// Package store persists pipeline snapshots.
//
// Two backends implement pipeline.Store: FileStore keeps one JSON document
// per pipeline and replaces it atomically on every save; SQLiteStore keeps
// one row per pipeline with the snapshot in a JSON column and the status in
// an indexed column for filtered listing. Both write the same versioned
// envelope produced by Encode, so a snapshot can move between backends.
//
// A state directory is driven by one process at a time. AcquireLock records
// the owning PID and hostname in a lock file and treats locks held by dead
// processes as stale.
package store
