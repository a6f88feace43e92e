// Package store persists pipeline state in SQLite.
//
// The Store owns the single state record per project plus the append-only
// transition log. Save is a compare-and-swap on the pipeline's version
// column: a write based on a stale read fails with ErrStaleWrite and leaves
// the row untouched, so two racing invocations can never both advance from
// the same revision. Load returns damaged records together with non-fatal
// validation warnings rather than refusing to read them.
//
// Schema changes bump the version in schema.go; users delete the database
// to adopt the new schema. No business logic lives here.
package store
