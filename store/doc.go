// Package store persists chat sessions so an interrupted turn can be resumed
// by a later process.
//
// [Sessions] keeps one [Record] per session: the driver state (thread, run,
// classifier cursor and any outstanding approvals) plus the transcript of
// completed turns. Records are stored as JSON through an [Adapter]:
//
//   - [MemoryAdapter]: in-process, for tests and the HTTP server default
//   - [SQLiteAdapter]: a single-table key-value store on disk
//
// # Usage
//
//	adapter, err := store.OpenSQLite(ctx, "runchat.db")
//	if err != nil {
//	    return err
//	}
//	defer adapter.Close()
//
//	sessions := store.NewSessions(adapter)
//	rec, err := sessions.Load(ctx, id)
package store
