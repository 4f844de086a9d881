// Package journal keeps an audit trail of the coordinator in a relational
// database: the lifecycle of asynchronous file registrations and every lease
// event of the task queue. It is write-mostly and never read back to rebuild
// queue state.
//
// Quick start:
//  1. db, _ := sql.Open("sqlite", "file:journal.db") with modernc.org/sqlite.
//  2. store := journal.NewSQLStore(db); store.Migrate(ctx).
//  3. Pass journal.NewObserver(store, logger) as tasks.QueueConfig.Observer.
//  4. Pass store to ingest.NewClient and ingest.NewProcessor.
package journal
