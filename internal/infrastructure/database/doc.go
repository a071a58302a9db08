// Package database provides SQLite connectivity for the run journal.
//
// This package manages:
//   - Database connection with WAL mode for file databases
//   - Forward-only schema migrations from an fs.FS
//   - Connection lifecycle
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named NNNN_description.up.sql. There are no down
// migrations: the journal is history, and an old binary simply ignores
// columns it does not know.
package database
