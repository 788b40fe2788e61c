// Package database provides SQLite connectivity for the sqlite document backend.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Immediate-mode transactions so each document update holds the write lock
//   - Idempotent schema creation
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Storage.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package database
