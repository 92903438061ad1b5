// Package database provides the SQLite store behind the durable device
// contexts: connection lifecycle with WAL mode, a busy timeout, and
// schema migrations embedded into the binary.
//
// Migrations are up-only and sequence-numbered (0001_name.sql). Schema
// changes are additive: new columns are nullable or defaulted, columns
// are never dropped or renamed. With a single-file embedded store,
// restoring the file from backup is the rollback path, so there are no
// down scripts.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// All queries use parameterised statements; the database file is
// created with owner-only permissions.
package database
