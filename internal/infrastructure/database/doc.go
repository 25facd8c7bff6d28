// Package database provides the SQLite connection used for characteristic
// history.
//
// The connection runs in WAL mode with a busy timeout and a single open
// connection, matching SQLite's single-writer model. Schema changes are
// versioned migration files applied by Migrate; the binaries embed them
// from the top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
