// Package database provides SQLite connectivity for WatchMe Core.
//
// The database holds local state only: the device registration record
// (when the sqlite identity backend is selected) and the schema history.
// Migrations are supplied as an fs.FS, normally the embedded
// migrations package.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
