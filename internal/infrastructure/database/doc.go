// Package database opens the bridge's SQLite store and applies its
// embedded schema migrations.
//
// The store holds the audit trail of external writes. Readings are never
// persisted: they live only in the in-memory cache.
//
// Migrations are pairs of files named
//
//	YYYYMMDD_HHMMSS_description.up.sql
//	YYYYMMDD_HHMMSS_description.down.sql
//
// and are supplied as an fs.FS, normally the one embedded by the
// top-level migrations package:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default.
package database
