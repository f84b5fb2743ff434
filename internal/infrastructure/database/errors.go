package database

import "errors"

var (
	// ErrOpenFailed indicates the database could not be opened or pinged.
	ErrOpenFailed = errors.New("database: open failed")

	// ErrMigrationMissing indicates an applied migration has no file to roll back from.
	ErrMigrationMissing = errors.New("database: migration not found")

	// ErrNoDownMigration indicates a migration has no .down.sql counterpart.
	ErrNoDownMigration = errors.New("database: migration has no down SQL")
)
