package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the registry populated by each migration file's init.
var Migrations = migrate.NewMigrations()
