package database

import (
	"fmt"
	"os"
	"path/filepath"

	"simjur/internal/config"
	"simjur/internal/database/migrations"
)

// NewDatabaseFromConfig creates a SQLDatabase based on the database config type.
// The memory type is migrated on open since it cannot outlive the process.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLDatabase(migrations.DialectSQLite, filepath.Join(cfg.DataDir, "simjur.db"))
	case "memory":
		db, err := NewSQLDatabase(migrations.DialectSQLite, ":memory:")
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	case "postgres":
		dsn := cfg.DSN
		if env := os.Getenv("SIMJUR_DATABASE_DSN"); env != "" {
			dsn = env
		}
		if dsn == "" {
			return nil, fmt.Errorf("dsn required for postgres database (set dsn or SIMJUR_DATABASE_DSN)")
		}
		return NewSQLDatabase(migrations.DialectPostgres, dsn)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
