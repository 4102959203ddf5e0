// Package db provides a lightweight GORM-based SQLite wrapper for persisting
// state required by the vault client, such as round results, vault records
// and broadcast receipts.
package db

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pushchain/push-vault-client/vaultClient/store"
)

const (
	// InMemorySQLiteDSN is a special DSN to create an ephemeral in-memory SQLite database.
	InMemorySQLiteDSN = ":memory:"

	// dataDir and fileName locate the database under the node home.
	dataDir  = "data"
	fileName = "vault_data.db"

	// dbDirPermissions sets directory permissions to 750 (rwxr-x---).
	dbDirPermissions = 0o750
)

var (
	// gormConfig disables logging output for cleaner usage in client processes.
	gormConfig = &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	// schemaModels lists the structs to be auto-migrated into the database.
	schemaModels = []any{
		&store.RoundResult{},
		&store.VaultRecord{},
		&store.BroadcastRecord{},
	}
)

// DB wraps a GORM client and provides simplified DB lifecycle management.
type DB struct {
	client *gorm.DB
}

// OpenNodeDB opens the database of a node home at <home>/data/vault_data.db
// and migrates the schema.
func OpenNodeDB(home string) (*DB, error) {
	if home == "" {
		return nil, errors.New("node home is required")
	}
	return OpenFileDB(filepath.Join(home, dataDir), fileName, true)
}

// OpenFileDB opens (or creates) a file-backed SQLite database located in the given directory.
// If `migrateSchema` is true, all defined schema models are automatically migrated.
func OpenFileDB(dir, filename string, migrateSchema bool) (*DB, error) {
	dsn, err := prepareFilePath(dir, filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare database path")
	}
	return openSQLite(dsn, migrateSchema)
}

// OpenInMemoryDB opens a non-persistent SQLite database in memory.
// This is useful for testing or ephemeral state.
func OpenInMemoryDB(migrateSchema bool) (*DB, error) {
	return openSQLite(InMemorySQLiteDSN, migrateSchema)
}

// openSQLite creates a GORM-backed database instance using the given SQLite DSN.
func openSQLite(dsn string, migrateSchema bool) (*DB, error) {
	// WAL parameters only apply to file databases
	if dsn != InMemorySQLiteDSN && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&cache=shared&mode=rwc"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SQLite database")
	}

	// A single connection keeps in-memory databases shared and WAL writers serialized
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if migrateSchema {
		if err := db.AutoMigrate(schemaModels...); err != nil {
			return nil, errors.Wrap(err, "failed to auto-migrate database schema")
		}
	}

	return &DB{client: db}, nil
}

// Client returns the internal *gorm.DB instance for direct usage in queries.
func (d *DB) Client() *gorm.DB {
	return d.client
}

// Close safely closes the underlying database connection.
func (d *DB) Close() error {
	sqlDB, err := d.client.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}

	if err := sqlDB.Close(); err != nil {
		return errors.Wrap(err, "failed to close database connection")
	}

	return nil
}

// prepareFilePath creates dir when missing and returns the database file path.
func prepareFilePath(dir, filename string) (string, error) {
	if filename == "" {
		return "", errors.New("database file name is required")
	}
	if err := os.MkdirAll(dir, dbDirPermissions); err != nil {
		return "", errors.Wrapf(err, "failed to create directory %s", dir)
	}
	return filepath.Join(dir, filename), nil
}
