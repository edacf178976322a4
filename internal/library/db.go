// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package library is the saved-capture catalog of §9: a SQLite
// side-index over finished capture files, queried by serial or date
// without opening each one, separate from the append-only Capture
// store itself.
package library

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	gosqlite3 "github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/openusbtrace/usbtrace/pkg/log"
)

//go:embed migrations/sqlite3/*.sql
var migrationFiles embed.FS

var registerOnce sync.Once

// Catalog is a handle on the saved-capture SQLite database.
type Catalog struct {
	db        *sqlx.DB
	stmtCache *sq.StmtCache
}

// Open opens (creating if necessary) the catalog database at path and
// migrates it to the latest schema version.
func Open(path string) (*Catalog, error) {
	registerOnce.Do(func() {
		sql.Register("sqlite3_usbtrace_hooks", sqlhooks.Wrap(&gosqlite3.SQLiteDriver{}, hooks{}))
	})

	db, err := sqlx.Open("sqlite3_usbtrace_hooks", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("library: open %s: %w", path, err)
	}
	// SQLite serializes writers; avoid queuing goroutines on locks.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB, path); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db, stmtCache: sq.NewStmtCache(db.DB)}, nil
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("library: migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("library: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("library: migration init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("library: migrate %s: %w", path, err)
	}
	log.Infof("library: catalog %s ready", path)
	return nil
}

// Close releases the database handle.
func (c *Catalog) Close() error { return c.db.Close() }
