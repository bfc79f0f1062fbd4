package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
)

// SchemaVersion is stored in the meta table. A catalog with another version
// is treated as corrupt and rebuilt.
const SchemaVersion = "1"

const (
	metaSchema   = "schema"
	metaRoot     = "root"
	metaIdentity = "identity"
)

// docRow is one row of the documents table.
type docRow struct {
	Doc      index.Document
	Segment  string
	Checksum uint32
	Postings int
}

// catalog is the SQLite side of the store: root metadata and one row per
// indexed document pointing at its segment file.
type catalog struct {
	db   *sql.DB
	path string
}

func openCatalog(path string) (*catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	// A single connection keeps the pragmas below in effect for every query.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: %s: %w", pragma, err)
		}
	}
	c := &catalog{db: db, path: path}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *catalog) migrate() error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("catalog: create meta: %w", err)
	}
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			path      TEXT PRIMARY KEY,
			ext       TEXT NOT NULL DEFAULT '',
			size      INTEGER NOT NULL,
			mtime     INTEGER NOT NULL,
			segment   TEXT NOT NULL,
			checksum  INTEGER NOT NULL,
			postings  INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("catalog: create documents: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", metaSchema, SchemaVersion,
	); err != nil {
		return fmt.Errorf("catalog: set schema: %w", err)
	}
	return tx.Commit()
}

// integrity runs SQLite's own consistency check.
func (c *catalog) integrity(ctx context.Context) error {
	var result string
	if err := c.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("catalog: integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("catalog: integrity check: %s", result)
	}
	return nil
}

func (c *catalog) meta(key string) (string, bool, error) {
	var value string
	err := c.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("catalog: read meta %s: %w", key, err)
	}
	return value, true, nil
}

func (c *catalog) setMeta(key, value string) error {
	_, err := c.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("catalog: write meta %s: %w", key, err)
	}
	return nil
}

func (c *catalog) documents(ctx context.Context) ([]docRow, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT path, ext, size, mtime, segment, checksum, postings FROM documents ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("catalog: list documents: %w", err)
	}
	defer rows.Close()

	var out []docRow
	for rows.Next() {
		var r docRow
		var mtime int64
		var checksum int64
		if err := rows.Scan(&r.Doc.Path, &r.Doc.Ext, &r.Doc.Size, &mtime, &r.Segment, &checksum, &r.Postings); err != nil {
			return nil, fmt.Errorf("catalog: scan document: %w", err)
		}
		r.Doc.ModTime = time.Unix(0, mtime)
		r.Checksum = uint32(checksum)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *catalog) upsert(r docRow) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO documents (path, ext, size, mtime, segment, checksum, postings)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			ext = excluded.ext,
			size = excluded.size,
			mtime = excluded.mtime,
			segment = excluded.segment,
			checksum = excluded.checksum,
			postings = excluded.postings
	`, r.Doc.Path, r.Doc.Ext, r.Doc.Size, r.Doc.ModTime.UnixNano(), r.Segment, int64(r.Checksum), r.Postings); err != nil {
		return fmt.Errorf("catalog: upsert %s: %w", r.Doc.Path, err)
	}
	return tx.Commit()
}

func (c *catalog) delete(path string) error {
	if _, err := c.db.Exec("DELETE FROM documents WHERE path = ?", path); err != nil {
		return fmt.Errorf("catalog: delete %s: %w", path, err)
	}
	return nil
}

func (c *catalog) clear() error {
	if _, err := c.db.Exec("DELETE FROM documents"); err != nil {
		return fmt.Errorf("catalog: clear documents: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (c *catalog) Close() error {
	_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return c.db.Close()
}
