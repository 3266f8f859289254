// Package store persists Ready build outputs in DuckDB so crates, items,
// the link graph and diagnostics can be queried without rebuilding.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/jcdickinson/cratedoc/internal/cas"
	"github.com/jcdickinson/cratedoc/internal/emit"
	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/resolve"
)

type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath. An empty path opens an in-memory
// database.
func New(dbPath string) (*DB, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_crate_id START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_item_id START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_link_id START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_diagnostic_id START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_reexport_id START 1;`,

		`CREATE TABLE IF NOT EXISTS crates (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			index_hash TEXT,
			partial BOOLEAN NOT NULL DEFAULT false,
			processed_at TIMESTAMP,
			last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crates_name ON crates (name)`,

		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY,
			crate_id INTEGER REFERENCES crates(id),
			item_id TEXT NOT NULL,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			kind TEXT NOT NULL,
			visibility TEXT NOT NULL,
			signature TEXT,
			summary TEXT,
			file TEXT,
			line INTEGER,
			content_hash TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_crate ON items (crate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_path ON items (path)`,
		`CREATE INDEX IF NOT EXISTS idx_items_item ON items (item_id)`,

		`CREATE TABLE IF NOT EXISTS links (
			id INTEGER PRIMARY KEY,
			crate_id INTEGER NOT NULL REFERENCES crates(id),
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			kind TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_to ON links (to_id)`,
		`CREATE INDEX IF NOT EXISTS idx_links_crate ON links (crate_id)`,

		`CREATE TABLE IF NOT EXISTS diagnostics (
			id INTEGER PRIMARY KEY,
			index_hash TEXT NOT NULL,
			severity TEXT NOT NULL,
			code TEXT NOT NULL,
			item_id TEXT,
			message TEXT NOT NULL,
			file TEXT,
			line INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_hash ON diagnostics (index_hash)`,

		`CREATE TABLE IF NOT EXISTS reexports (
			id INTEGER PRIMARY KEY,
			crate_id INTEGER NOT NULL REFERENCES crates(id),
			module TEXT NOT NULL,
			name TEXT NOT NULL,
			source_path TEXT NOT NULL,
			is_glob BOOLEAN NOT NULL DEFAULT false,
			target TEXT,
			source_crate TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reexports_crate ON reexports (crate_id)`,
	}

	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}

// --- Crate operations ---

type Crate struct {
	ID          int
	Name        string
	Version     string
	IndexHash   string
	Partial     bool
	ProcessedAt *time.Time
	LastUsedAt  time.Time
}

const crateColumns = `id, name, version, COALESCE(index_hash, ''), partial, processed_at, last_used_at`

func scanCrate(row interface{ Scan(...any) error }) (*Crate, error) {
	var c Crate
	if err := row.Scan(&c.ID, &c.Name, &c.Version, &c.IndexHash, &c.Partial, &c.ProcessedAt, &c.LastUsedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func upsertCrate(tx *sql.Tx, name, version string) (int, error) {
	var id int
	err := tx.QueryRow(`SELECT id FROM crates WHERE name = ? AND version = ?`, name, version).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("checking crate: %w", err)
	}
	err = tx.QueryRow(
		`INSERT INTO crates (id, name, version) VALUES (nextval('seq_crate_id'), ?, ?) RETURNING id`,
		name, version,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting crate: %w", err)
	}
	return id, nil
}

func (db *DB) TouchCrate(crateID int) error {
	_, err := db.conn.Exec(`UPDATE crates SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, crateID)
	return err
}

func (db *DB) GetCrate(name, version string) (*Crate, error) {
	c, err := scanCrate(db.conn.QueryRow(
		`SELECT `+crateColumns+` FROM crates WHERE name = ? AND version = ?`, name, version,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetLatestCrate returns the most recently processed crate with the given name.
func (db *DB) GetLatestCrate(name string) (*Crate, error) {
	c, err := scanCrate(db.conn.QueryRow(
		`SELECT `+crateColumns+`
		 FROM crates WHERE name = ? AND processed_at IS NOT NULL
		 ORDER BY processed_at DESC LIMIT 1`, name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (db *DB) ListCrates() ([]Crate, error) {
	rows, err := db.conn.Query(`SELECT ` + crateColumns + ` FROM crates ORDER BY name, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crates []Crate
	for rows.Next() {
		c, err := scanCrate(rows)
		if err != nil {
			return nil, err
		}
		crates = append(crates, *c)
	}
	return crates, rows.Err()
}

// --- Saving a build ---

// SaveOutput replaces the rows of every crate in out with the build's items,
// links, re-exports and diagnostics. When blobs is non-nil each item's
// rendered page is written to it and referenced by content hash.
func (db *DB) SaveOutput(out *emit.Output, res *resolve.Result, blobs *cas.Store) error {
	start := time.Now()
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	crateIDs := make(map[string]int, len(out.Crates))
	for i := range out.Crates {
		c := &out.Crates[i]
		id, err := db.saveCrate(tx, out, c, blobs)
		if err != nil {
			return fmt.Errorf("saving crate %s: %w", c.Name, err)
		}
		crateIDs[c.Name] = id
	}

	if res != nil {
		for _, l := range res.Links {
			from, ok := out.Item(l.From)
			if !ok {
				continue
			}
			if _, ok := out.Item(l.To); !ok {
				continue
			}
			if _, err := tx.Exec(
				`INSERT INTO links (id, crate_id, from_id, to_id, kind) VALUES (nextval('seq_link_id'), ?, ?, ?, ?)`,
				crateIDs[from.Crate], string(l.From), string(l.To), l.Kind.String(),
			); err != nil {
				return fmt.Errorf("inserting link: %w", err)
			}
		}
	}

	if _, err := tx.Exec(`DELETE FROM diagnostics WHERE index_hash = ?`, out.Hash); err != nil {
		return fmt.Errorf("deleting diagnostics: %w", err)
	}
	for _, d := range out.Diagnostics {
		if _, err := tx.Exec(
			`INSERT INTO diagnostics (id, index_hash, severity, code, item_id, message, file, line)
			 VALUES (nextval('seq_diagnostic_id'), ?, ?, ?, ?, ?, ?, ?)`,
			out.Hash, d.Severity.String(), string(d.Code), string(d.ItemID), d.Message, d.Location.File, d.Location.StartLine,
		); err != nil {
			return fmt.Errorf("inserting diagnostic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing build: %w", err)
	}
	slog.Debug("saved build", "hash", out.Hash, "crates", len(out.Crates), "duration", time.Since(start))
	return nil
}

func (db *DB) saveCrate(tx *sql.Tx, out *emit.Output, c *emit.Crate, blobs *cas.Store) (int, error) {
	id, err := upsertCrate(tx, c.Name, c.Version)
	if err != nil {
		return 0, err
	}
	for _, table := range []string{"links", "reexports", "items"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE crate_id = ?`, id); err != nil {
			return 0, fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for mi := range c.Modules {
		for ii := range c.Modules[mi].Items {
			s := &c.Modules[mi].Items[ii]
			var hash any
			if blobs != nil && s.Kind != index.KindImpl {
				page, err := out.Page(out.URI(s.ID))
				if err != nil {
					return 0, fmt.Errorf("rendering %s: %w", s.Path, err)
				}
				h, err := blobs.Write(page)
				if err != nil {
					return 0, err
				}
				hash = h
			}
			if _, err := tx.Exec(
				`INSERT INTO items (id, crate_id, item_id, name, path, kind, visibility, signature, summary, file, line, content_hash)
				 VALUES (nextval('seq_item_id'), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, string(s.ID), s.Name, s.Path, s.Kind.String(), s.Visibility.String(),
				s.Signature, s.Summary, s.SourceLocation.File, s.SourceLocation.StartLine, hash,
			); err != nil {
				return 0, fmt.Errorf("inserting item %s: %w", s.Path, err)
			}
			if err := insertReexports(tx, id, s.Path, s.Reexports); err != nil {
				return 0, err
			}
		}
	}
	if err := insertReexports(tx, id, c.Name, c.Reexports); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		`UPDATE crates SET index_hash = ?, partial = ?, processed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		out.Hash, c.Partial, id,
	); err != nil {
		return 0, fmt.Errorf("marking crate processed: %w", err)
	}
	return id, nil
}

func insertReexports(tx *sql.Tx, crateID int, module string, res []emit.Reexport) error {
	for _, re := range res {
		var target, source any
		if re.Target != "" {
			target = string(re.Target)
		}
		if re.Crate != "" {
			source = re.Crate
		}
		if _, err := tx.Exec(
			`INSERT INTO reexports (id, crate_id, module, name, source_path, is_glob, target, source_crate)
			 VALUES (nextval('seq_reexport_id'), ?, ?, ?, ?, ?, ?, ?)`,
			crateID, module, re.Name, re.Path, re.Glob, target, source,
		); err != nil {
			return fmt.Errorf("inserting reexport: %w", err)
		}
	}
	return nil
}

// --- Item operations ---

type Item struct {
	ID          int
	CrateID     int
	ItemID      index.ItemID
	Name        string
	Path        string
	Kind        string
	Visibility  string
	Signature   string
	Summary     string
	File        string
	Line        int
	ContentHash string
}

const itemColumns = `id, crate_id, item_id, name, path, kind, visibility,
	COALESCE(signature, ''), COALESCE(summary, ''), COALESCE(file, ''), COALESCE(line, 0), COALESCE(content_hash, '')`

func scanItem(row interface{ Scan(...any) error }) (*Item, error) {
	var it Item
	var id string
	err := row.Scan(&it.ID, &it.CrateID, &id, &it.Name, &it.Path, &it.Kind, &it.Visibility,
		&it.Signature, &it.Summary, &it.File, &it.Line, &it.ContentHash)
	if err != nil {
		return nil, err
	}
	it.ItemID = index.ItemID(id)
	return &it, nil
}

func (db *DB) GetItemByPath(crateID int, path string) (*Item, error) {
	it, err := scanItem(db.conn.QueryRow(
		`SELECT `+itemColumns+` FROM items WHERE crate_id = ? AND path = ?`, crateID, path,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return it, err
}

func (db *DB) GetItem(id index.ItemID) (*Item, error) {
	it, err := scanItem(db.conn.QueryRow(
		`SELECT `+itemColumns+` FROM items WHERE item_id = ? LIMIT 1`, string(id),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return it, err
}

// SearchItems returns items whose name equals query or whose path ends in
// ::query, in path order. Impl blocks are skipped.
func (db *DB) SearchItems(query string, limit int) ([]Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(
		`SELECT `+itemColumns+` FROM items
		 WHERE kind != ? AND (name = ? OR path = ? OR path LIKE ?)
		 ORDER BY path, item_id LIMIT ?`,
		index.KindImpl.String(), query, query, "%::"+query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (db *DB) CountItems(crateID int) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM items WHERE crate_id = ?`, crateID).Scan(&count)
	return count, err
}

// --- Link operations ---

type Referrer struct {
	From index.ItemID
	Path string
	Kind string
}

// Referrers returns the items that link to id, in path order.
func (db *DB) Referrers(id index.ItemID) ([]Referrer, error) {
	rows, err := db.conn.Query(
		`SELECT DISTINCT l.from_id, i.path, l.kind
		 FROM links l JOIN items i ON i.item_id = l.from_id AND i.crate_id = l.crate_id
		 WHERE l.to_id = ?
		 ORDER BY i.path, l.kind`, string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("querying referrers: %w", err)
	}
	defer rows.Close()

	var out []Referrer
	for rows.Next() {
		var r Referrer
		var from string
		if err := rows.Scan(&from, &r.Path, &r.Kind); err != nil {
			return nil, err
		}
		r.From = index.ItemID(from)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Diagnostic operations ---

func (db *DB) Diagnostics(indexHash string) ([]index.Diagnostic, error) {
	rows, err := db.conn.Query(
		`SELECT severity, code, COALESCE(item_id, ''), message, COALESCE(file, ''), COALESCE(line, 0)
		 FROM diagnostics WHERE index_hash = ? ORDER BY id`, indexHash,
	)
	if err != nil {
		return nil, fmt.Errorf("querying diagnostics: %w", err)
	}
	defer rows.Close()

	var out []index.Diagnostic
	for rows.Next() {
		var (
			d               index.Diagnostic
			sev, code, item string
		)
		if err := rows.Scan(&sev, &code, &item, &d.Message, &d.Location.File, &d.Location.StartLine); err != nil {
			return nil, err
		}
		if err := d.Severity.UnmarshalText([]byte(sev)); err != nil {
			return nil, err
		}
		d.Code, d.ItemID = index.Code(code), index.ItemID(item)
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Reexport operations ---

// ResolveReexport checks whether path names an item through a re-export in
// this crate. An explicit re-export wins over a glob one. It returns the
// target id when the re-export resolved, and the source path it points at.
func (db *DB) ResolveReexport(crateID int, path string) (target index.ItemID, sourcePath string, found bool) {
	module, name, ok := cutLast(path)
	if !ok {
		return "", "", false
	}
	var src string
	var tgt sql.NullString
	err := db.conn.QueryRow(
		`SELECT source_path, target FROM reexports
		 WHERE crate_id = ? AND module = ? AND NOT is_glob AND name = ?
		 LIMIT 1`, crateID, module, name,
	).Scan(&src, &tgt)
	if err == nil {
		return index.ItemID(tgt.String), src, true
	}

	err = db.conn.QueryRow(
		`SELECT source_path FROM reexports
		 WHERE crate_id = ? AND module = ? AND is_glob
		 ORDER BY source_path LIMIT 1`, crateID, module,
	).Scan(&src)
	if err != nil {
		return "", "", false
	}
	return "", src + "::" + name, true
}

func cutLast(path string) (string, string, bool) {
	i := strings.LastIndex(path, "::")
	if i < 0 {
		return "", "", false
	}
	return path[:i], path[i+2:], true
}

// Clear removes every stored build.
func (db *DB) Clear() error {
	for _, table := range []string{"links", "reexports", "diagnostics", "items", "crates"} {
		if _, err := db.conn.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return nil
}
