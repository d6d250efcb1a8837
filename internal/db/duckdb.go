// Package db persists viewer state (layers, applied styles and detected
// geometry kinds) in DuckDB so it survives restarts.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/giscaleing/visor-sig/internal/service"
	"github.com/giscaleing/visor-sig/internal/sld"
)

// Config holds database configuration. An empty DataDir opens an
// in-memory database.
type Config struct {
	DataDir string
	DBName  string
}

// Path returns the database file path, or "" for in-memory.
func (c Config) Path() string {
	if c.DataDir == "" {
		return ""
	}
	name := c.DBName
	if name == "" {
		name = "visor"
	}
	return filepath.Join(c.DataDir, "duckdb", name+".duckdb")
}

const schema = `
CREATE SEQUENCE IF NOT EXISTS layer_seq START 1;
CREATE TABLE IF NOT EXISTS layers (
	id         VARCHAR PRIMARY KEY,
	seq        BIGINT NOT NULL,
	name       VARCHAR NOT NULL,
	label      VARCHAR NOT NULL,
	active     BOOLEAN NOT NULL,
	cql_filter VARCHAR NOT NULL,
	source     VARCHAR NOT NULL
);
CREATE TABLE IF NOT EXISTS styles (
	layer_name VARCHAR PRIMARY KEY,
	kind       VARCHAR NOT NULL,
	style      VARCHAR NOT NULL,
	body       VARCHAR NOT NULL,
	revision   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS geometry_kinds (
	layer_name VARCHAR PRIMARY KEY,
	kind       VARCHAR NOT NULL
);`

// Store is a service.Store backed by DuckDB.
type Store struct {
	db *sql.DB
}

var _ service.Store = (*Store)(nil)

// Open opens (creating if needed) the state database.
func Open(cfg Config) (*Store, error) {
	path := cfg.Path()
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Layers returns all layers in insertion order.
func (s *Store) Layers() ([]service.LayerDescriptor, error) {
	rows, err := s.db.Query(`SELECT id, name, label, active, cql_filter, source FROM layers ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}
	defer rows.Close()

	var layers []service.LayerDescriptor
	for rows.Next() {
		var l service.LayerDescriptor
		if err := rows.Scan(&l.ID, &l.Name, &l.Label, &l.Active, &l.CQLFilter, &l.Source); err != nil {
			return nil, fmt.Errorf("scan layer: %w", err)
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

// Layer returns a layer by ID.
func (s *Store) Layer(id string) (service.LayerDescriptor, bool, error) {
	l := service.LayerDescriptor{ID: id}
	err := s.db.QueryRow(`SELECT name, label, active, cql_filter, source FROM layers WHERE id = ?`, id).
		Scan(&l.Name, &l.Label, &l.Active, &l.CQLFilter, &l.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return service.LayerDescriptor{}, false, nil
	}
	if err != nil {
		return service.LayerDescriptor{}, false, fmt.Errorf("get layer %s: %w", id, err)
	}
	return l, true, nil
}

// PutLayer inserts or updates a layer, keeping its position on update.
func (s *Store) PutLayer(l service.LayerDescriptor) error {
	_, err := s.db.Exec(`
		INSERT INTO layers (id, seq, name, label, active, cql_filter, source)
		VALUES (?, nextval('layer_seq'), ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			label = excluded.label,
			active = excluded.active,
			cql_filter = excluded.cql_filter,
			source = excluded.source`,
		l.ID, l.Name, l.Label, l.Active, l.CQLFilter, l.Source)
	if err != nil {
		return fmt.Errorf("put layer %s: %w", l.ID, err)
	}
	return nil
}

// DeleteLayer removes a layer by ID.
func (s *Store) DeleteLayer(id string) error {
	res, err := s.db.Exec(`DELETE FROM layers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete layer %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return service.ErrLayerNotFound
	}
	return nil
}

// Style returns the style applied to a type name.
func (s *Store) Style(layerName string) (service.StyleRecord, bool, error) {
	rec := service.StyleRecord{LayerName: layerName}
	var kind, style string
	err := s.db.QueryRow(`SELECT kind, style, body, revision FROM styles WHERE layer_name = ?`, layerName).
		Scan(&kind, &style, &rec.Body, &rec.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return service.StyleRecord{}, false, nil
	}
	if err != nil {
		return service.StyleRecord{}, false, fmt.Errorf("get style %s: %w", layerName, err)
	}
	rec.Kind = sld.GeometryKind(kind)
	if err := json.Unmarshal([]byte(style), &rec.Style); err != nil {
		return service.StyleRecord{}, false, fmt.Errorf("decode style %s: %w", layerName, err)
	}
	return rec, true, nil
}

// PutStyle stores a style record.
func (s *Store) PutStyle(rec service.StyleRecord) error {
	style, err := json.Marshal(rec.Style)
	if err != nil {
		return fmt.Errorf("encode style %s: %w", rec.LayerName, err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO styles (layer_name, kind, style, body, revision) VALUES (?, ?, ?, ?, ?)`,
		rec.LayerName, string(rec.Kind), string(style), rec.Body, rec.Revision)
	if err != nil {
		return fmt.Errorf("put style %s: %w", rec.LayerName, err)
	}
	return nil
}

// GeometryKind returns the cached geometry kind of a type name.
func (s *Store) GeometryKind(layerName string) (sld.GeometryKind, bool, error) {
	var kind string
	err := s.db.QueryRow(`SELECT kind FROM geometry_kinds WHERE layer_name = ?`, layerName).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get geometry kind %s: %w", layerName, err)
	}
	return sld.GeometryKind(kind), true, nil
}

// PutGeometryKind caches a geometry kind.
func (s *Store) PutGeometryKind(layerName string, kind sld.GeometryKind) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO geometry_kinds (layer_name, kind) VALUES (?, ?)`, layerName, string(kind))
	if err != nil {
		return fmt.Errorf("put geometry kind %s: %w", layerName, err)
	}
	return nil
}

// TableInfo describes one state table.
type TableInfo struct {
	Name string `json:"name" doc:"Table name" example:"layers"`
	Rows int64  `json:"rows" doc:"Number of rows"`
}

// Tables lists the state tables with their row counts.
func (s *Store) Tables(ctx context.Context) ([]TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		t := TableInfo{Name: name}
		if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+quoteIdent(name)).Scan(&t.Rows); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
