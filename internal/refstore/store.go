// Package refstore persists calibration reference images, keyed by
// catalog item id. At most one reference per item; calibration
// overwrites, nothing ever implicitly deletes.
package refstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Reference is a stored calibration exemplar.
type Reference struct {
	ItemID string
	MIME   string
	Data   []byte
}

// Store is a sqlite-backed item-id -> image map.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path and applies
// migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate refstore: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	if err == migrate.ErrNoChange {
		return nil
	}
	return err
}

// Set stores or overwrites the reference for an item. The MIME type is
// sniffed from the blob when mime is empty.
func (s *Store) Set(ctx context.Context, itemID, mime string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refstore: empty image for %s", itemID)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reference_images (item_id, mime, image, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(item_id) DO UPDATE SET
			mime = excluded.mime,
			image = excluded.image,
			updated_at = CURRENT_TIMESTAMP`,
		itemID, mime, data)
	return err
}

// Get fetches one reference.
func (s *Store) Get(ctx context.Context, itemID string) (Reference, bool, error) {
	var r Reference
	err := s.db.QueryRowContext(ctx,
		`SELECT item_id, mime, image FROM reference_images WHERE item_id = ?`, itemID).
		Scan(&r.ItemID, &r.MIME, &r.Data)
	if err == sql.ErrNoRows {
		return Reference{}, false, nil
	}
	if err != nil {
		return Reference{}, false, err
	}
	return r, true, nil
}

// All returns every stored reference keyed by item id.
func (s *Store) All(ctx context.Context) (map[string]Reference, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, mime, image FROM reference_images`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Reference{}
	for rows.Next() {
		var r Reference
		if err := rows.Scan(&r.ItemID, &r.MIME, &r.Data); err != nil {
			return nil, err
		}
		out[r.ItemID] = r
	}
	return out, rows.Err()
}

// Count reports how many references exist.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_images`).Scan(&n)
	return n, err
}
