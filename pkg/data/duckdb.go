package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

const schema = `
CREATE TABLE IF NOT EXISTS watches (
	book_id      VARCHAR PRIMARY KEY,
	title        VARCHAR,
	last_count   INTEGER,
	last_chapter VARCHAR,
	checked_at   TIMESTAMP
);
CREATE TABLE IF NOT EXISTS favorites (
	book_id        VARCHAR,
	sort_key       VARCHAR,
	title          VARCHAR,
	latest_chapter VARCHAR,
	updated_at     TIMESTAMP,
	favorited_at   TIMESTAMP,
	PRIMARY KEY (book_id, sort_key)
);
`

func InitDuckDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// Repository persists watch entries and the favorites cache.
type Repository struct {
	db *sql.DB
}

func NewRepository(path string) (*Repository, error) {
	db, err := InitDuckDB(path)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) SaveWatch(entry *WatchEntry) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO watches (book_id, title, last_count, last_chapter, checked_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.BookID, entry.Title, entry.LastCount, entry.LastChapter, entry.CheckedAt,
	)
	return err
}

func (r *Repository) GetWatch(bookID string) (*WatchEntry, error) {
	row := r.db.QueryRow(
		`SELECT book_id, title, last_count, last_chapter, checked_at FROM watches WHERE book_id = ?`,
		bookID,
	)

	var entry WatchEntry
	var checkedAt sql.NullTime
	if err := row.Scan(&entry.BookID, &entry.Title, &entry.LastCount, &entry.LastChapter, &checkedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if checkedAt.Valid {
		entry.CheckedAt = checkedAt.Time
	}
	return &entry, nil
}

func (r *Repository) ListWatches() ([]*WatchEntry, error) {
	rows, err := r.db.Query(
		`SELECT book_id, title, last_count, last_chapter, checked_at FROM watches ORDER BY title`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*WatchEntry
	for rows.Next() {
		var entry WatchEntry
		var checkedAt sql.NullTime
		if err := rows.Scan(&entry.BookID, &entry.Title, &entry.LastCount, &entry.LastChapter, &checkedAt); err != nil {
			return nil, err
		}
		if checkedAt.Valid {
			entry.CheckedAt = checkedAt.Time
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (r *Repository) DeleteWatch(bookID string) error {
	_, err := r.db.Exec(`DELETE FROM watches WHERE book_id = ?`, bookID)
	return err
}

// ReplaceFavorites swaps the cached favorites list for one sort key.
func (r *Repository) ReplaceFavorites(sort FavoriteSort, entries []FavoriteEntry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM favorites WHERE sort_key = ?`, string(sort)); err != nil {
		return err
	}

	for _, entry := range entries {
		_, err := tx.Exec(
			`INSERT INTO favorites (book_id, sort_key, title, latest_chapter, updated_at, favorited_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			entry.BookID, string(sort), entry.Title, entry.LatestChapter, entry.UpdatedAt, entry.FavoritedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) ListFavorites(sort FavoriteSort) ([]FavoriteEntry, error) {
	order := "updated_at DESC"
	if sort == FavoriteSortFavorited {
		order = "favorited_at DESC"
	}

	rows, err := r.db.Query(
		`SELECT book_id, title, latest_chapter, updated_at, favorited_at
		 FROM favorites WHERE sort_key = ? ORDER BY `+order,
		string(sort),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []FavoriteEntry
	for rows.Next() {
		var entry FavoriteEntry
		var updatedAt, favoritedAt sql.NullTime
		if err := rows.Scan(&entry.BookID, &entry.Title, &entry.LatestChapter, &updatedAt, &favoritedAt); err != nil {
			return nil, err
		}
		if updatedAt.Valid {
			entry.UpdatedAt = updatedAt.Time
		}
		if favoritedAt.Valid {
			entry.FavoritedAt = favoritedAt.Time
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Touch marks a watch entry as checked now without changing its counters.
func (r *Repository) Touch(bookID string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE watches SET checked_at = ? WHERE book_id = ?`, at, bookID)
	return err
}
