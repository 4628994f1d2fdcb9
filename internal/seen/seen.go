// Package seen persists the ids of upstream items that were already
// mirrored, per channel, in a SQLite database.
package seen

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the seen-item database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Entry is one recorded item.
type Entry struct {
	ID     string
	SeenAt time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("seen store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create seen store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the sync worker and the CLI never need more.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ForChannel returns the set of one channel.
func (s *Store) ForChannel(channel string) *Set {
	return &Set{store: s, channel: channel}
}

// Contains reports whether id was recorded for channel.
func (s *Store) Contains(ctx context.Context, channel, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM seen WHERE channel = ? AND item_id = ?", channel, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen: %w", err)
	}
	return true, nil
}

// Add records id for channel. Adding an id twice is a no-op.
func (s *Store) Add(ctx context.Context, channel, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("item id is required")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO seen(channel, item_id, seen_at) VALUES(?, ?, ?)",
		channel, id, s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert seen: %w", err)
	}
	return nil
}

// List returns the channel's entries, oldest first.
func (s *Store) List(ctx context.Context, channel string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT item_id, seen_at FROM seen WHERE channel = ? ORDER BY seen_at, item_id", channel)
	if err != nil {
		return nil, fmt.Errorf("list seen: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts); err != nil {
			return nil, fmt.Errorf("scan seen: %w", err)
		}
		e.SeenAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Import records every id in r, one per line, for channel. Blank lines are
// skipped. It returns the number of ids that were not already present.
func (s *Store) Import(ctx context.Context, channel string, r io.Reader) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO seen(channel, item_id, seen_at) VALUES(?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	ts := s.now().UTC().Unix()
	added := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		id := strings.TrimSpace(sc.Text())
		if id == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, channel, id, ts)
		if err != nil {
			return 0, fmt.Errorf("import %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read ids: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return added, nil
}

// Set is the seen set of one channel.
type Set struct {
	store   *Store
	channel string
}

// Contains reports whether id was recorded.
func (s *Set) Contains(ctx context.Context, id string) (bool, error) {
	return s.store.Contains(ctx, s.channel, id)
}

// Add records id.
func (s *Set) Add(ctx context.Context, id string) error {
	return s.store.Add(ctx, s.channel, id)
}
