// Package storage persists theme settings, per-post meta, content and
// companion plugin state in a SQLite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"digifusion/model"
)

// ErrNotFound is returned when a post, term or plugin row does not exist.
var ErrNotFound = errors.New("storage: not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS theme_mods (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS post_meta (
	post_id INTEGER NOT NULL,
	key     TEXT NOT NULL,
	value   TEXT NOT NULL,
	PRIMARY KEY (post_id, key)
);
CREATE TABLE IF NOT EXISTS posts (
	id        INTEGER PRIMARY KEY,
	type      TEXT NOT NULL,
	title     TEXT NOT NULL,
	slug      TEXT NOT NULL,
	parent_id INTEGER NOT NULL DEFAULT 0,
	term_id   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS terms (
	id        INTEGER PRIMARY KEY,
	taxonomy  TEXT NOT NULL,
	name      TEXT NOT NULL,
	slug      TEXT NOT NULL,
	parent_id INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS plugins (
	slug   TEXT PRIMARY KEY,
	status TEXT NOT NULL
);
`

// Store provides persistent storage for theme settings.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ThemeMod returns the stored value of a site-wide setting.
func (s *Store) ThemeMod(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM theme_mods WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read theme mod %s: %w", key, err)
	}
	return value, true, nil
}

// ThemeMods returns every stored setting.
func (s *Store) ThemeMods(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM theme_mods`)
	if err != nil {
		return nil, fmt.Errorf("list theme mods: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetThemeMod replaces a setting's value wholesale.
func (s *Store) SetThemeMod(ctx context.Context, key, value string) error {
	return s.SetThemeMods(ctx, map[string]string{key: value})
}

// SetThemeMods writes several settings in one transaction.
func (s *Store) SetThemeMods(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, k := range sortedKeys(values) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO theme_mods (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, values[k]); err != nil {
			return fmt.Errorf("write theme mod %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// SeedThemeMods writes values only for keys that are not stored yet and
// reports how many were inserted.
func (s *Store) SeedThemeMods(ctx context.Context, values map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	for _, k := range sortedKeys(values) {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO theme_mods (key, value) VALUES (?, ?)`, k, values[k])
		if err != nil {
			return 0, fmt.Errorf("seed theme mod %s: %w", k, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// PostMeta returns all meta stored for a post.
func (s *Store) PostMeta(ctx context.Context, postID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM post_meta WHERE post_id = ?`, postID)
	if err != nil {
		return nil, fmt.Errorf("read post meta %d: %w", postID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ReplacePostMeta sets the given keys and removes the keys listed in remove.
func (s *Store) ReplacePostMeta(ctx context.Context, postID int64, set map[string]string, remove []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, k := range sortedKeys(set) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO post_meta (post_id, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(post_id, key) DO UPDATE SET value = excluded.value`, postID, k, set[k]); err != nil {
			return fmt.Errorf("write post meta %d/%s: %w", postID, k, err)
		}
	}
	for _, k := range remove {
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_meta WHERE post_id = ? AND key = ?`, postID, k); err != nil {
			return fmt.Errorf("delete post meta %d/%s: %w", postID, k, err)
		}
	}
	return tx.Commit()
}

// DeletePost removes a post together with its meta.
func (s *Store) DeletePost(ctx context.Context, postID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM post_meta WHERE post_id = ?`, postID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, postID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SavePost(ctx context.Context, p model.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, type, title, slug, parent_id, term_id) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET type = excluded.type, title = excluded.title, slug = excluded.slug,
		 parent_id = excluded.parent_id, term_id = excluded.term_id`,
		p.ID, p.Type, p.Title, p.Slug, p.ParentID, p.TermID)
	if err != nil {
		return fmt.Errorf("save post %d: %w", p.ID, err)
	}
	return nil
}

func (s *Store) Post(ctx context.Context, id int64) (model.Post, error) {
	var p model.Post
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, title, slug, parent_id, term_id FROM posts WHERE id = ?`, id).
		Scan(&p.ID, &p.Type, &p.Title, &p.Slug, &p.ParentID, &p.TermID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Post{}, ErrNotFound
	}
	if err != nil {
		return model.Post{}, fmt.Errorf("read post %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) SaveTerm(ctx context.Context, t model.Term) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO terms (id, taxonomy, name, slug, parent_id) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET taxonomy = excluded.taxonomy, name = excluded.name,
		 slug = excluded.slug, parent_id = excluded.parent_id`,
		t.ID, t.Taxonomy, t.Name, t.Slug, t.ParentID)
	if err != nil {
		return fmt.Errorf("save term %d: %w", t.ID, err)
	}
	return nil
}

func (s *Store) Term(ctx context.Context, id int64) (model.Term, error) {
	var t model.Term
	err := s.db.QueryRowContext(ctx,
		`SELECT id, taxonomy, name, slug, parent_id FROM terms WHERE id = ?`, id).
		Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Term{}, ErrNotFound
	}
	if err != nil {
		return model.Term{}, fmt.Errorf("read term %d: %w", id, err)
	}
	return t, nil
}

// PluginStatus reports a companion plugin's state; unknown slugs are not installed.
func (s *Store) PluginStatus(ctx context.Context, slug string) (model.PluginStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM plugins WHERE slug = ?`, slug).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PluginNotInstalled, nil
	}
	if err != nil {
		return "", fmt.Errorf("read plugin %s: %w", slug, err)
	}
	return model.PluginStatus(status), nil
}

func (s *Store) SetPluginStatus(ctx context.Context, slug string, status model.PluginStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugins (slug, status) VALUES (?, ?)
		 ON CONFLICT(slug) DO UPDATE SET status = excluded.status`, slug, string(status))
	if err != nil {
		return fmt.Errorf("write plugin %s: %w", slug, err)
	}
	return nil
}

// ActivePlugins lists active plugin slugs in ascending order.
func (s *Store) ActivePlugins(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug FROM plugins WHERE status = ? ORDER BY slug`, string(model.PluginActive))
	if err != nil {
		return nil, fmt.Errorf("list active plugins: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

// IsPluginActive is a convenience over PluginStatus.
func (s *Store) IsPluginActive(ctx context.Context, slug string) bool {
	status, err := s.PluginStatus(ctx, slug)
	return err == nil && status == model.PluginActive
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
