// Package sqlite provides the SQLite-backed catalog store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/catalog"
	"github.com/JakeFAU/comic-tracker/internal/catalog/migrations"
	"github.com/JakeFAU/comic-tracker/internal/comic"
)

var _ catalog.Store = (*Store)(nil)

// driverName registers sqlite3 with the title_matches SQL function.
const driverName = "sqlite3_comics"

const columns = `id, titles, current_chap, viewed_chap, cover, last_update, com_type, status,
	published_in, genres, author, description, track, rating, deleted`

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("title_matches", titleMatches, true)
		},
	})
}

// titleMatches reports 1 when any alias in the JSON array contains needle, ignoring case.
func titleMatches(titlesJSON, needle string) int64 {
	var titles []string
	if err := json.Unmarshal([]byte(titlesJSON), &titles); err != nil {
		return 0
	}
	for _, t := range titles {
		if comic.ContainsFold(t, needle) {
			return 1
		}
	}
	return 0
}

// Config locates the database file.
type Config struct {
	// Path is a file path or ":memory:".
	Path string
}

type querier interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Store reads and writes catalog rows in SQLite.
type Store struct {
	queries
	db *sql.DB
}

// Open opens the database. SQLite allows one writer, so the pool holds a single connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("catalog.sqlite_path is required")
	}
	dsn := "file:" + cfg.Path + "?_busy_timeout=5000"
	if cfg.Path == ":memory:" {
		dsn = "file::memory:?mode=memory"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{queries: queries{q: db}, db: db}, nil
}

// Migrate applies the embedded schema on the open connection.
func (s *Store) Migrate(logger *zap.Logger) error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	return migrations.Up(migrations.SQLite, "sqlite3", driver, false, logger)
}

// InTx runs fn inside a transaction.
func (s *Store) InTx(ctx context.Context, fn func(catalog.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

type queries struct {
	q querier
}

func (r queries) Get(ctx context.Context, id int64) (comic.Entry, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+columns+` FROM comics WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return comic.Entry{}, fmt.Errorf("comic %d: %w", id, comic.ErrNotFound)
	}
	if err != nil {
		return comic.Entry{}, fmt.Errorf("select comic %d: %w", id, err)
	}
	return entry, nil
}

func (r queries) FindByTitle(ctx context.Context, title string) ([]comic.Entry, error) {
	entries, err := r.collect(ctx, `SELECT `+columns+` FROM comics WHERE title_matches(titles, ?) = 1 ORDER BY id`, title)
	if err != nil {
		return nil, fmt.Errorf("find comics by title: %w", err)
	}
	return entries, nil
}

func (r queries) List(ctx context.Context, offset, limit int) ([]comic.Entry, error) {
	entries, err := r.collect(ctx, `SELECT `+columns+` FROM comics WHERE deleted = 0 ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list comics: %w", err)
	}
	return entries, nil
}

func (r queries) All(ctx context.Context) ([]comic.Entry, error) {
	entries, err := r.collect(ctx, `SELECT `+columns+` FROM comics ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select all comics: %w", err)
	}
	return entries, nil
}

func (r queries) Insert(ctx context.Context, entry *comic.Entry) error {
	args, err := writeArgs(*entry)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
INSERT INTO comics (
	titles, current_chap, viewed_chap, cover, last_update, com_type, status,
	published_in, genres, author, description, track, rating, deleted
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		return fmt.Errorf("insert comic: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read inserted id: %w", err)
	}
	entry.ID = id
	return nil
}

func (r queries) Update(ctx context.Context, entry comic.Entry) error {
	args, err := writeArgs(entry)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
UPDATE comics SET
	titles = ?, current_chap = ?, viewed_chap = ?, cover = ?, last_update = ?,
	com_type = ?, status = ?, published_in = ?, genres = ?, author = ?,
	description = ?, track = ?, rating = ?, deleted = ?
WHERE id = ?`, append(args, entry.ID)...)
	if err != nil {
		return fmt.Errorf("update comic %d: %w", entry.ID, err)
	}
	return requireRow(res, entry.ID)
}

func (r queries) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM comics WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete comic %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (r queries) collect(ctx context.Context, query string, args ...any) ([]comic.Entry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []comic.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comic row: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (comic.Entry, error) {
	var (
		e                          comic.Entry
		titles, publishers, genres string
		lastUpdate                 int64
		typ, status                int
	)
	err := row.Scan(
		&e.ID,
		&titles,
		&e.CurrentChapter,
		&e.ViewedChapter,
		&e.Cover,
		&lastUpdate,
		&typ,
		&status,
		&publishers,
		&genres,
		&e.Author,
		&e.Description,
		&e.Track,
		&e.Rating,
		&e.Deleted,
	)
	if err != nil {
		return comic.Entry{}, err
	}
	if err := json.Unmarshal([]byte(titles), &e.Titles); err != nil {
		return comic.Entry{}, fmt.Errorf("decode titles: %w", err)
	}
	if err := json.Unmarshal([]byte(publishers), &e.Publishers); err != nil {
		return comic.Entry{}, fmt.Errorf("decode publishers: %w", err)
	}
	if err := json.Unmarshal([]byte(genres), &e.Genres); err != nil {
		return comic.Entry{}, fmt.Errorf("decode genres: %w", err)
	}
	e.LastUpdate = time.Unix(lastUpdate, 0).UTC()
	e.Type = comic.Type(typ)
	e.Status = comic.Status(status)
	return e, nil
}

func writeArgs(e comic.Entry) ([]any, error) {
	titles, err := encodeList(e.Titles)
	if err != nil {
		return nil, fmt.Errorf("encode titles: %w", err)
	}
	publishers, err := encodeList(e.Publishers)
	if err != nil {
		return nil, fmt.Errorf("encode publishers: %w", err)
	}
	genres, err := encodeList(e.Genres)
	if err != nil {
		return nil, fmt.Errorf("encode genres: %w", err)
	}
	return []any{
		titles,
		e.CurrentChapter,
		e.ViewedChapter,
		e.Cover,
		e.LastUpdate.Unix(),
		int(e.Type),
		int(e.Status),
		publishers,
		genres,
		e.Author,
		e.Description,
		e.Track,
		e.Rating,
		e.Deleted,
	}, nil
}

func encodeList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalNoEscape(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("comic %d: %w", id, comic.ErrNotFound)
	}
	return nil
}
