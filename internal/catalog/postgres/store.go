// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"

	"github.com/JakeFAU/comic-tracker/internal/catalog"
	"github.com/JakeFAU/comic-tracker/internal/catalog/migrations"
	"github.com/JakeFAU/comic-tracker/internal/comic"
)

var _ catalog.Store = (*Store)(nil)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "comics"

const columns = `id, titles, current_chap, viewed_chap, cover, last_update, com_type, status,
	published_in, genres, author, description, track, rating, deleted`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type txBeginner interface {
	querier
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store reads and writes catalog rows in Postgres.
type Store struct {
	queries
	pool txBeginner
	raw  *pgxpool.Pool
}

// Open connects a pgx pool using cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.raw = pool
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool txBeginner, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{
		queries: queries{q: pool, table: table},
		pool:    pool,
	}, nil
}

// InTx runs fn inside a transaction.
func (s *Store) InTx(ctx context.Context, fn func(catalog.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(queries{q: tx, table: s.table, lock: true}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema. It needs a store created by Open.
func (s *Store) Migrate(logger *zap.Logger) error {
	if s.raw == nil {
		return fmt.Errorf("migrate requires a pgx pool")
	}
	db := stdlib.OpenDBFromPool(s.raw)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create migration driver: %w", err)
	}
	return migrations.Up(migrations.Postgres, "pgx5", driver, true, logger)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// queries runs statements on the pool or on a transaction. Inside a transaction Get locks the
// row so read-modify-write callers never overwrite a concurrent commit.
type queries struct {
	q     querier
	table string
	lock  bool
}

func (r queries) Get(ctx context.Context, id int64) (comic.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, r.table)
	if r.lock {
		query += ` FOR UPDATE`
	}
	entry, err := scanEntry(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return comic.Entry{}, fmt.Errorf("comic %d: %w", id, comic.ErrNotFound)
	}
	if err != nil {
		return comic.Entry{}, fmt.Errorf("select comic %d: %w", id, err)
	}
	return entry, nil
}

// FindByTitle matches against title_keys, which hold comic.FoldTitle of every alias, so
// Postgres finds exactly what the Unicode folding of the other stores finds.
func (r queries) FindByTitle(ctx context.Context, title string) ([]comic.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE EXISTS (SELECT 1 FROM unnest(title_keys) AS k(key) WHERE k.key LIKE $1 ESCAPE '\')
ORDER BY id`, columns, r.table)
	entries, err := r.collect(ctx, query, "%"+escapeLike(comic.FoldTitle(title))+"%")
	if err != nil {
		return nil, fmt.Errorf("find comics by title: %w", err)
	}
	return entries, nil
}

func (r queries) List(ctx context.Context, offset, limit int) ([]comic.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE deleted = false ORDER BY id LIMIT $1 OFFSET $2`, columns, r.table)
	entries, err := r.collect(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list comics: %w", err)
	}
	return entries, nil
}

func (r queries) All(ctx context.Context) ([]comic.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, columns, r.table)
	entries, err := r.collect(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select all comics: %w", err)
	}
	return entries, nil
}

func (r queries) Insert(ctx context.Context, entry *comic.Entry) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	titles, current_chap, viewed_chap, cover, last_update, com_type, status,
	published_in, genres, author, description, track, rating, deleted, title_keys
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
) RETURNING id`, r.table)
	args := writeArgs(*entry)
	if err := r.q.QueryRow(ctx, query, args...).Scan(&entry.ID); err != nil {
		return fmt.Errorf("insert comic: %w", err)
	}
	return nil
}

func (r queries) Update(ctx context.Context, entry comic.Entry) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	titles = $1,
	current_chap = $2,
	viewed_chap = $3,
	cover = $4,
	last_update = $5,
	com_type = $6,
	status = $7,
	published_in = $8,
	genres = $9,
	author = $10,
	description = $11,
	track = $12,
	rating = $13,
	deleted = $14,
	title_keys = $15
WHERE id = $16`, r.table)
	args := append(writeArgs(entry), entry.ID)
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update comic %d: %w", entry.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("comic %d: %w", entry.ID, comic.ErrNotFound)
	}
	return nil
}

func (r queries) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table)
	tag, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete comic %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("comic %d: %w", id, comic.ErrNotFound)
	}
	return nil
}

func (r queries) collect(ctx context.Context, query string, args ...any) ([]comic.Entry, error) {
	rows, err := r.q.Query(ctx, query, args...)
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

func scanEntry(row pgx.Row) (comic.Entry, error) {
	var (
		e                 comic.Entry
		typ, status       int
		publishers, genre []int32
	)
	err := row.Scan(
		&e.ID,
		&e.Titles,
		&e.CurrentChapter,
		&e.ViewedChapter,
		&e.Cover,
		&e.LastUpdate,
		&typ,
		&status,
		&publishers,
		&genre,
		&e.Author,
		&e.Description,
		&e.Track,
		&e.Rating,
		&e.Deleted,
	)
	if err != nil {
		return comic.Entry{}, err
	}
	e.Type = comic.Type(typ)
	e.Status = comic.Status(status)
	e.Publishers = make([]comic.Publisher, 0, len(publishers))
	for _, p := range publishers {
		e.Publishers = append(e.Publishers, comic.Publisher(p))
	}
	e.Genres = make([]comic.Genre, 0, len(genre))
	for _, g := range genre {
		e.Genres = append(e.Genres, comic.Genre(g))
	}
	return e, nil
}

func writeArgs(e comic.Entry) []any {
	publishers := make([]int32, len(e.Publishers))
	for i, p := range e.Publishers {
		publishers[i] = int32(p) // #nosec G115 -- closed enum
	}
	genres := make([]int32, len(e.Genres))
	for i, g := range e.Genres {
		genres[i] = int32(g) // #nosec G115 -- closed enum
	}
	titles := e.Titles
	if titles == nil {
		titles = []string{}
	}
	keys := make([]string, len(titles))
	for i, t := range titles {
		keys[i] = comic.FoldTitle(t)
	}
	return []any{
		titles,
		e.CurrentChapter,
		e.ViewedChapter,
		e.Cover,
		e.LastUpdate.UTC(),
		int(e.Type),
		int(e.Status),
		publishers,
		genres,
		e.Author,
		e.Description,
		e.Track,
		e.Rating,
		e.Deleted,
		keys,
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
