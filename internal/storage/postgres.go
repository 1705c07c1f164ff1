package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/kalambet/emobot/internal/profile"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// ErrDuplicateItem is returned when an upsert would store two items that
// differ only by case in one category.
var ErrDuplicateItem = errors.New("duplicate profile item")

// querier is the subset of *pgxpool.Pool the store uses. pgxmock pools
// satisfy it as well.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// PostgresStore keeps profiles in PostgreSQL.
type PostgresStore struct {
	q querier
}

// OpenPostgres connects to dsn, verifies the connection and applies the
// embedded goose migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := migratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{q: pool}, nil
}

// NewPostgresStore wraps an existing connection without running migrations.
func NewPostgresStore(q querier) *PostgresStore {
	return &PostgresStore{q: q}
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	// goose requires *sql.DB; closing it leaves the pool open.
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	migrations, err := fs.Sub(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.q.Close()
	return nil
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.q.Ping(ctx)
}

// GetProfile returns the profile for identity, or nil when it does not exist.
func (s *PostgresStore) GetProfile(ctx context.Context, identity string) (*profile.Profile, error) {
	query, args, err := psql.
		Select("identity", "display_name", "scanning_enabled", "updated_at").
		From("profiles").
		Where(squirrel.Eq{"identity": identity}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building profile query: %w", err)
	}

	p := profile.New("", "")
	err = s.q.QueryRow(ctx, query, args...).Scan(&p.Identity, &p.DisplayName, &p.ScanningEnabled, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", mapError(err))
	}

	items, err := s.queryItems(ctx, squirrel.Eq{"identity": identity})
	if err != nil {
		return nil, err
	}

	profiles := []profile.Profile{p}
	attachItems(profiles, items)
	return &profiles[0], nil
}

// ListProfilesExcept returns every profile other than identity's, ordered by identity.
func (s *PostgresStore) ListProfilesExcept(ctx context.Context, identity string) ([]profile.Profile, error) {
	query, args, err := psql.
		Select("identity", "display_name", "scanning_enabled", "updated_at").
		From("profiles").
		Where(squirrel.NotEq{"identity": identity}).
		OrderBy("identity").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", mapError(err))
	}

	var profiles []profile.Profile
	for rows.Next() {
		p := profile.New("", "")
		if err := rows.Scan(&p.Identity, &p.DisplayName, &p.ScanningEnabled, &p.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", mapError(err))
	}
	if len(profiles) == 0 {
		return nil, nil
	}

	items, err := s.queryItems(ctx, squirrel.NotEq{"identity": identity})
	if err != nil {
		return nil, err
	}
	attachItems(profiles, items)
	return profiles, nil
}

// UpsertProfile replaces the stored snapshot of p in a single transaction.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p profile.Profile) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	updated = updated.UTC()

	upsert, upsertArgs, err := psql.
		Insert("profiles").
		Columns("identity", "display_name", "scanning_enabled", "created_at", "updated_at").
		Values(p.Identity, p.DisplayName, p.ScanningEnabled, updated, updated).
		Suffix(`ON CONFLICT (identity) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			scanning_enabled = EXCLUDED.scanning_enabled,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert: %w", err)
	}

	purge, purgeArgs, err := psql.
		Delete("profile_items").
		Where(squirrel.Eq{"identity": p.Identity}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building item delete: %w", err)
	}

	tx, err := s.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", mapError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, upsert, upsertArgs...); err != nil {
		return fmt.Errorf("upserting profile: %w", mapError(err))
	}
	if _, err := tx.Exec(ctx, purge, purgeArgs...); err != nil {
		return fmt.Errorf("clearing profile items: %w", mapError(err))
	}

	if items := flattenItems(p); len(items) > 0 {
		insert := psql.Insert("profile_items").Columns("identity", "category", "position", "item")
		for _, it := range items {
			insert = insert.Values(it.Identity, it.Category, it.Position, it.Item)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("building item insert: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting profile items: %w", mapError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing profile: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStore) queryItems(ctx context.Context, where squirrel.Sqlizer) ([]itemRow, error) {
	query, args, err := psql.
		Select("identity", "category", "position", "item").
		From("profile_items").
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building item query: %w", err)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying profile items: %w", mapError(err))
	}
	defer rows.Close()

	var items []itemRow
	for rows.Next() {
		var it itemRow
		if err := rows.Scan(&it.Identity, &it.Category, &it.Position, &it.Item); err != nil {
			return nil, fmt.Errorf("scanning profile item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profile items: %w", mapError(err))
	}
	return items, nil
}

// mapError translates PostgreSQL constraint violations into package errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", ErrDuplicateItem, pgErr.Detail)
	case "23514":
		return fmt.Errorf("%w: %s", profile.ErrInvalidCategory, pgErr.ConstraintName)
	}
	return err
}
