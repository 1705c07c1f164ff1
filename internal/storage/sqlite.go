package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/emobot/internal/profile"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

// SQLiteStore keeps profiles in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the SQLite database at path and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies embedded SQL migrations that have not been run yet.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := sqliteMigrationsFS.ReadDir("migrations/sqlite")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := sqliteMigrationsFS.ReadFile("migrations/sqlite/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *SQLiteStore) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetProfile returns the profile for identity, or nil when it does not exist.
func (s *SQLiteStore) GetProfile(ctx context.Context, identity string) (*profile.Profile, error) {
	var r profileRow
	var scanning int
	err := s.db.QueryRowContext(ctx, `
		SELECT identity, display_name, scanning_enabled, updated_at
		FROM profiles WHERE identity = ?`, identity,
	).Scan(&r.Identity, &r.DisplayName, &scanning, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	r.ScanningEnabled = scanning != 0

	items, err := s.queryItems(ctx, `
		SELECT identity, category, position, item
		FROM profile_items WHERE identity = ?`, identity)
	if err != nil {
		return nil, err
	}

	profiles := []profile.Profile{fromRow(r)}
	attachItems(profiles, items)
	return &profiles[0], nil
}

// ListProfilesExcept returns every profile other than identity's, ordered by identity.
func (s *SQLiteStore) ListProfilesExcept(ctx context.Context, identity string) ([]profile.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, display_name, scanning_enabled, updated_at
		FROM profiles WHERE identity <> ? ORDER BY identity`, identity)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []profile.Profile
	for rows.Next() {
		var r profileRow
		var scanning int
		if err := rows.Scan(&r.Identity, &r.DisplayName, &scanning, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		r.ScanningEnabled = scanning != 0
		profiles = append(profiles, fromRow(r))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}
	// Release the single connection before the items query.
	rows.Close()
	if len(profiles) == 0 {
		return nil, nil
	}

	items, err := s.queryItems(ctx, `
		SELECT identity, category, position, item
		FROM profile_items WHERE identity <> ?`, identity)
	if err != nil {
		return nil, err
	}
	attachItems(profiles, items)
	return profiles, nil
}

// UpsertProfile replaces the stored snapshot of p in a single transaction.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p profile.Profile) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	ts := updated.UTC().Format(time.RFC3339)
	scanning := 0
	if p.ScanningEnabled {
		scanning = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (identity, display_name, scanning_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			display_name = excluded.display_name,
			scanning_enabled = excluded.scanning_enabled,
			updated_at = excluded.updated_at`,
		p.Identity, p.DisplayName, scanning, ts, ts,
	); err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM profile_items WHERE identity = ?`, p.Identity); err != nil {
		return fmt.Errorf("clearing profile items: %w", err)
	}

	items := flattenItems(p)
	if len(items) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO profile_items (identity, category, position, item) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing item insert: %w", err)
		}
		defer stmt.Close()

		for _, it := range items {
			if _, err := stmt.ExecContext(ctx, it.Identity, it.Category, it.Position, it.Item); err != nil {
				return fmt.Errorf("inserting %s item %q: %w", it.Category, it.Item, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryItems(ctx context.Context, query string, args ...any) ([]itemRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying profile items: %w", err)
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
	return items, rows.Err()
}

func fromRow(r profileRow) profile.Profile {
	p := profile.New(r.Identity, r.DisplayName)
	p.ScanningEnabled = r.ScanningEnabled
	if t, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
		p.UpdatedAt = t
	}
	return p
}
