package storage

import (
	"context"
	"fmt"
	"strings"
)

// Open selects a storage engine from dsn and connects to it. Schemas are
// created idempotently on first connect.
//
//	postgres://... or postgresql://...   PostgreSQL
//	sqlite://path, file:path, bare path  SQLite
//	:memory:                             in-memory SQLite
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedDSN)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "file:"):
		dsn = strings.TrimPrefix(dsn, "file:")
	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDSN, schemeOf(dsn))
	}

	s, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func schemeOf(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		return dsn[:i]
	}
	return dsn
}
