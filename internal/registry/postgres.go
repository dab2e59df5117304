package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/postgres"
)

// Schema creates the global_repos table. At most one row may have a NULL
// repo_url, which is the meta-directory.
const Schema = `
CREATE TABLE IF NOT EXISTS global_repos (
    alias_name      TEXT PRIMARY KEY,
    repo_name       TEXT NOT NULL,
    repo_url        TEXT,
    clone_path      TEXT NOT NULL,
    index_path      TEXT NOT NULL DEFAULT '',
    enable_temporal BOOLEAN NOT NULL DEFAULT FALSE,
    enable_scip     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_refresh    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS global_repos_single_meta
    ON global_repos ((repo_url IS NULL)) WHERE repo_url IS NULL;
`

const selectColumns = `alias_name, repo_name, repo_url, clone_path, index_path,
       enable_temporal, enable_scip, created_at, last_refresh`

// PostgresStore keeps the registry in PostgreSQL through lib/pq.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "registry", "backend", "postgres"),
	}
}

// EnsureSchema creates the table and indexes when missing, in one
// transaction so a half-created schema is never left behind.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, Schema); err != nil {
			return fmt.Errorf("creating global_repos schema: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, alias string) (Entry, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM global_repos WHERE alias_name = $1`,
		alias,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", apperrors.ErrRepoNotFound, alias)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("querying repo %s: %w", alias, err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM global_repos ORDER BY alias_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning repo row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Register(ctx context.Context, reg Registration) (Entry, error) {
	if err := reg.validate(); err != nil {
		return Entry{}, err
	}
	e := reg.entry(time.Now().UTC())
	var url sql.NullString
	if e.RepoURL != "" {
		url = sql.NullString{String: e.RepoURL, Valid: true}
	}
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO global_repos
		    (alias_name, repo_name, repo_url, clone_path, index_path,
		     enable_temporal, enable_scip, created_at, last_refresh)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		e.AliasName, e.Name, url, e.ClonePath, e.IndexPath,
		e.EnableTemporal, e.EnableSCIP, e.CreatedAt,
	)
	if postgres.IsUniqueViolation(err) {
		return Entry{}, fmt.Errorf("%w: %s", apperrors.ErrRepoExists, e.AliasName)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("registering repo %s: %w", e.AliasName, err)
	}
	s.logger.Info("repository registered",
		"alias", e.AliasName,
		"upstream", e.Upstream().Kind.String(),
	)
	return e, nil
}

func (s *PostgresStore) UpdateFlags(ctx context.Context, alias string, temporal, scip *bool) error {
	if temporal == nil && scip == nil {
		return nil
	}
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE global_repos
		    SET enable_temporal = COALESCE($2::boolean, enable_temporal),
		        enable_scip     = COALESCE($3::boolean, enable_scip)
		  WHERE alias_name = $1`,
		alias, nullBool(temporal), nullBool(scip),
	)
	if err != nil {
		return fmt.Errorf("updating flags for %s: %w", alias, err)
	}
	return requireRow(res, alias)
}

func (s *PostgresStore) UpdateIndexPath(ctx context.Context, alias, path string, refreshedAt time.Time) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE global_repos SET index_path = $2, last_refresh = $3 WHERE alias_name = $1`,
		alias, path, refreshedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("updating index path for %s: %w", alias, err)
	}
	return requireRow(res, alias)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var url sql.NullString
	err := row.Scan(
		&e.AliasName, &e.Name, &url, &e.ClonePath, &e.IndexPath,
		&e.EnableTemporal, &e.EnableSCIP, &e.CreatedAt, &e.LastRefresh,
	)
	if err != nil {
		return Entry{}, err
	}
	e.RepoURL = url.String
	return e, nil
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func requireRow(res sql.Result, alias string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrRepoNotFound, alias)
	}
	return nil
}
