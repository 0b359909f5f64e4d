package semantic

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/promtior/sitechat/engine/domain"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,50}$`)

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

// PGStore keeps the collection in a pgvector table. Replace loads a staging
// table and renames it over the live one inside a single transaction.
type PGStore struct {
	db    *sqlx.DB
	table string
}

type pgHit struct {
	Source string  `db:"source"`
	Text   string  `db:"text"`
	Score  float32 `db:"score"`
}

// OpenPostgres connects to dsn and makes sure the vector extension and the
// collection table exist.
func OpenPostgres(ctx context.Context, dsn, collection string) (*PGStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("semantic: connect postgres: %w", err)
	}
	s, err := NewPGStore(db, collection)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPGStore wraps an open database. collection must be a lower-case SQL
// identifier.
func NewPGStore(db *sqlx.DB, collection string) (*PGStore, error) {
	if !tableName.MatchString(collection) {
		return nil, fmt.Errorf("semantic: invalid collection name %q", collection)
	}
	return &PGStore{db: db, table: collection}, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id        INTEGER PRIMARY KEY,
			source    TEXT NOT NULL,
			text      TEXT NOT NULL,
			embedding vector NOT NULL
		)`, pq.QuoteIdentifier(s.table)),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("semantic: migrate: %w", err)
		}
	}
	return nil
}

func (s *PGStore) Replace(ctx context.Context, entries []domain.IndexEntry) error {
	live := pq.QuoteIdentifier(s.table)
	staging := pq.QuoteIdentifier(s.table + "_staging")

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("semantic: begin: %w", err)
	}
	defer tx.Rollback()

	ddl := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, staging),
		fmt.Sprintf(`CREATE TABLE %s (
			id        INTEGER PRIMARY KEY,
			source    TEXT NOT NULL,
			text      TEXT NOT NULL,
			embedding vector NOT NULL
		)`, staging),
	}
	for _, q := range ddl {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("semantic: prepare staging: %w", err)
		}
	}

	stmt, err := tx.PreparexContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, source, text, embedding) VALUES ($1, $2, $3, $4)`, staging))
	if err != nil {
		return fmt.Errorf("semantic: prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.Source, e.Text, pgvector.NewVector(e.Embedding)); err != nil {
			return fmt.Errorf("semantic: insert entry %d: %w", i, err)
		}
	}

	swap := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, live),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, staging, live),
	}
	for _, q := range swap {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("semantic: swap table: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("semantic: commit: %w", err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, embedding []float32, k int) ([]domain.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT source, text, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, id
		LIMIT $2`, pq.QuoteIdentifier(s.table))

	var rows []pgHit
	err := s.db.SelectContext(ctx, &rows, query, pgvector.NewVector(embedding), k)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUndefinedTable {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", s.table, err)
	}

	hits := make([]domain.SearchHit, len(rows))
	for i, r := range rows {
		hits[i] = domain.SearchHit{Text: r.Text, Source: r.Source, Score: r.Score}
	}
	return hits, nil
}

func (s *PGStore) Close() error { return s.db.Close() }
