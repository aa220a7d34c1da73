// Package postgres persists transcripts in PostgreSQL. Turns are
// appended to a single table whose bigserial key preserves append order
// within a conversation.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/meetline-ai/meetline/pkg/core/transcript"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements transcript.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and runs pending migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies the embedded schema migrations. Goose drives a
// database/sql handle, so it opens its own short-lived connection.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres for migration: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Append implements transcript.Store.
func (s *Store) Append(ctx context.Context, conversationID string, turn transcript.Turn) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_turns (conversation_id, role, content, spoken_at)
		 VALUES ($1, $2, $3, $4)`,
		conversationID, string(turn.Role), turn.Content, turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Turns implements transcript.Store. Rows come back in insertion order.
func (s *Store) Turns(ctx context.Context, conversationID string) ([]transcript.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, spoken_at
		 FROM transcript_turns
		 WHERE conversation_id = $1
		 ORDER BY id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var turns []transcript.Turn
	for rows.Next() {
		var (
			role string
			turn transcript.Turn
		)
		if err := rows.Scan(&role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = transcript.Role(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	return turns, nil
}
