package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session histories in PostgreSQL so conversations
// survive process restarts. The window is enforced on write.
type PostgresStore struct {
	pool   *pgxpool.Pool
	window int
}

func NewPostgresStore(ctx context.Context, databaseURL string, window int) (*PostgresStore, error) {
	if window <= 0 {
		window = 3
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, window: window}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_exchanges (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_text TEXT NOT NULL,
			assistant_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_exchanges_session_created
			ON session_exchanges (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, sessionID string) ([]Exchange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_text, assistant_text, created_at
		 FROM session_exchanges WHERE session_id=$1
		 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		s.window,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	items := make([]Exchange, 0, s.window)
	for rows.Next() {
		var e Exchange
		if err := rows.Scan(&e.User, &e.Assistant, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID, userText, assistantText string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_exchanges (id, session_id, user_text, assistant_text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(),
		sessionID,
		userText,
		assistantText,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}

	// Evict rows that fell outside the window so the table stays bounded.
	_, err = s.pool.Exec(ctx,
		`DELETE FROM session_exchanges WHERE session_id=$1 AND id NOT IN (
			SELECT id FROM session_exchanges WHERE session_id=$1
			ORDER BY created_at DESC LIMIT $2
		)`,
		sessionID,
		s.window,
	)
	if err != nil {
		return fmt.Errorf("evict old exchanges: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM session_exchanges WHERE session_id=$1`, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
