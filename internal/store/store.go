package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/pagepilot/pagepilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL implementation of schemas.ExperienceStore. The
// experiences table is append-only: rows are inserted once and never updated,
// so offline retraining always sees the reward as it stood at write time.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
    CREATE TABLE IF NOT EXISTS experiences (
        id              TEXT PRIMARY KEY,
        session_id      TEXT NOT NULL DEFAULT '',
        state           JSONB NOT NULL,
        action          JSONB NOT NULL,
        reward          DOUBLE PRECISION NOT NULL,
        feedback        TEXT NOT NULL DEFAULT '',
        vision_fallback BOOLEAN NOT NULL DEFAULT FALSE,
        created_at      TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS experiences_session_created_idx
        ON experiences (session_id, created_at DESC);
`

// EnsureSchema creates the experiences table if it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure experiences schema: %w", err)
	}
	return nil
}

const insertSQL = `
    INSERT INTO experiences (id, session_id, state, action, reward, feedback, vision_fallback, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    ON CONFLICT (id) DO NOTHING;
`

// Append inserts experiences inside one transaction. Duplicate ids are
// ignored so the in-memory ledger may safely retry a mirror write.
func (s *Store) Append(ctx context.Context, experiences ...schemas.Experience) error {
	if len(experiences) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed; that is the
		// normal path, not a failure.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batch := &pgx.Batch{}
	for _, exp := range experiences {
		state, err := json.Marshal(exp.State)
		if err != nil {
			return fmt.Errorf("failed to marshal state for experience %s: %w", exp.ID, err)
		}
		action, err := json.Marshal(exp.Action)
		if err != nil {
			return fmt.Errorf("failed to marshal action for experience %s: %w", exp.ID, err)
		}
		createdAt := exp.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		batch.Queue(insertSQL,
			exp.ID, exp.SessionID, state, action,
			exp.Reward, string(exp.Feedback), exp.VisionFallback,
			createdAt.UTC(),
		)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	for i := range experiences {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to insert experience %s (index %d): %w", experiences[i].ID, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count returns how many experiences a session has accumulated. An empty
// session id counts everything.
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	query := `SELECT COUNT(*) FROM experiences WHERE ($1 = '' OR session_id = $1);`
	var count int
	if err := s.pool.QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count experiences: %w", err)
	}
	return count, nil
}

// LoadRecent fetches the newest experiences for a session, newest first.
func (s *Store) LoadRecent(ctx context.Context, sessionID string, limit int) ([]schemas.Experience, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT id, session_id, state, action, reward, feedback, vision_fallback, created_at
        FROM experiences
        WHERE ($1 = '' OR session_id = $1)
        ORDER BY created_at DESC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiences: %w", err)
	}
	defer rows.Close()

	var out []schemas.Experience
	for rows.Next() {
		var (
			exp         schemas.Experience
			state       []byte
			action      []byte
			feedbackStr string
		)
		err := rows.Scan(
			&exp.ID, &exp.SessionID, &state, &action,
			&exp.Reward, &feedbackStr, &exp.VisionFallback, &exp.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experience row: %w", err)
		}
		if err := json.Unmarshal(state, &exp.State); err != nil {
			return nil, fmt.Errorf("failed to decode state for experience %s: %w", exp.ID, err)
		}
		if err := json.Unmarshal(action, &exp.Action); err != nil {
			return nil, fmt.Errorf("failed to decode action for experience %s: %w", exp.ID, err)
		}
		exp.Feedback = schemas.FeedbackKind(feedbackStr)
		out = append(out, exp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
