package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS user_sessions (
	user_id       TEXT PRIMARY KEY,
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_activity TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS conversation_turns (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES user_sessions(user_id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS conversation_turns_user_idx ON conversation_turns (user_id, id);
CREATE INDEX IF NOT EXISTS user_sessions_activity_idx ON user_sessions (last_activity);
`

// PostgresSessionRepository persists sessions in two tables; turns beyond the cap
// are deleted in the same transaction that inserts new ones.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

func NewPostgresSessionRepository(pool *pgxpool.Pool, ttl time.Duration) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool, ttl: ttl, now: time.Now}
}

// EnsureSchema creates the session tables when missing.
func (r *PostgresSessionRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, sessionSchema); err != nil {
		logx.Error().Err(err).Msg("failed to create session tables")
		return errx.WrapPostgres(err)
	}
	return nil
}

func (r *PostgresSessionRepository) Load(ctx context.Context, userID string) (*model.Session, error) {
	s := &model.Session{UserID: userID}
	var meta []byte
	err := r.pool.QueryRow(ctx,
		`SELECT metadata, created_at, last_activity FROM user_sessions WHERE user_id = $1`, userID,
	).Scan(&meta, &s.CreatedAt, &s.LastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to load session")
		return nil, errx.WrapPostgres(err)
	}
	if s.Expired(r.now(), r.ttl) {
		return nil, model.ErrSessionNotFound
	}
	if err := json.Unmarshal(meta, &s.Metadata); err != nil {
		logx.Warn().Err(err).Str("user_id", userID).Msg("failed to decode session metadata")
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT role, content, metadata, created_at FROM conversation_turns WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to load turns")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	s.Turns = []model.Turn{}
	for rows.Next() {
		var (
			t     model.Turn
			role  string
			tmeta []byte
		)
		if err := rows.Scan(&role, &t.Content, &tmeta, &t.Timestamp); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		t.Role = model.Role(role)
		if err := json.Unmarshal(tmeta, &t.Metadata); err != nil {
			logx.Warn().Err(err).Str("user_id", userID).Msg("failed to decode turn metadata")
		}
		s.Turns = append(s.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	return s, nil
}

func (r *PostgresSessionRepository) Save(ctx context.Context, s *model.Session) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := upsertSession(ctx, tx, s); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM conversation_turns WHERE user_id = $1`, s.UserID); err != nil {
			return errx.WrapPostgres(err)
		}
		return insertTurns(ctx, tx, s.UserID, s.Turns)
	})
}

func (r *PostgresSessionRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to delete session")
		return errx.WrapPostgres(err)
	}
	return nil
}

func (r *PostgresSessionRepository) AppendTurns(ctx context.Context, userID string, max int, turns ...model.Turn) (*model.Session, error) {
	now := r.now()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.resetIfExpired(ctx, tx, userID, now); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO user_sessions (user_id, created_at, last_activity) VALUES ($1, $2, $2)
			ON CONFLICT (user_id) DO UPDATE SET last_activity = EXCLUDED.last_activity`, userID, now)
		if err != nil {
			return errx.WrapPostgres(err)
		}
		if err := insertTurns(ctx, tx, userID, turns); err != nil {
			return err
		}
		if max > 0 {
			_, err = tx.Exec(ctx, `
				DELETE FROM conversation_turns WHERE user_id = $1 AND id NOT IN (
					SELECT id FROM conversation_turns WHERE user_id = $1 ORDER BY id DESC LIMIT $2
				)`, userID, max)
			if err != nil {
				return errx.WrapPostgres(err)
			}
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to append turns")
		return nil, err
	}
	return r.Load(ctx, userID)
}

// resetIfExpired drops an expired session and its turns so the append starts a
// fresh one, matching the memory and redis stores.
func (r *PostgresSessionRepository) resetIfExpired(ctx context.Context, tx pgx.Tx, userID string, now time.Time) error {
	if r.ttl <= 0 {
		return nil
	}
	stored := model.Session{UserID: userID}
	err := tx.QueryRow(ctx,
		`SELECT last_activity FROM user_sessions WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&stored.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errx.WrapPostgres(err)
	}
	if !stored.Expired(now, r.ttl) {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID); err != nil {
		return errx.WrapPostgres(err)
	}
	logx.Debug().Str("user_id", userID).Time("last_activity", stored.LastActivity).Msg("expired session reset")
	return nil
}

func (r *PostgresSessionRepository) PurgeExpired(ctx context.Context) (int, error) {
	if r.ttl <= 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE last_activity < $1`, r.now().Add(-r.ttl))
	if err != nil {
		logx.Error().Err(err).Msg("failed to purge expired sessions")
		return 0, errx.WrapPostgres(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresSessionRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM user_sessions WHERE last_activity >= $1`, r.now().Add(-r.ttl),
	).Scan(&n)
	if err != nil {
		return 0, errx.WrapPostgres(err)
	}
	return n, nil
}

func upsertSession(ctx context.Context, tx pgx.Tx, s *model.Session) error {
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO user_sessions (user_id, metadata, created_at, last_activity) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET metadata = EXCLUDED.metadata, last_activity = EXCLUDED.last_activity`,
		s.UserID, meta, s.CreatedAt, s.LastActivity)
	return errx.WrapPostgres(err)
}

func insertTurns(ctx context.Context, tx pgx.Tx, userID string, turns []model.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range turns {
		meta, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("marshal turn metadata: %w", err)
		}
		if t.Metadata == nil {
			meta = []byte("{}")
		}
		batch.Queue(`INSERT INTO conversation_turns (user_id, role, content, metadata, created_at) VALUES ($1, $2, $3, $4, $5)`,
			userID, string(t.Role), t.Content, meta, t.Timestamp)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errx.WrapPostgres(err)
	}
	return nil
}

var _ model.SessionRepository = (*PostgresSessionRepository)(nil)
