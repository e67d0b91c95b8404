package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-proctor/internal/domain"
)

// Store is the Postgres persistence sink: sealed sessions, the activity log and answers.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSession stores the session document; resaving the same id overwrites it.
func (s *Store) SaveSession(ctx context.Context, session domain.QuizSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_sessions (id, user_id, topic, difficulty, termination_reason, score, cheating_flag_count, completed_at, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   termination_reason = EXCLUDED.termination_reason,
		   score = EXCLUDED.score,
		   cheating_flag_count = EXCLUDED.cheating_flag_count,
		   completed_at = EXCLUDED.completed_at,
		   data = EXCLUDED.data,
		   updated_at = NOW()`,
		session.ID, session.UserID, session.Topic, session.Difficulty,
		string(session.TerminationReason), session.Score, session.CheatingFlagCount,
		session.CompletedAt, data,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, sessionID string) (domain.QuizSession, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM quiz_sessions WHERE id=$1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("load session: %w", err)
	}
	var session domain.QuizSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.QuizSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (s *Store) AppendActivityLog(ctx context.Context, entry domain.ActivityEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activity_log (user_id, session_id, kind, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.UserID, entry.SessionID, string(entry.Kind), entry.Detail, entry.At,
	)
	if err != nil {
		return fmt.Errorf("append activity log: %w", err)
	}
	return nil
}

// UpsertAnswer is idempotent, so replaying a buffered answer twice is harmless.
func (s *Store) UpsertAnswer(ctx context.Context, userID, sessionID, questionID, answer string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_answers (session_id, question_id, user_id, answer)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = NOW()`,
		sessionID, questionID, userID, answer,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

// Answers returns the stored answers of a session keyed by question id.
func (s *Store) Answers(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT question_id, answer FROM session_answers WHERE session_id=$1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var qid, answer string
		if err := rows.Scan(&qid, &answer); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out[qid] = answer
	}
	return out, rows.Err()
}

// ActivityCount returns how many activity entries a session has.
func (s *Store) ActivityCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activity_log WHERE session_id=$1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activity: %w", err)
	}
	return n, nil
}
