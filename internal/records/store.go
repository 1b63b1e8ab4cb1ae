package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/biblioteca/internal/db"
)

// Store is the SQLite-backed Source.
type Store struct {
	db *db.DB
}

// NewStore creates a new records store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

var _ Source = (*Store)(nil)

// SaveProfile inserts or updates a profile.
func (s *Store) SaveProfile(ctx context.Context, p Profile) (*Profile, error) {
	if strings.TrimSpace(p.Alias) == "" {
		return nil, fmt.Errorf("profile alias is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, alias, age_bracket, literacy_level, schooling_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET alias = excluded.alias, age_bracket = excluded.age_bracket,
		   literacy_level = excluded.literacy_level, schooling_status = excluded.schooling_status`,
		p.ID, p.Alias, p.AgeBracket, p.LiteracyLevel, p.SchoolingStatus, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}
	return &p, nil
}

// SaveSession records a session for an existing profile.
func (s *Store) SaveSession(ctx context.Context, sess Session) (*Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Date.IsZero() {
		return nil, fmt.Errorf("session date is required")
	}
	if sess.Scores == nil {
		sess.Scores = map[string]int{}
	}
	scores, err := json.Marshal(sess.Scores)
	if err != nil {
		return nil, fmt.Errorf("encoding scores: %w", err)
	}
	sess.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, profile_id, session_date, duration_minutes, scores, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProfileID, sess.Date.UTC(), sess.DurationMinutes, string(scores), sess.Notes, sess.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return &sess, nil
}

func (s *Store) Profile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, alias, age_bracket, literacy_level, schooling_status, created_at FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Alias, &p.AgeBracket, &p.LiteracyLevel, &p.SchoolingStatus, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return &p, nil
}

func (s *Store) Recent(ctx context.Context, profileID string, limit int, ids []string) ([]Session, error) {
	query := `SELECT id, profile_id, session_date, duration_minutes, scores, notes, created_at
		 FROM sessions WHERE profile_id = ?`
	args := []any{profileID}

	if len(ids) > 0 {
		query += " AND id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}

	query += " ORDER BY session_date DESC, created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess   Session
			scores string
		)
		if err := rows.Scan(&sess.ID, &sess.ProfileID, &sess.Date, &sess.DurationMinutes, &scores, &sess.Notes, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &sess.Scores); err != nil {
			return nil, fmt.Errorf("decoding scores of session %s: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
