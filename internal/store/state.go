package store

import (
	"database/sql"
	"time"
)

// User-state keys shared across the daemon.
const (
	StateCaughtUpAt   = "caught_up_at"
	StateLastReportAt = "last_report_at"
)

// SetState upserts a user-state scalar.
func (s *Session) SetState(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := s.q.Exec(`
		INSERT INTO user_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetState returns a user-state scalar. ok is false when the key was never
// set.
func (s *Session) GetState(key string) (value string, ok bool, err error) {
	err = s.q.QueryRow(`SELECT value FROM user_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// CaughtUpAt returns the user's caught-up marker, zero when never set.
func (s *Session) CaughtUpAt() (time.Time, error) {
	value, ok, err := s.GetState(StateCaughtUpAt)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// SetCaughtUpAt stamps the caught-up marker.
func (s *Session) SetCaughtUpAt(t time.Time) error {
	return s.SetState(StateCaughtUpAt, t.UTC().Format(time.RFC3339))
}
