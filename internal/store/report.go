package store

import (
	"database/sql"
	"time"
)

// InsertReport persists a generated report.
func (s *Session) InsertReport(coversSince int64, reportJSON string) (*Report, error) {
	now := time.Now().UnixMilli()
	res, err := s.q.Exec(`
		INSERT INTO reports (created_at, covers_since, report_json) VALUES (?, ?, ?)`,
		now, coversSince, reportJSON)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Report{ID: id, CreatedAt: now, CoversSince: coversSince, JSON: reportJSON}, nil
}

// GetReport returns a report by ID, or nil if unknown.
func (s *Session) GetReport(id int64) (*Report, error) {
	var r Report
	err := s.q.QueryRow(`
		SELECT report_id, created_at, covers_since, report_json FROM reports WHERE report_id = ?`, id).
		Scan(&r.ID, &r.CreatedAt, &r.CoversSince, &r.JSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestReport returns the newest report, or nil when none exist.
func (s *Session) LatestReport() (*Report, error) {
	var r Report
	err := s.q.QueryRow(`
		SELECT report_id, created_at, covers_since, report_json
		FROM reports ORDER BY created_at DESC, report_id DESC LIMIT 1`).
		Scan(&r.ID, &r.CreatedAt, &r.CoversSince, &r.JSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReports returns recent reports without their JSON payloads, newest
// first.
func (s *Session) ListReports(limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(`
		SELECT report_id, created_at, covers_since
		FROM reports ORDER BY created_at DESC, report_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.CoversSince); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
