package store

import (
	"database/sql"
	"time"
)

// CreateBulkJob persists a bulk send job plus one item per recipient, all
// carrying their final rendered text. Call inside a transaction.
func (s *Session) CreateBulkJob(template string, items []BulkSendItem) (*BulkSendJob, error) {
	now := time.Now().UnixMilli()
	res, err := s.q.Exec(`
		INSERT INTO bulk_send_jobs (created_at, template, total_count, sent_count, status)
		VALUES (?, ?, ?, 0, ?)`,
		now, template, len(items), BulkStatusPending)
	if err != nil {
		return nil, err
	}
	jobID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for i := range items {
		items[i].JobID = jobID
		items[i].Status = ItemStatusPending
		res, err := s.q.Exec(`
			INSERT INTO bulk_send_items (job_id, conversation_uuid, rendered_message, status, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			jobID, items[i].ConversationUUID, items[i].RenderedMessage, ItemStatusPending, now)
		if err != nil {
			return nil, err
		}
		if items[i].ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}

	return &BulkSendJob{
		ID:         jobID,
		CreatedAt:  now,
		Template:   template,
		TotalCount: len(items),
		Status:     BulkStatusPending,
	}, nil
}

// GetBulkJob returns a job by ID, or nil if unknown.
func (s *Session) GetBulkJob(jobID int64) (*BulkSendJob, error) {
	var j BulkSendJob
	err := s.q.QueryRow(`
		SELECT job_id, created_at, template, total_count, sent_count, status
		FROM bulk_send_jobs WHERE job_id = ?`, jobID).
		Scan(&j.ID, &j.CreatedAt, &j.Template, &j.TotalCount, &j.SentCount, &j.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ListBulkJobs returns recent jobs, newest first.
func (s *Session) ListBulkJobs(limit int) ([]BulkSendJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(`
		SELECT job_id, created_at, template, total_count, sent_count, status
		FROM bulk_send_jobs ORDER BY created_at DESC, job_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []BulkSendJob
	for rows.Next() {
		var j BulkSendJob
		if err := rows.Scan(&j.ID, &j.CreatedAt, &j.Template, &j.TotalCount, &j.SentCount, &j.Status); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// PendingBulkItems returns the still-pending items of a job in original
// insertion order. A resumed run reprocesses only these; sent and failed
// items are never retried automatically.
func (s *Session) PendingBulkItems(jobID int64) ([]BulkSendItem, error) {
	rows, err := s.q.Query(`
		SELECT item_id, job_id, conversation_uuid, rendered_message, status, sent_at, error
		FROM bulk_send_items
		WHERE job_id = ? AND status = ?
		ORDER BY item_id ASC`, jobID, ItemStatusPending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []BulkSendItem
	for rows.Next() {
		var it BulkSendItem
		if err := rows.Scan(&it.ID, &it.JobID, &it.ConversationUUID, &it.RenderedMessage,
			&it.Status, &it.SentAt, &it.Error); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListBulkItems returns all items of a job in insertion order.
func (s *Session) ListBulkItems(jobID int64) ([]BulkSendItem, error) {
	rows, err := s.q.Query(`
		SELECT item_id, job_id, conversation_uuid, rendered_message, status, sent_at, error
		FROM bulk_send_items WHERE job_id = ? ORDER BY item_id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []BulkSendItem
	for rows.Next() {
		var it BulkSendItem
		if err := rows.Scan(&it.ID, &it.JobID, &it.ConversationUUID, &it.RenderedMessage,
			&it.Status, &it.SentAt, &it.Error); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SetBulkJobStatus updates the job status.
func (s *Session) SetBulkJobStatus(jobID int64, status string) error {
	_, err := s.q.Exec(`UPDATE bulk_send_jobs SET status = ? WHERE job_id = ?`, status, jobID)
	return err
}

// MarkBulkItemSent marks an item sent and bumps the job's sent count.
func (s *Session) MarkBulkItemSent(itemID, jobID int64) error {
	now := time.Now().UnixMilli()
	if _, err := s.q.Exec(`
		UPDATE bulk_send_items SET status = ?, sent_at = ? WHERE item_id = ?`,
		ItemStatusSent, now, itemID); err != nil {
		return err
	}
	_, err := s.q.Exec(`
		UPDATE bulk_send_jobs SET sent_count = sent_count + 1 WHERE job_id = ?`, jobID)
	return err
}

// MarkBulkItemFailed records an item failure without touching the job's sent
// count.
func (s *Session) MarkBulkItemFailed(itemID int64, errMsg string) error {
	_, err := s.q.Exec(`
		UPDATE bulk_send_items SET status = ?, error = ? WHERE item_id = ?`,
		ItemStatusFailed, errMsg, itemID)
	return err
}
