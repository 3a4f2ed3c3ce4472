package store

import (
	"database/sql"
	"time"
)

const conversationCols = `conversation_uuid, provider_type, provider_id, display_name, username,
	unread_count, last_read_id, last_message_at, last_message_preview, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.UUID, &c.ProviderType, &c.ProviderID, &c.DisplayName, &c.Username,
		&c.UnreadCount, &c.LastReadID, &c.LastMessageAt, &c.LastMessagePreview,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertConversation inserts a freshly observed conversation and stamps its
// audit timestamps.
func (s *Session) InsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.q.Exec(`
		INSERT INTO conversations (`+conversationCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UUID, c.ProviderType, c.ProviderID, c.DisplayName, c.Username,
		c.UnreadCount, c.LastReadID, c.LastMessageAt, c.LastMessagePreview,
		c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateConversationSyncFields writes the reconciler-owned fields and bumps
// updated_at. Annotation data lives in conversation_metadata and is untouched.
func (s *Session) UpdateConversationSyncFields(c *Conversation) error {
	c.UpdatedAt = time.Now().UnixMilli()
	_, err := s.q.Exec(`
		UPDATE conversations
		SET display_name = ?, username = ?, unread_count = ?, last_read_id = ?,
			last_message_at = ?, last_message_preview = ?, updated_at = ?
		WHERE conversation_uuid = ?`,
		c.DisplayName, c.Username, c.UnreadCount, c.LastReadID,
		c.LastMessageAt, c.LastMessagePreview, c.UpdatedAt, c.UUID)
	return err
}

// GetConversationByProvider looks up by the unique (provider_type, provider_id)
// pair. Returns nil when not found.
func (s *Session) GetConversationByProvider(providerType string, providerID int64) (*Conversation, error) {
	return scanConversation(s.q.QueryRow(`
		SELECT `+conversationCols+` FROM conversations
		WHERE provider_type = ? AND provider_id = ?`, providerType, providerID))
}

// GetConversation looks up by local UUID. Returns nil when not found.
func (s *Session) GetConversation(uuid string) (*Conversation, error) {
	return scanConversation(s.q.QueryRow(`
		SELECT `+conversationCols+` FROM conversations
		WHERE conversation_uuid = ?`, uuid))
}

// ListConversations returns conversations ordered by last message, newest
// first.
func (s *Session) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(`
		SELECT `+conversationCols+` FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

// UnreadConversations returns conversations with unread messages whose last
// activity is at or after the cutoff, newest first.
func (s *Session) UnreadConversations(minLastMessageAt int64) ([]Conversation, error) {
	rows, err := s.q.Query(`
		SELECT `+conversationCols+` FROM conversations
		WHERE unread_count > 0 AND last_message_at >= ?
		ORDER BY last_message_at DESC`, minLastMessageAt)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

// RosterCandidates returns group and 1:1 conversations with activity at or
// after the cutoff, newest first. Channels are excluded: their member lists
// run to thousands and are rarely worth caching.
func (s *Session) RosterCandidates(minLastMessageAt int64) ([]Conversation, error) {
	rows, err := s.q.Query(`
		SELECT `+conversationCols+` FROM conversations
		WHERE provider_type IN ('group', 'private') AND last_message_at >= ?
		ORDER BY last_message_at DESC`, minLastMessageAt)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

func collectConversations(rows *sql.Rows) ([]Conversation, error) {
	defer func() { _ = rows.Close() }()
	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// ConversationStats returns the conversation count and total unread count.
func (s *Session) ConversationStats() (count int64, unread int64, err error) {
	err = s.q.QueryRow(`SELECT COUNT(*), COALESCE(SUM(unread_count), 0) FROM conversations`).
		Scan(&count, &unread)
	return count, unread, err
}
