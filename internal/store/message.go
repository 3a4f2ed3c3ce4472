package store

import "time"

// HasMessage reports whether a message is already cached for the
// conversation. Cached messages are never overwritten by a re-sync.
func (s *Session) HasMessage(conversationUUID string, messageID int64) (bool, error) {
	var n int
	err := s.q.QueryRow(`
		SELECT COUNT(*) FROM messages WHERE conversation_uuid = ? AND message_id = ?`,
		conversationUUID, messageID).Scan(&n)
	return n > 0, err
}

// InsertMessage caches one message row.
func (s *Session) InsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	res, err := s.q.Exec(`
		INSERT INTO messages
			(conversation_uuid, message_id, date, sender_id, sender_name, text,
			 has_media, reply_to_message_id, mentions_owner, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationUUID, m.MessageID, m.Date, nullableID(m.SenderID),
		nullableString(m.SenderName), m.Text, m.HasMedia, m.ReplyToMessageID,
		m.MentionsOwner, now)
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

// ListMessages returns the most recent cached messages, newest first.
func (s *Session) ListMessages(conversationUUID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(`
		SELECT id, conversation_uuid, message_id, date,
			COALESCE(sender_id, 0), COALESCE(sender_name, ''),
			text, has_media, reply_to_message_id, mentions_owner
		FROM messages
		WHERE conversation_uuid = ?
		ORDER BY date DESC
		LIMIT ?`, conversationUUID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationUUID, &m.MessageID, &m.Date,
			&m.SenderID, &m.SenderName, &m.Text, &m.HasMedia,
			&m.ReplyToMessageID, &m.MentionsOwner); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of cached messages for a conversation.
func (s *Session) MessageCount(conversationUUID string) (int64, error) {
	var n int64
	err := s.q.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_uuid = ?`,
		conversationUUID).Scan(&n)
	return n, err
}

// Sender info absent at the source stays NULL; names are never fabricated.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
