package store

import (
	"database/sql"
	"time"
)

// EnsureMetadata creates the default annotation row for a conversation if it
// does not exist yet.
func (s *Session) EnsureMetadata(conversationUUID string) error {
	now := time.Now().UnixMilli()
	_, err := s.q.Exec(`
		INSERT INTO conversation_metadata (conversation_uuid, updated_at)
		VALUES (?, ?)
		ON CONFLICT (conversation_uuid) DO NOTHING`,
		conversationUUID, now)
	return err
}

// UpsertMetadata writes the full annotation layer for a conversation.
func (s *Session) UpsertMetadata(m *Metadata) error {
	if m.Priority == "" {
		m.Priority = "medium"
	}
	m.UpdatedAt = time.Now().UnixMilli()
	_, err := s.q.Exec(`
		INSERT INTO conversation_metadata
			(conversation_uuid, priority, tags_json, muted, notes, custom_fields_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_uuid) DO UPDATE SET
			priority = excluded.priority,
			tags_json = excluded.tags_json,
			muted = excluded.muted,
			notes = excluded.notes,
			custom_fields_json = excluded.custom_fields_json,
			updated_at = excluded.updated_at`,
		m.ConversationUUID, m.Priority, encodeTags(m.Tags), m.Muted, m.Notes,
		encodeFields(m.CustomFields), m.UpdatedAt)
	return err
}

// GetMetadata returns the annotation row, or nil when none exists. A nil
// result means all-defaults.
func (s *Session) GetMetadata(conversationUUID string) (*Metadata, error) {
	var (
		m         Metadata
		rawTags   string
		rawFields string
	)
	err := s.q.QueryRow(`
		SELECT conversation_uuid, priority, tags_json, muted, notes, custom_fields_json, updated_at
		FROM conversation_metadata WHERE conversation_uuid = ?`, conversationUUID).
		Scan(&m.ConversationUUID, &m.Priority, &rawTags, &m.Muted, &m.Notes, &rawFields, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.Tags, err = decodeTags(rawTags); err != nil {
		return nil, err
	}
	if m.CustomFields, err = decodeFields(rawFields); err != nil {
		return nil, err
	}
	return &m, nil
}
