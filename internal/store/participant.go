package store

import (
	"database/sql"
	"time"
)

// GetParticipantByProviderID looks up by provider user ID. Returns nil when
// unknown.
func (s *Session) GetParticipantByProviderID(providerUserID int64) (*Participant, error) {
	var (
		p         Participant
		rawTags   string
		rawFields string
	)
	err := s.q.QueryRow(`
		SELECT participant_id, provider_user_id, display_name, username, priority, tags_json, custom_fields_json
		FROM participants WHERE provider_user_id = ?`, providerUserID).
		Scan(&p.ID, &p.ProviderUserID, &p.DisplayName, &p.Username, &p.Priority, &rawTags, &rawFields)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Tags, err = decodeTags(rawTags); err != nil {
		return nil, err
	}
	if p.CustomFields, err = decodeFields(rawFields); err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertParticipant inserts a newly observed participant and fills in its
// generated ID.
func (s *Session) InsertParticipant(p *Participant) error {
	if p.Priority == "" {
		p.Priority = "medium"
	}
	now := time.Now().UnixMilli()
	res, err := s.q.Exec(`
		INSERT INTO participants
			(provider_user_id, display_name, username, priority, tags_json, custom_fields_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(p.ProviderUserID), p.DisplayName, p.Username, p.Priority,
		encodeTags(p.Tags), encodeFields(p.CustomFields), now, now)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// UpdateParticipantIdentity refreshes display name and username when the
// roster shows they changed.
func (s *Session) UpdateParticipantIdentity(id int64, displayName, username string) error {
	now := time.Now().UnixMilli()
	_, err := s.q.Exec(`
		UPDATE participants SET display_name = ?, username = ?, updated_at = ?
		WHERE participant_id = ?`, displayName, username, now, id)
	return err
}

// LinkParticipant creates the conversation membership link. Idempotent: an
// existing link is left untouched and created reports false.
func (s *Session) LinkParticipant(conversationUUID string, participantID int64, role string) (created bool, err error) {
	res, err := s.q.Exec(`
		INSERT INTO conversation_participants (conversation_uuid, participant_id, role)
		VALUES (?, ?, ?)
		ON CONFLICT (conversation_uuid, participant_id) DO NOTHING`,
		conversationUUID, participantID, role)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ParticipantCount returns the number of linked participants for a
// conversation.
func (s *Session) ParticipantCount(conversationUUID string) (int64, error) {
	var n int64
	err := s.q.QueryRow(`
		SELECT COUNT(*) FROM conversation_participants WHERE conversation_uuid = ?`,
		conversationUUID).Scan(&n)
	return n, err
}

// Rows with no provider user ID are unjoinable orphans; store NULL so the
// unique index ignores them.
func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
