package sync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"teletriage/internal/bus"
	"teletriage/internal/provider"
	"teletriage/internal/ratelimit"
	"teletriage/internal/store"
)

// SyncMessages fetches up to limit recent messages for one conversation and
// caches the ones not seen before. Cached rows are never overwritten; edit
// propagation is out of scope. Returns the number of new rows.
func (e *Engine) SyncMessages(ctx context.Context, conv *store.Conversation, limit int, owner provider.Owner) (int, error) {
	entity, err := e.client.GetEntity(ctx, conv.ProviderID)
	if err != nil {
		return 0, fmt.Errorf("resolve entity %d: %w", conv.ProviderID, err)
	}

	messages, err := ratelimit.DoValue(ctx, e.limiter, func(ctx context.Context) ([]provider.MessageSnapshot, error) {
		return e.client.GetMessages(ctx, entity, limit)
	})
	if err != nil {
		return 0, fmt.Errorf("get messages: %w", err)
	}

	patterns := mentionPatterns(owner)
	isGroup := conv.ProviderType == string(provider.EntityGroup) ||
		conv.ProviderType == string(provider.EntityChannel)

	tx, err := e.db.BeginTx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	newCount := 0
	for _, msg := range messages {
		if msg.ID == 0 {
			continue
		}
		cached, err := tx.HasMessage(conv.UUID, msg.ID)
		if err != nil {
			return 0, err
		}
		if cached {
			continue
		}

		row := &store.Message{
			ConversationUUID: conv.UUID,
			MessageID:        msg.ID,
			Date:             msg.Date.UnixMilli(),
			Text:             msg.Text,
			HasMedia:         msg.HasMedia,
			ReplyToMessageID: msg.ReplyToID,
			MentionsOwner:    mentionsOwner(msg.Text, patterns),
		}
		if msg.Sender != nil {
			row.SenderID = msg.Sender.ID
			row.SenderName = msg.Sender.Name
		}
		if err := tx.InsertMessage(row); err != nil {
			return 0, err
		}
		newCount++

		if isGroup && msg.Sender != nil && msg.Sender.ID != 0 && msg.Sender.Name != "" {
			if err := e.upsertSender(&tx.Session, conv.UUID, msg.Sender); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit messages: %w", err)
	}

	if newCount > 0 {
		e.bus.Emit(bus.KindSyncMessages, map[string]any{
			"conversation": conv.UUID, "new": newCount,
		})
	}
	return newCount, nil
}

// upsertSender makes sure a message sender exists as a participant and is
// linked to the conversation. Link creation is idempotent.
func (e *Engine) upsertSender(s *store.Session, conversationUUID string, sender *provider.SenderSnapshot) error {
	p, err := s.GetParticipantByProviderID(sender.ID)
	if err != nil {
		return err
	}
	if p == nil {
		p = &store.Participant{
			ProviderUserID: sender.ID,
			DisplayName:    sender.Name,
			Username:       sender.Username,
		}
		if err := s.InsertParticipant(p); err != nil {
			return err
		}
	}
	_, err = s.LinkParticipant(conversationUUID, p.ID, "")
	return err
}

// SyncParticipants walks the member roster of a group or channel. Provider
// errors (e.g. insufficient rights) are logged and yield zero: the calling
// batch must tolerate unreadable conversations. Returns the number of newly
// linked participants.
func (e *Engine) SyncParticipants(ctx context.Context, conv *store.Conversation, limit int, onProgress ProgressFunc) (int, error) {
	if conv.ProviderType != string(provider.EntityGroup) &&
		conv.ProviderType != string(provider.EntityChannel) {
		return 0, nil
	}

	entity, err := e.client.GetEntity(ctx, conv.ProviderID)
	if err != nil {
		return 0, fmt.Errorf("resolve entity %d: %w", conv.ProviderID, err)
	}

	roster, err := ratelimit.DoValue(ctx, e.limiter, func(ctx context.Context) ([]provider.ParticipantSnapshot, error) {
		return e.client.GetParticipants(ctx, entity, limit)
	})
	if err != nil {
		e.logger.Warn("participant roster unavailable",
			zap.String("conversation", conv.UUID), zap.Error(err))
		return 0, nil
	}

	tx, err := e.db.BeginTx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	linked := 0
	total := len(roster)
	for i, member := range roster {
		if member.ID == 0 {
			continue
		}
		p, err := tx.GetParticipantByProviderID(member.ID)
		if err != nil {
			return 0, err
		}
		if p == nil {
			p = &store.Participant{
				ProviderUserID: member.ID,
				DisplayName:    displayName(member),
				Username:       member.Username,
			}
			if err := tx.InsertParticipant(p); err != nil {
				return 0, err
			}
		} else if p.DisplayName != displayName(member) || (member.Username != "" && p.Username != member.Username) {
			username := p.Username
			if member.Username != "" {
				username = member.Username
			}
			if err := tx.UpdateParticipantIdentity(p.ID, displayName(member), username); err != nil {
				return 0, err
			}
		}

		created, err := tx.LinkParticipant(conv.UUID, p.ID, member.Role)
		if err != nil {
			return 0, err
		}
		if created {
			linked++
		}

		if onProgress != nil {
			onProgress(i+1, total, fmt.Sprintf("Syncing participant: %s", displayName(member)))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit participants: %w", err)
	}

	e.bus.Emit(bus.KindSyncParticipants, map[string]any{
		"conversation": conv.UUID, "linked": linked,
	})
	return linked, nil
}

func displayName(p provider.ParticipantSnapshot) string {
	if p.Name != "" {
		return p.Name
	}
	return "Unknown"
}

// mentionPatterns builds the lowercase needles used to flag messages that
// mention the inbox owner. Matching the bare first name is intentionally
// crude: false positives are accepted to never miss an exact handle mention.
func mentionPatterns(owner provider.Owner) []string {
	var patterns []string
	if owner.Username != "" {
		patterns = append(patterns, "@"+strings.ToLower(owner.Username))
	}
	if owner.FirstName != "" {
		patterns = append(patterns, strings.ToLower(owner.FirstName))
	}
	return patterns
}

func mentionsOwner(text string, patterns []string) bool {
	if text == "" || len(patterns) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
