package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"teletriage/internal/provider"
	"teletriage/internal/store"
)

// rosterActivityWindow bounds roster sync to recently active conversations;
// dormant groups keep whatever roster was cached last.
const rosterActivityWindow = 180 * 24 * time.Hour

// SyncRosters refreshes participant links for recently active groups and 1:1
// chats, capped at limit members per group. A 1:1 chat has no roster to walk;
// its peer is linked directly from the conversation row. A failure on one
// conversation is logged and the walk continues. Returns the number of newly
// linked participants across all conversations.
func (e *Engine) SyncRosters(ctx context.Context, limit int, onProgress ProgressFunc) (int, error) {
	cutoff := time.Now().Add(-rosterActivityWindow).UnixMilli()
	convs, err := e.db.Session().RosterCandidates(cutoff)
	if err != nil {
		return 0, fmt.Errorf("roster candidates: %w", err)
	}

	linked := 0
	total := len(convs)
	for i, conv := range convs {
		if onProgress != nil {
			onProgress(i+1, total, fmt.Sprintf("Participants: %s", conv.DisplayName))
		}

		var n int
		var err error
		if conv.ProviderType == string(provider.EntityPrivate) {
			n, err = e.linkPrivatePeer(&conv)
		} else {
			n, err = e.SyncParticipants(ctx, &conv, limit, nil)
		}
		if err != nil {
			e.logger.Warn("roster sync failed",
				zap.String("conversation", conv.UUID), zap.Error(err))
			continue
		}
		linked += n
	}
	return linked, nil
}

// linkPrivatePeer records the other side of a 1:1 chat as a participant.
func (e *Engine) linkPrivatePeer(conv *store.Conversation) (int, error) {
	tx, err := e.db.BeginTx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := tx.GetParticipantByProviderID(conv.ProviderID)
	if err != nil {
		return 0, err
	}
	if p == nil {
		p = &store.Participant{
			ProviderUserID: conv.ProviderID,
			DisplayName:    conv.DisplayName,
			Username:       conv.Username,
		}
		if err := tx.InsertParticipant(p); err != nil {
			return 0, err
		}
	}

	created, err := tx.LinkParticipant(conv.UUID, p.ID, "")
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit peer link: %w", err)
	}
	if created {
		return 1, nil
	}
	return 0, nil
}
