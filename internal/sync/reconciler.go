// Package sync reconciles the remote dialog list and per-conversation
// message and participant caches against the local store.
package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teletriage/internal/bus"
	"teletriage/internal/provider"
	"teletriage/internal/ratelimit"
	"teletriage/internal/store"
)

// ProgressFunc reports progress as (current, total, human label).
type ProgressFunc func(current, total int, message string)

// Result summarizes one reconciliation pass. Errors carry the dialogs that
// failed; they are not part of Total since no persisted decision was made
// for them.
type Result struct {
	New       int
	Updated   int
	Unchanged int
	Errors    []string
}

// Total is the number of dialogs a persisted decision was made for.
func (r *Result) Total() int {
	return r.New + r.Updated + r.Unchanged
}

const previewLimit = 200

// Engine runs sync passes against a provider client.
type Engine struct {
	db      *store.DB
	client  provider.Client
	limiter *ratelimit.Limiter
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, client provider.Client, limiter *ratelimit.Limiter, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{db: db, client: client, limiter: limiter, bus: b, logger: logger}
}

// SyncDialogs reconciles the full remote dialog list against local
// conversations in one pass and one commit. A bad dialog is recorded and
// skipped; it never aborts the pass.
func (e *Engine) SyncDialogs(ctx context.Context, onProgress ProgressFunc) (*Result, error) {
	dialogs, err := ratelimit.DoValue(ctx, e.limiter, func(ctx context.Context) ([]provider.DialogSnapshot, error) {
		return e.client.ListDialogs(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}

	tx, err := e.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &Result{}
	total := len(dialogs)

	for i, dialog := range dialogs {
		if err := e.reconcileDialog(&tx.Session, dialog, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("dialog %d: %v", dialog.ID, err))
			e.logger.Warn("dialog reconciliation failed",
				zap.Int64("dialog_id", dialog.ID), zap.Error(err))
		}
		if onProgress != nil {
			onProgress(i+1, total, fmt.Sprintf("Syncing: %s", dialog.DisplayName))
		}
	}

	// One commit for the whole pass: a crash leaves the previous consistent
	// state, never a half-updated one.
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sync: %w", err)
	}

	e.bus.Emit(bus.KindSyncDialogs, map[string]int{
		"new": result.New, "updated": result.Updated, "unchanged": result.Unchanged,
	})
	e.logger.Info("dialog sync finished",
		zap.Int("new", result.New),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (e *Engine) reconcileDialog(s *store.Session, dialog provider.DialogSnapshot, result *Result) error {
	// Tombstoned or inaccessible dialog: skipped, not counted, not an error.
	if dialog.Entity == nil {
		return nil
	}

	preview := truncate(dialog.LastMessageText, previewLimit)
	lastMessageAt := int64(0)
	if !dialog.LastMessageDate.IsZero() {
		lastMessageAt = dialog.LastMessageDate.UnixMilli()
	}

	existing, err := s.GetConversationByProvider(string(dialog.Type), dialog.ID)
	if err != nil {
		return err
	}

	if existing == nil {
		conv := &store.Conversation{
			UUID:               uuid.NewString(),
			ProviderType:       string(dialog.Type),
			ProviderID:         dialog.ID,
			DisplayName:        dialog.DisplayName,
			Username:           dialog.Username,
			UnreadCount:        dialog.UnreadCount,
			LastReadID:         dialog.LastReadID,
			LastMessageAt:      lastMessageAt,
			LastMessagePreview: preview,
		}
		if err := s.InsertConversation(conv); err != nil {
			return err
		}
		if err := s.EnsureMetadata(conv.UUID); err != nil {
			return err
		}
		result.New++
		return nil
	}

	changed := existing.UnreadCount != dialog.UnreadCount ||
		existing.LastReadID != dialog.LastReadID ||
		existing.LastMessageAt != lastMessageAt ||
		existing.LastMessagePreview != preview ||
		existing.DisplayName != dialog.DisplayName ||
		existing.Username != dialog.Username

	if !changed {
		result.Unchanged++
		return nil
	}

	existing.UnreadCount = dialog.UnreadCount
	existing.LastReadID = dialog.LastReadID
	existing.LastMessageAt = lastMessageAt
	existing.LastMessagePreview = preview
	existing.DisplayName = dialog.DisplayName
	existing.Username = dialog.Username
	if err := s.UpdateConversationSyncFields(existing); err != nil {
		return err
	}
	result.Updated++
	return nil
}

// truncate cuts s to at most limit characters, never splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
