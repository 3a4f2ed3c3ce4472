// Package bulksend implements the two-phase templated multi-recipient send:
// an advisory preview, then a confirmed durable job executed with pacing and
// per-item failure isolation.
package bulksend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"teletriage/internal/bus"
	"teletriage/internal/provider"
	"teletriage/internal/ratelimit"
	"teletriage/internal/store"
	"teletriage/internal/tmpl"
)

// ErrConfirmationMismatch rejects an execute whose token does not match its
// own recipient count.
var ErrConfirmationMismatch = errors.New("confirmation code mismatch")

// ErrJobNotFound rejects execution of an unknown job ID.
var ErrJobNotFound = errors.New("bulk send job not found")

// Recipient is one resolved entry of a preview.
type Recipient struct {
	ConversationUUID string `json:"conversation_uuid"`
	DisplayName      string `json:"display_name"`
	Username         string `json:"username"`
	RenderedMessage  string `json:"rendered_message"`
}

// Preview is the advisory, non-persisted rendering of a bulk send. It may be
// discarded without side effects.
type Preview struct {
	Template     string
	Recipients   []Recipient
	DelaySeconds int
}

// Result aggregates one execution run.
type Result struct {
	JobID  int64
	Total  int
	Sent   int
	Failed int
	Errors []string
}

// ProgressFunc reports per-item progress as (sent, total, human label).
type ProgressFunc func(current, total int, message string)

// Orchestrator drives prepare, confirm, and execute.
type Orchestrator struct {
	db      *store.DB
	client  provider.Client
	limiter *ratelimit.Limiter
	bus     *bus.Bus
	delay   time.Duration
	logger  *zap.Logger
}

// New creates an orchestrator with the configured inter-send delay.
func New(db *store.DB, client provider.Client, limiter *ratelimit.Limiter, b *bus.Bus, delay time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{db: db, client: client, limiter: limiter, bus: b, delay: delay, logger: logger}
}

// ConfirmationCode derives the token the execute request must echo back.
// It carries only the recipient count: enough to prove the preview step was
// not skipped and the set did not shrink or grow in between, and nothing
// more. This is a deliberately low-assurance check, not a tamper defense.
func ConfirmationCode(recipientCount int) string {
	return fmt.Sprintf("SEND-%d", recipientCount)
}

// Prepare renders the template once per resolvable conversation. References
// that do not resolve are silently dropped, so a shorter recipient list than
// requested is the caller's signal. Prepare does not cap the recipient
// count; the caller enforces the configured maximum before calling.
func (o *Orchestrator) Prepare(conversationUUIDs []string, template string) (*Preview, error) {
	s := o.db.Session()
	preview := &Preview{
		Template:     template,
		DelaySeconds: int(o.delay / time.Second),
	}

	for _, id := range conversationUUIDs {
		conv, err := s.GetConversation(id)
		if err != nil {
			return nil, fmt.Errorf("load conversation %s: %w", id, err)
		}
		if conv == nil {
			continue
		}
		meta, err := s.GetMetadata(id)
		if err != nil {
			return nil, fmt.Errorf("load metadata %s: %w", id, err)
		}
		preview.Recipients = append(preview.Recipients, Recipient{
			ConversationUUID: id,
			DisplayName:      conv.DisplayName,
			Username:         conv.Username,
			RenderedMessage:  tmpl.Render(template, tmpl.Context(conv, meta)),
		})
	}
	return preview, nil
}

// Confirm validates the caller-supplied token against the request's own
// recipient count.
func Confirm(recipientCount int, code string) error {
	if code != ConfirmationCode(recipientCount) {
		return fmt.Errorf("%w: expected %s", ErrConfirmationMismatch, ConfirmationCode(recipientCount))
	}
	return nil
}

// CreateJob persists a confirmed preview as a durable job with one pending
// item per recipient. The rendered text is frozen here: execution sends
// exactly what was previewed.
func (o *Orchestrator) CreateJob(preview *Preview) (*store.BulkSendJob, error) {
	tx, err := o.db.BeginTx()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	items := make([]store.BulkSendItem, len(preview.Recipients))
	for i, r := range preview.Recipients {
		items[i] = store.BulkSendItem{
			ConversationUUID: r.ConversationUUID,
			RenderedMessage:  r.RenderedMessage,
		}
	}
	job, err := tx.CreateBulkJob(preview.Template, items)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job: %w", err)
	}
	return job, nil
}

// Execute runs a job's still-pending items in insertion order, committing
// after every item so a crash never loses or repeats a send. Re-invoking on
// an interrupted job resumes with the pending items only.
func (o *Orchestrator) Execute(ctx context.Context, jobID int64, onProgress ProgressFunc) (*Result, error) {
	s := o.db.Session()

	job, err := s.GetBulkJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %d: %w", jobID, err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	if err := s.SetBulkJobStatus(jobID, store.BulkStatusRunning); err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}

	items, err := s.PendingBulkItems(jobID)
	if err != nil {
		return nil, fmt.Errorf("load pending items: %w", err)
	}

	result := &Result{JobID: jobID, Total: len(items)}
	for i, item := range items {
		if err := o.sendItem(ctx, &item); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.ConversationUUID, err))
			if err := o.markFailed(item.ID, err); err != nil {
				return nil, err
			}
			o.bus.Emit(bus.KindBulkItemFailed, map[string]any{"job": jobID, "item": item.ID})
			// Nothing was delivered, so no pause before the next item.
			continue
		}

		result.Sent++
		if err := o.markSent(item.ID, jobID); err != nil {
			return nil, err
		}
		o.bus.Emit(bus.KindBulkItemSent, map[string]any{"job": jobID, "item": item.ID})
		if onProgress != nil {
			onProgress(result.Sent, len(items), fmt.Sprintf("Sent to %s", item.ConversationUUID))
		}

		if i < len(items)-1 {
			if err := sleep(ctx, o.delay); err != nil {
				return nil, err
			}
		}
	}

	final := store.BulkStatusCompleted
	if result.Failed > 0 {
		final = store.BulkStatusCompletedErrors
	}
	if err := s.SetBulkJobStatus(jobID, final); err != nil {
		return nil, fmt.Errorf("mark %s: %w", final, err)
	}

	o.bus.Emit(bus.KindBulkFinished, map[string]any{
		"job": jobID, "sent": result.Sent, "failed": result.Failed,
	})
	o.logger.Info("bulk send finished",
		zap.Int64("job", jobID),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed))
	return result, nil
}

// sendItem resolves the recipient and delivers the stored rendered text.
func (o *Orchestrator) sendItem(ctx context.Context, item *store.BulkSendItem) error {
	conv, err := o.db.Session().GetConversation(item.ConversationUUID)
	if err != nil {
		return err
	}
	if conv == nil {
		return errors.New("conversation not found")
	}

	entity, err := o.client.GetEntity(ctx, conv.ProviderID)
	if err != nil {
		return fmt.Errorf("resolve entity: %w", err)
	}

	return o.limiter.Do(ctx, func(ctx context.Context) error {
		return o.client.SendMessage(ctx, entity, item.RenderedMessage)
	})
}

// Per-item commit: already-sent items must survive a crash as sent so a
// resumed run never double-sends them.
func (o *Orchestrator) markSent(itemID, jobID int64) error {
	tx, err := o.db.BeginTx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := tx.MarkBulkItemSent(itemID, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

func (o *Orchestrator) markFailed(itemID int64, sendErr error) error {
	tx, err := o.db.BeginTx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := tx.MarkBulkItemFailed(itemID, sendErr.Error()); err != nil {
		return err
	}
	return tx.Commit()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
