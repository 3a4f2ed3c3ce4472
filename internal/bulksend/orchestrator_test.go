package bulksend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teletriage/internal/bus"
	"teletriage/internal/provider"
	"teletriage/internal/ratelimit"
	"teletriage/internal/store"
)

// fakeClient scripts delivery outcomes per entity.
type fakeClient struct {
	sent     []string // delivered message texts, in order
	failFor  map[int64]error
	sendBusy int // remaining FloodWaitErrors to issue before succeeding
}

func (f *fakeClient) ListDialogs(context.Context) ([]provider.DialogSnapshot, error) {
	return nil, nil
}

func (f *fakeClient) GetEntity(_ context.Context, id int64) (provider.EntityRef, error) {
	return id, nil
}

func (f *fakeClient) GetMessages(context.Context, provider.EntityRef, int) ([]provider.MessageSnapshot, error) {
	return nil, nil
}

func (f *fakeClient) GetParticipants(context.Context, provider.EntityRef, int) ([]provider.ParticipantSnapshot, error) {
	return nil, nil
}

func (f *fakeClient) SendMessage(_ context.Context, entity provider.EntityRef, text string) error {
	if err := f.failFor[entity.(int64)]; err != nil {
		return err
	}
	if f.sendBusy > 0 {
		f.sendBusy--
		return &provider.FloodWaitError{Seconds: 0}
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeClient) Me(context.Context) (provider.Owner, error) {
	return provider.Owner{ID: 1}, nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testOrchestrator(t *testing.T, client *fakeClient) (*Orchestrator, *store.DB) {
	t.Helper()
	db := testDB(t)
	limiter := ratelimit.New(time.Microsecond, 50*time.Millisecond, zap.NewNop())
	return New(db, client, limiter, bus.New(), 0, zap.NewNop()), db
}

func seedConversation(t *testing.T, db *store.DB, providerID int64, name, username string) *store.Conversation {
	t.Helper()
	conv := &store.Conversation{
		UUID:         uuid.NewString(),
		ProviderType: "user",
		ProviderID:   providerID,
		DisplayName:  name,
		Username:     username,
	}
	if err := db.Session().InsertConversation(conv); err != nil {
		t.Fatal(err)
	}
	return conv
}

func TestConfirmationCode(t *testing.T) {
	if got := ConfirmationCode(3); got != "SEND-3" {
		t.Errorf("code = %q, want SEND-3", got)
	}
	if err := Confirm(3, "SEND-3"); err != nil {
		t.Errorf("matching code rejected: %v", err)
	}
	if err := Confirm(2, "SEND-3"); !errors.Is(err, ErrConfirmationMismatch) {
		t.Errorf("err = %v, want ErrConfirmationMismatch", err)
	}
	if err := Confirm(3, "send-3"); !errors.Is(err, ErrConfirmationMismatch) {
		t.Errorf("codes are case-sensitive, got %v", err)
	}
}

func TestPrepareRendersPerRecipient(t *testing.T) {
	client := &fakeClient{}
	o, db := testOrchestrator(t, client)

	ana := seedConversation(t, db, 1, "Ana Souza", "anas")
	bob := seedConversation(t, db, 2, "Bob", "bob")

	preview, err := o.Prepare([]string{ana.UUID, bob.UUID, uuid.NewString()}, "Hi {{first_name}}!")
	if err != nil {
		t.Fatal(err)
	}
	// The unknown UUID is dropped; the shorter list is the caller's signal.
	if len(preview.Recipients) != 2 {
		t.Fatalf("recipients = %d, want 2", len(preview.Recipients))
	}
	if preview.Recipients[0].RenderedMessage != "Hi Ana!" {
		t.Errorf("rendered = %q, want Hi Ana!", preview.Recipients[0].RenderedMessage)
	}
	if preview.Recipients[1].RenderedMessage != "Hi Bob!" {
		t.Errorf("rendered = %q, want Hi Bob!", preview.Recipients[1].RenderedMessage)
	}
}

func TestExecuteSendsFrozenText(t *testing.T) {
	client := &fakeClient{}
	o, db := testOrchestrator(t, client)
	ana := seedConversation(t, db, 1, "Ana", "anas")

	preview, err := o.Prepare([]string{ana.UUID}, "Hello {{first_name}}")
	if err != nil {
		t.Fatal(err)
	}
	job, err := o.CreateJob(preview)
	if err != nil {
		t.Fatal(err)
	}

	// Renaming after job creation must not change what is sent.
	ana.DisplayName = "Anastasia"
	if err := db.Session().UpdateConversationSyncFields(ana); err != nil {
		t.Fatal(err)
	}

	result, err := o.Execute(context.Background(), job.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Sent != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(client.sent) != 1 || client.sent[0] != "Hello Ana" {
		t.Errorf("sent = %v, want the frozen rendering", client.sent)
	}

	got, err := db.Session().GetBulkJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.BulkStatusCompleted || got.SentCount != 1 {
		t.Errorf("job = %+v, want completed with sent_count 1", got)
	}
}

func TestExecutePartialFailure(t *testing.T) {
	client := &fakeClient{failFor: map[int64]error{2: errors.New("peer blocked the account")}}
	o, db := testOrchestrator(t, client)

	ana := seedConversation(t, db, 1, "Ana", "anas")
	bob := seedConversation(t, db, 2, "Bob", "bob")
	cleo := seedConversation(t, db, 3, "Cleo", "cleo")

	preview, err := o.Prepare([]string{ana.UUID, bob.UUID, cleo.UUID}, "hi")
	if err != nil {
		t.Fatal(err)
	}
	job, err := o.CreateJob(preview)
	if err != nil {
		t.Fatal(err)
	}

	result, err := o.Execute(context.Background(), job.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Sent != 2 || result.Failed != 1 {
		t.Fatalf("result = %+v, want 2 sent 1 failed", result)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %v", result.Errors)
	}

	got, err := db.Session().GetBulkJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.BulkStatusCompletedErrors {
		t.Errorf("status = %s, want completed_with_errors", got.Status)
	}
	if got.SentCount != 2 {
		t.Errorf("sent_count = %d, want 2", got.SentCount)
	}

	items, err := db.Session().ListBulkItems(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if items[1].Status != store.ItemStatusFailed || items[1].Error == "" {
		t.Errorf("failed item = %+v", items[1])
	}
	if items[0].Status != store.ItemStatusSent || items[2].Status != store.ItemStatusSent {
		t.Errorf("surrounding items should still be sent: %+v", items)
	}
}

func TestExecuteSkipsDelayAfterFailedItem(t *testing.T) {
	client := &fakeClient{failFor: map[int64]error{1: errors.New("peer blocked the account")}}
	db := testDB(t)
	limiter := ratelimit.New(time.Microsecond, 50*time.Millisecond, zap.NewNop())
	o := New(db, client, limiter, bus.New(), 200*time.Millisecond, zap.NewNop())

	ana := seedConversation(t, db, 1, "Ana", "anas")
	bob := seedConversation(t, db, 2, "Bob", "bob")

	preview, err := o.Prepare([]string{ana.UUID, bob.UUID}, "hi")
	if err != nil {
		t.Fatal(err)
	}
	job, err := o.CreateJob(preview)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	result, err := o.Execute(context.Background(), job.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Sent != 1 || result.Failed != 1 {
		t.Fatalf("result = %+v, want 1 sent 1 failed", result)
	}
	// First item fails and must not consume the inter-send pause; the
	// second is the last item, so no pause follows it either.
	if elapsed := time.Since(start); elapsed >= 200*time.Millisecond {
		t.Errorf("execute took %v, failed item should not be followed by the delay", elapsed)
	}
}

func TestExecuteResumesPendingOnly(t *testing.T) {
	client := &fakeClient{}
	o, db := testOrchestrator(t, client)

	ana := seedConversation(t, db, 1, "Ana", "anas")
	bob := seedConversation(t, db, 2, "Bob", "bob")

	preview, err := o.Prepare([]string{ana.UUID, bob.UUID}, "hi {{first_name}}")
	if err != nil {
		t.Fatal(err)
	}
	job, err := o.CreateJob(preview)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate an interrupted run that already delivered the first item.
	s := db.Session()
	pending, err := s.PendingBulkItems(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkBulkItemSent(pending[0].ID, job.ID); err != nil {
		t.Fatal(err)
	}

	result, err := o.Execute(context.Background(), job.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 1 || result.Sent != 1 {
		t.Fatalf("result = %+v, want only the pending item", result)
	}
	if len(client.sent) != 1 || client.sent[0] != "hi Bob" {
		t.Errorf("sent = %v, resumed run must not repeat delivered items", client.sent)
	}

	got, err := s.GetBulkJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SentCount != 2 || got.Status != store.BulkStatusCompleted {
		t.Errorf("job = %+v", got)
	}
}

func TestExecuteRetriesFloodWait(t *testing.T) {
	client := &fakeClient{sendBusy: 1}
	o, db := testOrchestrator(t, client)
	ana := seedConversation(t, db, 1, "Ana", "anas")

	preview, err := o.Prepare([]string{ana.UUID}, "hi")
	if err != nil {
		t.Fatal(err)
	}
	job, err := o.CreateJob(preview)
	if err != nil {
		t.Fatal(err)
	}

	result, err := o.Execute(context.Background(), job.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Sent != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, flood wait must be retried, not failed", result)
	}
}

func TestExecuteUnknownJob(t *testing.T) {
	o, _ := testOrchestrator(t, &fakeClient{})
	if _, err := o.Execute(context.Background(), 999, nil); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}
