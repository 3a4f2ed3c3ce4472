package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedConversation(t *testing.T, s *Session, name string) *Conversation {
	t.Helper()
	conv := &Conversation{
		UUID:         uuid.NewString(),
		ProviderType: "user",
		ProviderID:   time.Now().UnixNano(),
		DisplayName:  name,
	}
	if err := s.InsertConversation(conv); err != nil {
		t.Fatal(err)
	}
	return conv
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	first, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !first.Changed {
		t.Error("first migration should apply changes")
	}

	second, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if second.Changed {
		t.Error("second migration should be a no-op")
	}
	if second.Version != first.Version {
		t.Errorf("version changed %d -> %d on no-op", first.Version, second.Version)
	}
}

func TestConversationProviderPairUnique(t *testing.T) {
	db := testDB(t)
	s := db.Session()

	conv := &Conversation{
		UUID:         uuid.NewString(),
		ProviderType: "user",
		ProviderID:   42,
		DisplayName:  "Ana",
	}
	if err := s.InsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	dup := &Conversation{
		UUID:         uuid.NewString(),
		ProviderType: "user",
		ProviderID:   42,
		DisplayName:  "Ana again",
	}
	if err := s.InsertConversation(dup); err == nil {
		t.Fatal("duplicate (provider_type, provider_id) insert should fail")
	}

	// Same numeric ID under a different type is a different dialog.
	other := &Conversation{
		UUID:         uuid.NewString(),
		ProviderType: "group",
		ProviderID:   42,
		DisplayName:  "Ana's group",
	}
	if err := s.InsertConversation(other); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConversationByProvider("user", 42)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.UUID != conv.UUID {
		t.Error("lookup by provider pair returned wrong row")
	}
}

func TestConversationSyncFieldUpdate(t *testing.T) {
	db := testDB(t)
	s := db.Session()
	conv := seedConversation(t, s, "Ana")

	conv.UnreadCount = 7
	conv.LastMessagePreview = "see you tomorrow"
	conv.LastMessageAt = time.Now().UnixMilli()
	if err := s.UpdateConversationSyncFields(conv); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConversation(conv.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UnreadCount != 7 || got.LastMessagePreview != "see you tomorrow" {
		t.Errorf("sync fields not persisted: %+v", got)
	}
	if got.UpdatedAt < got.CreatedAt {
		t.Error("updated_at should move forward")
	}
}

func TestUnreadConversationsCutoff(t *testing.T) {
	db := testDB(t)
	s := db.Session()

	now := time.Now().UnixMilli()
	fresh := seedConversation(t, s, "fresh")
	fresh.UnreadCount = 2
	fresh.LastMessageAt = now
	if err := s.UpdateConversationSyncFields(fresh); err != nil {
		t.Fatal(err)
	}

	stale := seedConversation(t, s, "stale")
	stale.UnreadCount = 5
	stale.LastMessageAt = now - 200*24*3600*1000
	if err := s.UpdateConversationSyncFields(stale); err != nil {
		t.Fatal(err)
	}

	seedConversation(t, s, "read") // zero unread

	got, err := s.UnreadConversations(now - 90*24*3600*1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].UUID != fresh.UUID {
		t.Errorf("got %d conversations, want only the fresh unread one", len(got))
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	db := testDB(t)
	s := db.Session()
	conv := seedConversation(t, s, "Ana")

	if err := s.EnsureMetadata(conv.UUID); err != nil {
		t.Fatal(err)
	}
	// Ensure twice is fine and does not reset anything later.
	if err := s.EnsureMetadata(conv.UUID); err != nil {
		t.Fatal(err)
	}

	meta := &Metadata{
		ConversationUUID: conv.UUID,
		Priority:         "high",
		Tags:             []string{"vip", "work", "vip", "alpha"},
		Muted:            true,
		Notes:            "met at conference",
		CustomFields:     map[string]string{"company": "Acme"},
	}
	if err := s.UpsertMetadata(meta); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMetadata(conv.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("metadata missing")
	}
	if got.Priority != "high" || !got.Muted || got.Notes != "met at conference" {
		t.Errorf("fields not persisted: %+v", got)
	}
	// Tags come back deduplicated and sorted.
	if want := "alpha,vip,work"; strings.Join(got.Tags, ",") != want {
		t.Errorf("tags = %v, want [%s]", got.Tags, want)
	}
	if got.CustomFields["company"] != "Acme" {
		t.Errorf("custom fields = %v", got.CustomFields)
	}
}

func TestGetMetadataAbsent(t *testing.T) {
	db := testDB(t)
	got, err := db.Session().GetMetadata(uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("absent metadata should be nil, not an error")
	}
}

func TestMessageDedup(t *testing.T) {
	db := testDB(t)
	s := db.Session()
	conv := seedConversation(t, s, "Ana")

	msg := &Message{
		ConversationUUID: conv.UUID,
		MessageID:        100,
		Date:             time.Now().UnixMilli(),
		Text:             "hello",
	}
	if err := s.InsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	cached, err := s.HasMessage(conv.UUID, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !cached {
		t.Error("HasMessage should see the cached row")
	}

	dup := &Message{ConversationUUID: conv.UUID, MessageID: 100, Text: "hello again"}
	if err := s.InsertMessage(dup); err == nil {
		t.Error("duplicate (conversation, message_id) insert should fail")
	}

	msgs, err := s.ListMessages(conv.UUID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Errorf("got %d messages, want the original only", len(msgs))
	}
}

func TestParticipantLinking(t *testing.T) {
	db := testDB(t)
	s := db.Session()
	conv := seedConversation(t, s, "group chat")

	p := &Participant{ProviderUserID: 7, DisplayName: "Bob", Username: "bob"}
	if err := s.InsertParticipant(p); err != nil {
		t.Fatal(err)
	}
	if p.ID == 0 {
		t.Fatal("insert should fill the row id")
	}

	created, err := s.LinkParticipant(conv.UUID, p.ID, "member")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first link should report created")
	}
	created, err = s.LinkParticipant(conv.UUID, p.ID, "member")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second link should be an idempotent no-op")
	}

	count, err := s.ParticipantCount(conv.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("participant count = %d, want 1", count)
	}

	got, err := s.GetParticipantByProviderID(7)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Username != "bob" {
		t.Error("lookup by provider user id failed")
	}
}

func TestBulkJobLifecycle(t *testing.T) {
	db := testDB(t)
	s := db.Session()

	a := seedConversation(t, s, "Ana")
	b := seedConversation(t, s, "Bob")

	job, err := s.CreateBulkJob("Hi {{first_name}}", []BulkSendItem{
		{ConversationUUID: a.UUID, RenderedMessage: "Hi Ana"},
		{ConversationUUID: b.UUID, RenderedMessage: "Hi Bob"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.TotalCount != 2 || job.Status != BulkStatusPending {
		t.Fatalf("job = %+v, want 2 pending items", job)
	}

	pending, err := s.PendingBulkItems(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ConversationUUID != a.UUID {
		t.Fatalf("pending = %d items, want 2 in insertion order", len(pending))
	}

	if err := s.MarkBulkItemSent(pending[0].ID, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkBulkItemFailed(pending[1].ID, "entity not found"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetBulkJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SentCount != 1 {
		t.Errorf("sent_count = %d, want 1", got.SentCount)
	}

	remaining, err := s.PendingBulkItems(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("pending after marks = %d, want 0", len(remaining))
	}

	items, err := s.ListBulkItems(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Status != ItemStatusSent || items[1].Status != ItemStatusFailed {
		t.Errorf("item statuses = %s/%s", items[0].Status, items[1].Status)
	}
	if items[1].Error != "entity not found" {
		t.Errorf("item error = %q", items[1].Error)
	}

	if err := s.SetBulkJobStatus(job.ID, BulkStatusCompletedErrors); err != nil {
		t.Fatal(err)
	}
	jobsList, err := s.ListBulkJobs(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobsList) != 1 || jobsList[0].Status != BulkStatusCompletedErrors {
		t.Errorf("job list = %+v", jobsList)
	}
}

func TestUserState(t *testing.T) {
	db := testDB(t)
	s := db.Session()

	_, ok, err := s.GetState(StateCaughtUpAt)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("fresh db should have no caught-up marker")
	}

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SetCaughtUpAt(at); err != nil {
		t.Fatal(err)
	}
	got, err := s.CaughtUpAt()
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(at) {
		t.Errorf("caught up at = %v, want %v", got, at)
	}

	// Upsert: setting again overwrites.
	if err := s.SetState(StateCaughtUpAt, "not-a-time"); err != nil {
		t.Fatal(err)
	}
	value, ok, err := s.GetState(StateCaughtUpAt)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || value != "not-a-time" {
		t.Errorf("state = %q ok=%v", value, ok)
	}
}

func TestReportStore(t *testing.T) {
	db := testDB(t)
	s := db.Session()

	if r, err := s.LatestReport(); err != nil || r != nil {
		t.Fatalf("latest on empty db = %v, %v; want nil, nil", r, err)
	}

	first, err := s.InsertReport(1000, `{"sections":{}}`)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.InsertReport(2000, `{"sections":{"reply_now":[]}}`)
	if err != nil {
		t.Fatal(err)
	}

	latest, err := s.LatestReport()
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest = %d, want %d", latest.ID, second.ID)
	}

	got, err := s.GetReport(first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CoversSince != 1000 {
		t.Errorf("covers_since = %d", got.CoversSince)
	}

	list, err := s.ListReports(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("list = %d reports, want 2", len(list))
	}
}
