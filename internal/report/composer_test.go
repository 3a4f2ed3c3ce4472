package report

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teletriage/internal/bus"
	"teletriage/internal/provider"
	"teletriage/internal/ratelimit"
	"teletriage/internal/store"
	intsync "teletriage/internal/sync"
)

type fakeClient struct {
	messages map[int64][]provider.MessageSnapshot
	owner    provider.Owner
}

func (f *fakeClient) ListDialogs(context.Context) ([]provider.DialogSnapshot, error) {
	return nil, nil
}

func (f *fakeClient) GetEntity(_ context.Context, id int64) (provider.EntityRef, error) {
	return id, nil
}

func (f *fakeClient) GetMessages(_ context.Context, entity provider.EntityRef, _ int) ([]provider.MessageSnapshot, error) {
	return f.messages[entity.(int64)], nil
}

func (f *fakeClient) GetParticipants(context.Context, provider.EntityRef, int) ([]provider.ParticipantSnapshot, error) {
	return nil, nil
}

func (f *fakeClient) SendMessage(context.Context, provider.EntityRef, string) error {
	return nil
}

func (f *fakeClient) Me(context.Context) (provider.Owner, error) {
	return f.owner, nil
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

func seedUnread(t *testing.T, db *store.DB, providerID int64, name string, unread int, priority string) *store.Conversation {
	t.Helper()
	conv := &store.Conversation{
		UUID:          uuid.NewString(),
		ProviderType:  "user",
		ProviderID:    providerID,
		DisplayName:   name,
		UnreadCount:   unread,
		LastMessageAt: time.Now().UnixMilli(),
	}
	s := db.Session()
	if err := s.InsertConversation(conv); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureMetadata(conv.UUID); err != nil {
		t.Fatal(err)
	}
	if priority != "" {
		if err := s.UpsertMetadata(&store.Metadata{ConversationUUID: conv.UUID, Priority: priority}); err != nil {
			t.Fatal(err)
		}
	}
	return conv
}

func TestComposerGenerate(t *testing.T) {
	owner := provider.Owner{ID: 99, Username: "maxpower", FirstName: "Max"}
	client := &fakeClient{
		owner: owner,
		messages: map[int64][]provider.MessageSnapshot{
			1: {{ID: 1, Date: time.Now(), Text: "hey @maxpower, urgent question",
				Sender: &provider.SenderSnapshot{ID: 7, Name: "Ana"}}},
			2: {{ID: 1, Date: time.Now(), Text: "newsletter update",
				Sender: &provider.SenderSnapshot{ID: 8, Name: "Bot"}}},
		},
	}

	db := testDB(t)
	limiter := ratelimit.New(time.Microsecond, time.Millisecond, zap.NewNop())
	engine := intsync.NewEngine(db, client, limiter, bus.New(), zap.NewNop())
	composer := NewComposer(db, client, engine, RuleScorer{}, 50, 90*24*time.Hour, zap.NewNop())

	urgent := seedUnread(t, db, 1, "Ana", 2, "high")
	noise := seedUnread(t, db, 2, "Newsletter Bot", 1, "low")

	rep, err := composer.Generate(context.Background(), time.Time{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var data Data
	if err := json.Unmarshal([]byte(rep.JSON), &data); err != nil {
		t.Fatal(err)
	}

	// Ana mentions the owner and carries high priority: 30+40+20 = 90.
	replyNow := data.Sections[SectionReplyNow]
	if len(replyNow) != 1 || replyNow[0].ConversationUUID != urgent.UUID {
		t.Errorf("reply_now = %+v, want Ana's conversation", replyNow)
	}
	low := data.Sections[SectionLowPriority]
	if len(low) != 1 || low[0].ConversationUUID != noise.UUID {
		t.Errorf("low_priority = %+v, want the newsletter", low)
	}
	if data.Stats["total_conversations"] != 2 {
		t.Errorf("stats = %v", data.Stats)
	}

	// Messages were refreshed into the cache on the way.
	count, err := db.Session().MessageCount(urgent.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("cached messages = %d, want 1", count)
	}

	// And the generation timestamp is recorded.
	if _, ok, err := db.Session().GetState(store.StateLastReportAt); err != nil || !ok {
		t.Errorf("last_report_at not stamped (ok=%v err=%v)", ok, err)
	}

	got, err := db.Session().LatestReport()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != rep.ID {
		t.Error("report not persisted as latest")
	}
}

func TestComposerEmptyInbox(t *testing.T) {
	client := &fakeClient{owner: provider.Owner{ID: 99, FirstName: "Max"}}
	db := testDB(t)
	limiter := ratelimit.New(time.Microsecond, time.Millisecond, zap.NewNop())
	engine := intsync.NewEngine(db, client, limiter, bus.New(), zap.NewNop())
	composer := NewComposer(db, client, engine, RuleScorer{}, 50, 90*24*time.Hour, zap.NewNop())

	rep, err := composer.Generate(context.Background(), time.Time{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var data Data
	if err := json.Unmarshal([]byte(rep.JSON), &data); err != nil {
		t.Fatal(err)
	}
	for name, sec := range data.Sections {
		if len(sec) != 0 {
			t.Errorf("section %s = %d items, want empty", name, len(sec))
		}
	}
}
