package store

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Conversation mirrors one remote dialog. The UUID is the local identity;
// (ProviderType, ProviderID) is unique but may be reclassified remotely, so
// nothing else references the provider pair.
type Conversation struct {
	UUID               string
	ProviderType       string // user | group | channel | private
	ProviderID         int64
	DisplayName        string
	Username           string
	UnreadCount        int
	LastReadID         int64
	LastMessageAt      int64
	LastMessagePreview string
	CreatedAt          int64
	UpdatedAt          int64
}

// Metadata is the user-owned annotation layer for a conversation. Absence is
// equivalent to all-defaults.
type Metadata struct {
	ConversationUUID string
	Priority         string // high | medium | low
	Tags             []string
	Muted            bool
	Notes            string
	CustomFields     map[string]string
	UpdatedAt        int64
}

// Participant is a remote user observed as a sender or group member,
// deduplicated by provider user ID.
type Participant struct {
	ID             int64
	ProviderUserID int64 // 0 = unknown; such rows are orphans
	DisplayName    string
	Username       string
	Priority       string
	Tags           []string
	CustomFields   map[string]string
}

// Message is a cached message; the remote provider stays the source of truth.
type Message struct {
	ID               int64
	ConversationUUID string
	MessageID        int64
	Date             int64
	SenderID         int64 // 0 = unknown sender
	SenderName       string
	Text             string
	HasMedia         bool
	ReplyToMessageID int64
	MentionsOwner    bool
}

// Bulk send statuses.
const (
	BulkStatusPending         = "pending"
	BulkStatusRunning         = "running"
	BulkStatusCompleted       = "completed"
	BulkStatusCompletedErrors = "completed_with_errors"

	ItemStatusPending = "pending"
	ItemStatusSent    = "sent"
	ItemStatusFailed  = "failed"
)

// BulkSendJob is a durable multi-recipient send.
type BulkSendJob struct {
	ID         int64
	CreatedAt  int64
	Template   string
	TotalCount int
	SentCount  int
	Status     string
}

// BulkSendItem is one (job, recipient) pair. The rendered message is fixed
// at creation; execution sends exactly that text.
type BulkSendItem struct {
	ID               int64
	JobID            int64
	ConversationUUID string
	RenderedMessage  string
	Status           string
	SentAt           int64
	Error            string
}

// Report is a persisted prioritization artifact.
type Report struct {
	ID          int64
	CreatedAt   int64
	CoversSince int64
	JSON        string
}

// encodeTags canonicalizes a tag set: deduplicated, sorted, stored as a JSON
// array. This is the one serialization boundary for tags; call sites never
// touch raw JSON.
func encodeTags(tags []string) string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	sort.Strings(out)
	b, _ := json.Marshal(out)
	return string(b)
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

func encodeFields(fields map[string]string) string {
	if fields == nil {
		fields = map[string]string{}
	}
	b, _ := json.Marshal(fields)
	return string(b)
}

func decodeFields(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode custom fields: %w", err)
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return fields, nil
}
