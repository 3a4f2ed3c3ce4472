// Package provider defines the capability interface the triage engine needs
// from the remote messaging provider. The concrete Telegram client lives
// behind this boundary; the engine only ever sees snapshots.
package provider

import (
	"context"
	"fmt"
	"time"
)

// EntityType classifies a remote dialog.
type EntityType string

const (
	EntityUser    EntityType = "user"
	EntityGroup   EntityType = "group"
	EntityChannel EntityType = "channel"
	EntityPrivate EntityType = "private"
)

// EntityRef is an opaque handle the provider can resolve back to a remote
// entity. It is never persisted.
type EntityRef any

// DialogSnapshot is one dialog as the provider sees it right now.
// A nil Entity marks a tombstoned or inaccessible dialog; the reconciler
// skips it without counting it as an error.
type DialogSnapshot struct {
	Entity          EntityRef
	Type            EntityType
	ID              int64
	DisplayName     string
	Username        string
	UnreadCount     int
	LastReadID      int64
	LastMessageDate time.Time
	LastMessageText string
}

// SenderSnapshot identifies the sender of a message, when known.
type SenderSnapshot struct {
	ID       int64
	Name     string
	Username string
}

// MessageSnapshot is one message from a dialog's recent history.
type MessageSnapshot struct {
	ID        int64
	Date      time.Time
	Sender    *SenderSnapshot
	Text      string
	HasMedia  bool
	ReplyToID int64
}

// ParticipantSnapshot is one member of a group or channel roster.
type ParticipantSnapshot struct {
	ID       int64
	Name     string
	Username string
	Role     string
}

// Owner describes the authenticated account whose inbox is being triaged.
type Owner struct {
	ID        int64
	Username  string
	FirstName string
}

// Client is the set of remote calls the engine depends on. Any call may
// return a FloodWaitError, which only the rate limiter consumes.
type Client interface {
	// ListDialogs returns the complete dialog list in provider order.
	// Pagination is the implementation's problem; the slice is full.
	ListDialogs(ctx context.Context) ([]DialogSnapshot, error)

	// GetEntity resolves a provider numeric ID to a sendable entity ref.
	GetEntity(ctx context.Context, id int64) (EntityRef, error)

	// GetMessages returns up to limit recent messages for an entity.
	GetMessages(ctx context.Context, entity EntityRef, limit int) ([]MessageSnapshot, error)

	// GetParticipants returns up to limit roster members. May fail for
	// dialogs the account has no rights on; callers must tolerate that.
	GetParticipants(ctx context.Context, entity EntityRef, limit int) ([]ParticipantSnapshot, error)

	// SendMessage delivers text to an entity.
	SendMessage(ctx context.Context, entity EntityRef, text string) error

	// Me returns the inbox owner's identity.
	Me(ctx context.Context) (Owner, error)
}

// FloodWaitError is the provider's "slow down" signal: the caller must wait
// Seconds before retrying the same call.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry in %ds", e.Seconds)
}
