package bus

import "time"

// Event is a single occurrence on the bus: a dotted kind string, the time
// it was emitted, and an arbitrary payload.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the triage engine. Subscribers filter by prefix,
// so "job." matches every job lifecycle event.
const (
	KindJobCreated   = "job.created"
	KindJobProgress  = "job.progress"
	KindJobCompleted = "job.completed"
	KindJobFailed    = "job.failed"

	KindSyncDialogs      = "sync.dialogs"
	KindSyncMessages     = "sync.messages"
	KindSyncParticipants = "sync.participants"

	KindBulkItemSent   = "bulk.item_sent"
	KindBulkItemFailed = "bulk.item_failed"
	KindBulkFinished   = "bulk.finished"
)
