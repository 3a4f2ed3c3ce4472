package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"teletriage/internal/provider"
	"teletriage/internal/store"
	intsync "teletriage/internal/sync"
)

const scoreBatchSize = 10

// Section names in a generated report.
const (
	SectionReplyNow    = "reply_now"
	SectionReview      = "review"
	SectionLowPriority = "low_priority"
)

// Item is one conversation entry in a report section.
type Item struct {
	ConversationUUID  string `json:"conversation_uuid"`
	DisplayName       string `json:"display_name"`
	Username          string `json:"username,omitempty"`
	Type              string `json:"type"`
	UnreadCount       int    `json:"unread_count"`
	UrgencyScore      int    `json:"urgency_score"`
	Summary           string `json:"summary"`
	RecommendedAction string `json:"recommended_action"`
	Reasoning         string `json:"reasoning"`
}

// Data is the JSON payload persisted with a report.
type Data struct {
	GeneratedAt string            `json:"generated_at"`
	CoversSince string            `json:"covers_since"`
	Sections    map[string][]Item `json:"sections"`
	Stats       map[string]int    `json:"stats"`
}

// Composer generates prioritized reports from synced state.
type Composer struct {
	db         *store.DB
	client     provider.Client
	engine     *intsync.Engine
	scorer     Scorer
	cacheLimit int
	maxAge     time.Duration
	logger     *zap.Logger
}

// NewComposer creates a composer. scorer decides between LLM and rule-based
// prioritization.
func NewComposer(db *store.DB, client provider.Client, engine *intsync.Engine, scorer Scorer, cacheLimit int, maxAge time.Duration, logger *zap.Logger) *Composer {
	return &Composer{
		db:         db,
		client:     client,
		engine:     engine,
		scorer:     scorer,
		cacheLimit: cacheLimit,
		maxAge:     maxAge,
		logger:     logger,
	}
}

// Generate builds and persists a report covering activity since the given
// time. A zero since falls back to the caught-up marker, then to seven days
// ago.
func (c *Composer) Generate(ctx context.Context, since time.Time, onProgress intsync.ProgressFunc) (*store.Report, error) {
	owner, err := c.client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}

	s := c.db.Session()
	if since.IsZero() {
		since, err = s.CaughtUpAt()
		if err != nil {
			return nil, err
		}
	}
	if since.IsZero() {
		since = time.Now().AddDate(0, 0, -7).Truncate(24 * time.Hour)
	}

	cutoff := time.Now().Add(-c.maxAge).UnixMilli()
	convs, err := s.UnreadConversations(cutoff)
	if err != nil {
		return nil, fmt.Errorf("load unread conversations: %w", err)
	}

	contexts := make([]ConversationContext, 0, len(convs))
	lookup := make(map[string]*store.Conversation, len(convs))

	for i := range convs {
		conv := &convs[i]
		lookup[conv.UUID] = conv
		if onProgress != nil {
			onProgress(i+1, len(convs), fmt.Sprintf("Fetching messages: %s", conv.DisplayName))
		}

		// Refresh the cache so the scorer sees current messages. A failed
		// refresh is per-conversation: score what we have.
		if _, err := c.engine.SyncMessages(ctx, conv, c.cacheLimit, owner); err != nil {
			c.logger.Warn("message refresh failed", zap.String("conversation", conv.UUID), zap.Error(err))
		}

		cc, err := c.buildContext(s, conv, owner)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, cc)
	}

	if onProgress != nil && len(contexts) > 0 {
		onProgress(len(contexts), len(contexts), "Scoring conversations...")
	}

	var analyses []Analysis
	for i := 0; i < len(contexts); i += scoreBatchSize {
		end := min(i+scoreBatchSize, len(contexts))
		batch, err := c.scorer.AnalyzeBatch(ctx, contexts[i:end], owner)
		if err != nil {
			return nil, fmt.Errorf("score batch: %w", err)
		}
		analyses = append(analyses, batch...)
	}

	data := c.assemble(since, convs, lookup, analyses)
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	rep, err := s.InsertReport(since.UnixMilli(), string(raw))
	if err != nil {
		return nil, fmt.Errorf("persist report: %w", err)
	}
	if err := s.SetState(store.StateLastReportAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	return rep, nil
}

func (c *Composer) buildContext(s *store.Session, conv *store.Conversation, owner provider.Owner) (ConversationContext, error) {
	meta, err := s.GetMetadata(conv.UUID)
	if err != nil {
		return ConversationContext{}, err
	}

	msgs, err := s.ListMessages(conv.UUID, 20)
	if err != nil {
		return ConversationContext{}, err
	}

	cc := ConversationContext{
		ConversationUUID: conv.UUID,
		Type:             conv.ProviderType,
		DisplayName:      conv.DisplayName,
		Username:         conv.Username,
		Priority:         "medium",
		UnreadCount:      conv.UnreadCount,
	}
	if meta != nil {
		cc.Priority = meta.Priority
		cc.Tags = meta.Tags
		cc.CustomFields = meta.CustomFields
	}

	for _, m := range msgs {
		text := clip(m.Text, 500)
		sender := m.SenderName
		if sender == "" {
			sender = "Unknown"
		}
		cc.Messages = append(cc.Messages, MessageContext{
			Sender: sender,
			Text:   text,
			Date:   time.UnixMilli(m.Date).UTC().Format(time.RFC3339),
		})
		if m.MentionsOwner {
			cc.MentionsOwner = true
		}
		if m.ReplyToMessageID != 0 && m.SenderID != owner.ID {
			cc.RepliesToOwner = true
		}
	}
	return cc, nil
}

func (c *Composer) assemble(since time.Time, convs []store.Conversation, lookup map[string]*store.Conversation, analyses []Analysis) *Data {
	sections := map[string][]Item{
		SectionReplyNow:    {},
		SectionReview:      {},
		SectionLowPriority: {},
	}
	totalUnread := 0

	for _, a := range analyses {
		conv, ok := lookup[a.ConversationUUID]
		if !ok {
			continue
		}
		totalUnread += conv.UnreadCount

		item := Item{
			ConversationUUID:  a.ConversationUUID,
			DisplayName:       conv.DisplayName,
			Username:          conv.Username,
			Type:              conv.ProviderType,
			UnreadCount:       conv.UnreadCount,
			UrgencyScore:      a.UrgencyScore,
			Summary:           a.Summary,
			RecommendedAction: a.RecommendedAction,
			Reasoning:         a.Reasoning,
		}

		switch {
		case a.UrgencyScore >= 80:
			sections[SectionReplyNow] = append(sections[SectionReplyNow], item)
		case a.UrgencyScore >= 40:
			sections[SectionReview] = append(sections[SectionReview], item)
		default:
			sections[SectionLowPriority] = append(sections[SectionLowPriority], item)
		}
	}

	for name := range sections {
		sec := sections[name]
		sort.SliceStable(sec, func(i, j int) bool {
			return sec[i].UrgencyScore > sec[j].UrgencyScore
		})
		sections[name] = sec
	}

	return &Data{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		CoversSince: since.UTC().Format(time.RFC3339),
		Sections:    sections,
		Stats: map[string]int{
			"total_conversations": len(convs),
			"total_unread":        totalUnread,
		},
	}
}
