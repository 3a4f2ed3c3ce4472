// Package report composes a prioritized triage artifact from the synced
// data, scoring unread conversations either with an external LLM or a
// deterministic rule set.
package report

import (
	"context"
	"sort"
	"strings"

	"teletriage/internal/provider"
)

// ConversationContext is what a scorer sees for one conversation.
type ConversationContext struct {
	ConversationUUID string            `json:"conversation_id"`
	Type             string            `json:"type"`
	DisplayName      string            `json:"display_name"`
	Username         string            `json:"username,omitempty"`
	Priority         string            `json:"priority"`
	Tags             []string          `json:"tags,omitempty"`
	UnreadCount      int               `json:"unread_count"`
	CustomFields     map[string]string `json:"custom_fields,omitempty"`
	Messages         []MessageContext  `json:"messages"`
	MentionsOwner    bool              `json:"mentions_owner"`
	RepliesToOwner   bool              `json:"replies_to_owner"`
}

// MessageContext is one message as presented to a scorer.
type MessageContext struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Date   string `json:"date"`
}

// Analysis is a scorer's verdict for one conversation.
type Analysis struct {
	ConversationUUID  string `json:"conversation_id"`
	UrgencyScore      int    `json:"urgency_score"`
	Summary           string `json:"summary"`
	RecommendedAction string `json:"recommended_action"`
	Reasoning         string `json:"reasoning"`
}

// Scorer turns a batch of conversation contexts into per-conversation
// urgency verdicts. A scorer failure surfaces to the caller; the composer
// never degrades silently.
type Scorer interface {
	AnalyzeBatch(ctx context.Context, batch []ConversationContext, owner provider.Owner) ([]Analysis, error)
}

// RuleScorer is the deterministic scorer used when no LLM is configured.
// It weighs owner mentions, replies to the owner, annotated priority, and
// unread volume.
type RuleScorer struct{}

func (RuleScorer) AnalyzeBatch(_ context.Context, batch []ConversationContext, _ provider.Owner) ([]Analysis, error) {
	out := make([]Analysis, 0, len(batch))
	for _, conv := range batch {
		out = append(out, scoreByRules(conv))
	}
	return out, nil
}

func scoreByRules(conv ConversationContext) Analysis {
	score := 30
	var reasons []string

	if conv.MentionsOwner {
		score += 40
		reasons = append(reasons, "mentions you")
	}
	if conv.RepliesToOwner {
		score += 20
		reasons = append(reasons, "replies to you")
	}
	switch conv.Priority {
	case "high":
		score += 20
		reasons = append(reasons, "high priority")
	case "low":
		score -= 20
		reasons = append(reasons, "low priority")
	}
	for _, tag := range conv.Tags {
		if strings.EqualFold(tag, "vip") {
			score += 10
			reasons = append(reasons, "vip tag")
			break
		}
	}
	switch {
	case conv.UnreadCount >= 10:
		score += 10
		reasons = append(reasons, "many unread")
	case conv.UnreadCount >= 3:
		score += 5
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	sort.Strings(reasons)
	return Analysis{
		ConversationUUID:  conv.ConversationUUID,
		UrgencyScore:      score,
		Summary:           summarize(conv),
		RecommendedAction: actionFor(score),
		Reasoning:         strings.Join(reasons, ", "),
	}
}

func summarize(conv ConversationContext) string {
	if len(conv.Messages) == 0 {
		return "No recent messages cached"
	}
	last := conv.Messages[0]
	text := clip(last.Text, 120)
	if last.Sender == "" {
		return text
	}
	return last.Sender + ": " + text
}

// clip cuts s to at most limit characters, never splitting a rune.
func clip(s string, limit int) string {
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

func actionFor(score int) string {
	switch {
	case score >= 80:
		return "reply_now"
	case score >= 40:
		return "review"
	default:
		return "low_priority"
	}
}
