package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"teletriage/internal/store"
)

type conversationView struct {
	UUID               string            `json:"uuid"`
	Type               string            `json:"type"`
	DisplayName        string            `json:"display_name"`
	Username           string            `json:"username,omitempty"`
	UnreadCount        int               `json:"unread_count"`
	LastMessageAt      string            `json:"last_message_at,omitempty"`
	LastMessagePreview string            `json:"last_message_preview,omitempty"`
	Priority           string            `json:"priority,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
	Muted              bool              `json:"muted,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	CustomFields       map[string]string `json:"custom_fields,omitempty"`
}

func viewOf(conv *store.Conversation, meta *store.Metadata) conversationView {
	v := conversationView{
		UUID:               conv.UUID,
		Type:               conv.ProviderType,
		DisplayName:        conv.DisplayName,
		Username:           conv.Username,
		UnreadCount:        conv.UnreadCount,
		LastMessagePreview: conv.LastMessagePreview,
	}
	if conv.LastMessageAt != 0 {
		v.LastMessageAt = time.UnixMilli(conv.LastMessageAt).UTC().Format(time.RFC3339)
	}
	if meta != nil {
		v.Priority = meta.Priority
		v.Tags = meta.Tags
		v.Muted = meta.Muted
		v.Notes = meta.Notes
		v.CustomFields = meta.CustomFields
	}
	return v
}

func (s *Server) handleListConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	sess := s.deps.DB.Session()
	convs, err := sess.ListConversations(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]conversationView, 0, len(convs))
	for i := range convs {
		meta, err := sess.GetMetadata(convs[i].UUID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		views = append(views, viewOf(&convs[i], meta))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

func (s *Server) handleGetConversation(c *gin.Context) {
	sess := s.deps.DB.Session()
	conv, err := sess.GetConversation(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	meta, err := sess.GetMetadata(conv.UUID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(conv, meta))
}

type messageView struct {
	ID            int64  `json:"id"`
	Date          string `json:"date,omitempty"`
	SenderID      int64  `json:"sender_id,omitempty"`
	SenderName    string `json:"sender_name,omitempty"`
	Text          string `json:"text"`
	HasMedia      bool   `json:"has_media,omitempty"`
	ReplyToID     int64  `json:"reply_to_id,omitempty"`
	MentionsOwner bool   `json:"mentions_owner,omitempty"`
}

func (s *Server) handleConversationMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	if limit <= 0 || limit > 200 {
		limit = 30
	}

	sess := s.deps.DB.Session()
	conv, err := sess.GetConversation(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	msgs, err := sess.ListMessages(conv.UUID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		v := messageView{
			ID:            m.MessageID,
			SenderID:      m.SenderID,
			SenderName:    m.SenderName,
			Text:          m.Text,
			HasMedia:      m.HasMedia,
			ReplyToID:     m.ReplyToMessageID,
			MentionsOwner: m.MentionsOwner,
		}
		if m.Date != 0 {
			v.Date = time.UnixMilli(m.Date).UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

func (s *Server) handleReply(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	conv, err := s.deps.DB.Session().GetConversation(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	ctx := c.Request.Context()
	entity, err := s.deps.Client.GetEntity(ctx, conv.ProviderID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	err = s.deps.Limiter.Do(ctx, func(ctx context.Context) error {
		return s.deps.Client.SendMessage(ctx, entity, req.Text)
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handlePutMetadata(c *gin.Context) {
	var req struct {
		Priority     *string           `json:"priority"`
		Tags         []string          `json:"tags"`
		Muted        *bool             `json:"muted"`
		Notes        *string           `json:"notes"`
		CustomFields map[string]string `json:"custom_fields"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Priority != nil {
		switch *req.Priority {
		case "high", "medium", "low":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "priority must be high, medium, or low"})
			return
		}
	}

	sess := s.deps.DB.Session()
	conv, err := sess.GetConversation(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	meta, err := sess.GetMetadata(conv.UUID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if meta == nil {
		meta = &store.Metadata{ConversationUUID: conv.UUID, Priority: "medium"}
	}
	if req.Priority != nil {
		meta.Priority = *req.Priority
	}
	if req.Tags != nil {
		meta.Tags = req.Tags
	}
	if req.Muted != nil {
		meta.Muted = *req.Muted
	}
	if req.Notes != nil {
		meta.Notes = *req.Notes
	}
	if req.CustomFields != nil {
		meta.CustomFields = req.CustomFields
	}

	if err := sess.UpsertMetadata(meta); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(conv, meta))
}
