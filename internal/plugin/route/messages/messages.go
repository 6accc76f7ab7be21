package messages

import (
	"net/http"

	"github.com/gigmarket/chat-service/internal/chat"
	"github.com/gigmarket/chat-service/internal/model"
	"github.com/gigmarket/chat-service/internal/plugin/route/respond"
	registryroute "github.com/gigmarket/chat-service/internal/registry/route"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 110,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts message, receipt and reaction routes.
func MountRoutes(r *gin.Engine, svc *chat.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/conversations/:conversationId/messages", func(c *gin.Context) {
		listMessages(c, svc)
	})
	g.POST("/conversations/:conversationId/messages", func(c *gin.Context) {
		sendMessage(c, svc)
	})
	g.POST("/messages/:messageId/read", func(c *gin.Context) {
		markRead(c, svc)
	})
	g.GET("/messages/:messageId/receipts", func(c *gin.Context) {
		getReceipts(c, svc)
	})
	g.POST("/messages/:messageId/reactions", func(c *gin.Context) {
		toggleReaction(c, svc)
	})
	g.GET("/messages/:messageId/reactions", func(c *gin.Context) {
		listReactions(c, svc)
	})
}

func listMessages(c *gin.Context, svc *chat.Service) {
	convID, ok := respond.PathUUID(c, "conversationId", "conversation")
	if !ok {
		return
	}
	views, cursor, err := svc.History(c.Request.Context(), convID, security.GetUserID(c),
		respond.QueryPtr(c, "afterCursor"), respond.QueryInt(c, "limit", 50))
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": views, "afterCursor": cursor})
}

func sendMessage(c *gin.Context, svc *chat.Service) {
	convID, ok := respond.PathUUID(c, "conversationId", "conversation")
	if !ok {
		return
	}
	var req struct {
		Content     string                 `json:"content"`
		Type        model.MessageType      `json:"type"`
		Attachments []model.FileDescriptor `json:"attachments"`
		ReplyToID   *uuid.UUID             `json:"replyToId"`
		ThreadID    *uuid.UUID             `json:"threadId"`
		MentionIDs  []string               `json:"mentionIds"`
		Priority    model.Priority         `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}

	view, err := svc.Send(c.Request.Context(), chat.SendMessageRequest{
		ConversationID: convID,
		SenderID:       security.GetUserID(c),
		Content:        req.Content,
		Type:           req.Type,
		Attachments:    req.Attachments,
		ReplyToID:      req.ReplyToID,
		ThreadID:       req.ThreadID,
		MentionIDs:     req.MentionIDs,
		Priority:       req.Priority,
	})
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func markRead(c *gin.Context, svc *chat.Service) {
	msgID, ok := respond.PathUUID(c, "messageId", "message")
	if !ok {
		return
	}
	read, err := svc.MarkRead(c.Request.Context(), msgID, security.GetUserID(c))
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, read)
}

func getReceipts(c *gin.Context, svc *chat.Service) {
	msgID, ok := respond.PathUUID(c, "messageId", "message")
	if !ok {
		return
	}
	receipts, err := svc.Receipts(c.Request.Context(), msgID, security.GetUserID(c))
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipts)
}

func toggleReaction(c *gin.Context, svc *chat.Service) {
	msgID, ok := respond.PathUUID(c, "messageId", "message")
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	added, err := svc.ToggleReaction(c.Request.Context(), msgID, security.GetUserID(c), req.Emoji)
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageId": msgID, "emoji": req.Emoji, "added": added})
}

func listReactions(c *gin.Context, svc *chat.Service) {
	msgID, ok := respond.PathUUID(c, "messageId", "message")
	if !ok {
		return
	}
	reactions, err := svc.ListReactions(c.Request.Context(), msgID, security.GetUserID(c))
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reactions})
}
