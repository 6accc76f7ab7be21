package conversations

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gigmarket/chat-service/internal/chat"
	"github.com/gigmarket/chat-service/internal/model"
	"github.com/gigmarket/chat-service/internal/plugin/route/respond"
	registryroute "github.com/gigmarket/chat-service/internal/registry/route"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts conversation registry routes. Called after the chat service is
// built.
func MountRoutes(r *gin.Engine, svc *chat.Service, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, svc)
	})
	g.POST("/conversations", func(c *gin.Context) {
		createConversation(c, svc)
	})
	g.GET("/conversations/:conversationId", func(c *gin.Context) {
		getConversation(c, svc)
	})
	g.PATCH("/conversations/:conversationId", func(c *gin.Context) {
		updateConversation(c, svc)
	})
	g.GET("/conversations/:conversationId/participants", func(c *gin.Context) {
		listParticipants(c, svc)
	})
	g.PUT("/conversations/:conversationId/mute", func(c *gin.Context) {
		muteConversation(c, svc)
	})
	g.GET("/conversations/:conversationId/settings", func(c *gin.Context) {
		getSettings(c, svc)
	})
	g.PATCH("/conversations/:conversationId/settings", func(c *gin.Context) {
		updateSettings(c, svc)
	})
}

func listConversations(c *gin.Context, svc *chat.Service) {
	query := registrystore.ConversationQuery{
		AfterCursor: respond.QueryPtr(c, "afterCursor"),
		Limit:       respond.QueryInt(c, "limit", 20),
	}
	switch c.DefaultQuery("archived", "exclude") {
	case "exclude":
	case "include":
		query.IncludeArchived = true
	case "only":
		query.OnlyArchived = true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "archived must be exclude, include or only", "field": "archived"})
		return
	}

	convs, cursor, err := svc.ListConversations(c.Request.Context(), security.GetUserID(c), query)
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": convs, "afterCursor": cursor})
}

func createConversation(c *gin.Context, svc *chat.Service) {
	var req struct {
		Type           model.ConversationType `json:"type"`
		ParticipantIDs []string               `json:"participantIds"`
		ProjectID      *string                `json:"projectId"`
		Title          string                 `json:"title"`
		Priority       model.Priority         `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}

	conv, created, err := svc.CreateOrGet(c.Request.Context(), chat.CreateConversationRequest{
		Type:           req.Type,
		InitiatorID:    security.GetUserID(c),
		ParticipantIDs: req.ParticipantIDs,
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Priority:       req.Priority,
	})
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	if created {
		c.JSON(http.StatusCreated, conv)
	} else {
		c.JSON(http.StatusOK, conv)
	}
}

func getConversation(c *gin.Context, svc *chat.Service) {
	convID, ok := respond.PathUUID(c, "conversationId", "conversation")
	if !ok {
		return
	}
	detail, err := svc.GetConversation(c.Request.Context(), convID, security.GetUserID(c))
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func updateConversation(c *gin.Context, svc *chat.Service) {
	convID, ok := respond.PathUUID(c, "conversationId", "conversation")
	if !ok {
		return
	}
	var req struct {
		Title    *string         `json:"title"`
		Archived *bool           `json:"archived"`
		Priority *model.Priority `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}

	conv, err := svc.UpdateConversation(c.Request.Context(), convID, security.GetUserID(c), registrystore.ConversationUpdate{
		Title:    req.Title,
		Archived: req.Archived,
		Priority: req.Priority,
	})
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func listParticipants(c *gin.Context, svc *chat.Service) {
	convID, ok := respond.PathUUID(c, "conversationId", "conversation")
	if !ok {
		return
	}
	participants, err := svc.ListParticipants(c.Request.Context(), convID, security.GetUserID(c))
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": participants})
}

func muteConversation(c *gin.Context, svc *chat.Service) {
	convID, ok := respond.PathUUID(c, "conversationId", "conversation")
	if !ok {
		return
	}
	// A null or missing mutedUntil unmutes.
	var req struct {
		MutedUntil *time.Time `json:"mutedUntil"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.BadRequest(c, err)
		return
	}
	participant, err := svc.Mute(c.Request.Context(), convID, security.GetUserID(c), req.MutedUntil)
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, participant)
}

func getSettings(c *gin.Context, svc *chat.Service) {
	convID, ok := respond.PathUUID(c, "conversationId", "conversation")
	if !ok {
		return
	}
	settings, err := svc.GetSettings(c.Request.Context(), convID, security.GetUserID(c))
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func updateSettings(c *gin.Context, svc *chat.Service) {
	convID, ok := respond.PathUUID(c, "conversationId", "conversation")
	if !ok {
		return
	}
	var req chat.SettingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, err)
		return
	}
	settings, err := svc.UpdateSettings(c.Request.Context(), convID, security.GetUserID(c), req)
	if err != nil {
		respond.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}
