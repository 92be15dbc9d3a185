package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/junction/internal/chat"
	"github.com/zulandar/junction/internal/ledger"
	"github.com/zulandar/junction/internal/models"
)

// UserHeader carries the caller identity set by the authentication layer.
const UserHeader = "X-User-ID"

const userKey = "junction.user"

type handlers struct {
	chat   *chat.Service
	buffer int
}

// registerRoutes sets up every API route on the gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", requireUser())
	authed.GET("/ws", h.serveWS)

	api := authed.Group("/api")
	api.GET("/events", h.events)

	conv := api.Group("/conversations")
	conv.POST("", h.createConversation)
	conv.GET("", h.listConversations)
	conv.GET("/:id", h.getConversation)
	conv.POST("/:id/participants", h.addParticipant)
	conv.DELETE("/:id/participants/:user", h.removeParticipant)
	conv.POST("/:id/archive", h.archive)
	conv.POST("/:id/messages", h.sendMessage)
	conv.GET("/:id/messages", h.history)
	conv.POST("/:id/read", h.markRead)
	conv.GET("/:id/unread", h.unread)
	conv.POST("/:id/reassign", h.reassign)

	api.POST("/business/:business/conversations", h.openBusiness)
	api.GET("/business/:business/agents", h.listAgents)
	api.PUT("/agents/:agent", h.putAgent)
	api.PUT("/agents/:agent/status", h.agentStatus)

	api.POST("/presence/heartbeat", h.heartbeat)
	api.GET("/presence/:user", h.presence)
}

// requireUser rejects requests without a caller identity.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(UserHeader))
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error:  "Unauthenticated",
				Detail: UserHeader + " header is required",
			})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func caller(c *gin.Context) string { return c.GetString(userKey) }

type createConversationRequest struct {
	Type         string            `json:"type"`
	Participants []string          `json:"participants"`
	Name         string            `json:"name"`
	Metadata     map[string]string `json:"metadata"`
}

func (h *handlers) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	conv, err := h.chat.CreateConversation(c.Request.Context(), caller(c), req.Type, req.Participants, req.Name, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *handlers) listConversations(c *gin.Context) {
	views, err := h.chat.ListConversations(c.Request.Context(), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if views == nil {
		views = []chat.ConversationView{}
	}
	c.JSON(http.StatusOK, views)
}

func (h *handlers) getConversation(c *gin.Context) {
	view, err := h.chat.GetConversation(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type participantRequest struct {
	UserID string `json:"user_id"`
}

func (h *handlers) addParticipant(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	conv, err := h.chat.AddParticipant(c.Request.Context(), caller(c), c.Param("id"), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *handlers) removeParticipant(c *gin.Context) {
	conv, err := h.chat.RemoveParticipant(c.Request.Context(), caller(c), c.Param("id"), c.Param("user"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *handlers) archive(c *gin.Context) {
	conv, err := h.chat.Archive(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type sendRequest struct {
	Content string `json:"content"`
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	msg, err := h.chat.SendMessage(c.Request.Context(), c.Param("id"), caller(c), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *handlers) history(c *gin.Context) {
	var opts ledger.HistoryOpts
	if v := c.Query("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(c, "after must be a sequence number, got %q", v)
			return
		}
		opts.AfterSequence = after
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			badRequest(c, "limit must be a non-negative integer, got %q", v)
			return
		}
		opts.Limit = limit
	}
	msgs, err := h.chat.History(c.Request.Context(), c.Param("id"), caller(c), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type readRequest struct {
	MessageID uint `json:"message_id"`
}

func (h *handlers) markRead(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	receipt, err := h.chat.MarkRead(c.Request.Context(), c.Param("id"), caller(c), req.MessageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *handlers) unread(c *gin.Context) {
	n, err := h.chat.UnreadCount(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": c.Param("id"), "unread": n})
}

type reassignRequest struct {
	Reason string `json:"reason"`
}

func (h *handlers) reassign(c *gin.Context) {
	var req reassignRequest
	// An empty body is a reassignment without a reason.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body: %v", err)
			return
		}
	}
	agent, err := h.chat.Reassign(c.Request.Context(), caller(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": c.Param("id"), "agent_id": agent})
}

type openBusinessRequest struct {
	Name string `json:"name"`
}

func (h *handlers) openBusiness(c *gin.Context) {
	var req openBusinessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body: %v", err)
			return
		}
	}
	out, err := h.chat.OpenBusinessConversation(c.Request.Context(), c.Param("business"), caller(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	if out.Pending != nil {
		c.JSON(http.StatusAccepted, gin.H{"pending": out.Pending})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": out.Conversation})
}

type agentRequest struct {
	BusinessID         string `json:"business_id"`
	Status             string `json:"status"`
	MaxConcurrentChats int    `json:"max_concurrent_chats"`
}

func (h *handlers) putAgent(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	agent, err := h.chat.RegisterAgent(c.Request.Context(), models.Agent{
		ID:                 c.Param("agent"),
		BusinessID:         req.BusinessID,
		Status:             req.Status,
		MaxConcurrentChats: req.MaxConcurrentChats,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

type agentStatusRequest struct {
	Status string `json:"status"`
}

func (h *handlers) agentStatus(c *gin.Context) {
	var req agentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	moved, err := h.chat.SetAgentStatus(c.Request.Context(), c.Param("agent"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	if moved == nil {
		moved = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": c.Param("agent"), "status": req.Status, "reassigned": moved})
}

func (h *handlers) listAgents(c *gin.Context) {
	agents, err := h.chat.ListAgents(c.Request.Context(), c.Param("business"))
	if err != nil {
		respondError(c, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	c.JSON(http.StatusOK, agents)
}

type heartbeatRequest struct {
	SessionID string `json:"session_id"`
}

func (h *handlers) heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body: %v", err)
			return
		}
	}
	c.JSON(http.StatusOK, h.chat.Heartbeat(c.Request.Context(), caller(c), req.SessionID))
}

func (h *handlers) presence(c *gin.Context) {
	c.JSON(http.StatusOK, h.chat.Presence(c.Param("user")))
}
