package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sidharth-m/ripple/internal/composer"
	"github.com/sidharth-m/ripple/internal/middleware"
	"github.com/sidharth-m/ripple/internal/repository"
	"go.uber.org/zap"
)

type MessageHandler struct {
	composer *composer.Composer
	repo     repository.MessageRepository
	logger   *zap.Logger
}

func NewMessageHandler(cmp *composer.Composer, repo repository.MessageRepository, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{composer: cmp, repo: repo, logger: logger}
}

type sendMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

// Send handles POST /v1/channels/:id/messages. The 201 response is an
// acknowledgement; the message reaches open views via the change feed.
func (h *MessageHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel ID"})
		return
	}

	userID := middleware.GetUserID(c)
	msg, err := h.composer.Send(c.Request.Context(), channelID, userID, req.Body)
	if err != nil {
		if errors.Is(err, composer.ErrEmptyBody) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message body is empty"})
			return
		}
		h.logger.Error("failed to send message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// List handles GET /v1/channels/:id/messages?before=123&limit=50 —
// paginated history, newest first, for scrollback. The live endpoint is
// what keeps a view current.
func (h *MessageHandler) List(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel ID"})
		return
	}

	var before int64
	if b := c.Query("before"); b != "" {
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return
		}
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		if limit > 100 {
			limit = 100
		}
	}

	messages, err := h.repo.ListByChannel(c.Request.Context(), channelID, before, limit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, messages)
}
