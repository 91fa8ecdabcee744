package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sidharth-m/ripple/internal/middleware"
	"github.com/sidharth-m/ripple/internal/repository"
	"go.uber.org/zap"
)

type ReactionHandler struct {
	repo   repository.ReactionRepository
	logger *zap.Logger
}

func NewReactionHandler(repo repository.ReactionRepository, logger *zap.Logger) *ReactionHandler {
	return &ReactionHandler{repo: repo, logger: logger}
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

type toggleReactionResponse struct {
	Added bool `json:"added"`
}

// Toggle handles POST /v1/messages/:id/reactions. Add-if-absent,
// remove-if-present; the response says which happened, and every open
// view learns about it through the change feed.
func (h *ReactionHandler) Toggle(c *gin.Context) {
	var req toggleReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}

	userID := middleware.GetUserID(c)
	added, err := h.repo.Toggle(c.Request.Context(), messageID, userID, req.Emoji)
	if err != nil {
		h.logger.Error("failed to toggle reaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to toggle reaction"})
		return
	}

	c.JSON(http.StatusOK, toggleReactionResponse{Added: added})
}
