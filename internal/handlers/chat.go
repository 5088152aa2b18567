package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"atelier_back_end/internal/chat"
)

type chatInput struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) PostChatMessage(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var input chatInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	msg, err := h.chat.Post(c.Request.Context(), actor, c.Param("id"), input.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) ChatHistory(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	limit := queryInt(c, "limit", chat.DefaultHistory)
	msgs, err := h.chat.History(c.Request.Context(), actor, c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}
