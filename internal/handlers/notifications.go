package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"atelier_back_end/internal/models"
	"atelier_back_end/internal/notifications"
)

// inbox choisit la boîte lue : les admins lisent le canal partagé des admins, sauf
// avec ?inbox=me pour leurs notifications nominatives.
func inbox(c *gin.Context, actor models.Actor) string {
	if actor.IsAdmin() && c.Query("inbox") != "me" {
		return models.AdminChannel
	}
	return actor.UserID
}

func (h *Handler) ListNotifications(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	page, err := h.notifications.ListFor(c.Request.Context(), inbox(c, actor),
		queryInt(c, "page", 1), queryInt(c, "page_size", notifications.DefaultPageSize))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	n, err := h.notifications.UnreadCount(c.Request.Context(), inbox(c, actor))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), inbox(c, actor), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	n, err := h.notifications.MarkAllRead(c.Request.Context(), inbox(c, actor))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) DeleteNotification(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), inbox(c, actor), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type adminNotificationInput struct {
	Recipients        []string                `json:"recipients" binding:"required,min=1"`
	Type              models.NotificationType `json:"type"`
	Title             string                  `json:"title" binding:"required"`
	Message           string                  `json:"message" binding:"required"`
	Priority          models.Priority         `json:"priority"`
	RelatedEntityID   string                  `json:"related_entity_id"`
	RelatedEntityKind string                  `json:"related_entity_kind"`
	RedirectHint      string                  `json:"redirect_hint"`
}

// SendAdminNotification (admin) notifie directement une liste d'utilisateurs.
func (h *Handler) SendAdminNotification(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var input adminNotificationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	sent, err := h.notifications.SendAdmin(c.Request.Context(), actor, notifications.AdminMessage{
		Recipients:        input.Recipients,
		Type:              input.Type,
		Title:             input.Title,
		Message:           input.Message,
		Priority:          input.Priority,
		RelatedEntityID:   input.RelatedEntityID,
		RelatedEntityKind: input.RelatedEntityKind,
		RedirectHint:      input.RedirectHint,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notifications": sent, "count": len(sent)})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Le jeton JWT est exigé avant l'upgrade, toutes les origines sont acceptées
		return true
	},
}

const (
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// NotificationStream pousse les nouvelles notifications sur un WebSocket. Le polling
// reste la source de vérité : le flux peut perdre des messages pendant une reconnexion.
func (h *Handler) NotificationStream(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if h.push == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "Notifications temps réel désactivées"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Warn("❌ Erreur upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	recipients := []string{actor.UserID}
	if actor.IsAdmin() {
		recipients = append(recipients, models.AdminChannel)
	}
	pubsub := h.push.Subscribe(ctx, recipients...)
	defer pubsub.Close()
	ch := pubsub.Channel()

	// Lecture en arrière-plan pour détecter la fermeture côté client
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(gin.H{"type": "connected", "recipients": recipients}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				zap.L().Debug("❌ Erreur envoi WebSocket", zap.String("user_id", actor.UserID), zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
