// Package handlers expose les commandes du cycle de vie des commandes en HTTP (gin).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/chat"
	"atelier_back_end/internal/middleware"
	"atelier_back_end/internal/models"
	"atelier_back_end/internal/notifications"
	"atelier_back_end/internal/orders"
	"atelier_back_end/internal/payment"
	"atelier_back_end/internal/workflow"
)

type Deps struct {
	Orders        *orders.Machine
	Approval      *workflow.Approval
	Payments      *payment.Adapter
	Notifications *notifications.Dispatcher
	Chat          *chat.Service
	// Push est optionnel : sans lui le flux WebSocket répond 503.
	Push *notifications.RedisPusher
}

type Handler struct {
	orders        *orders.Machine
	approval      *workflow.Approval
	payments      *payment.Adapter
	notifications *notifications.Dispatcher
	chat          *chat.Service
	push          *notifications.RedisPusher
}

func New(d Deps) *Handler {
	return &Handler{
		orders:        d.Orders,
		approval:      d.Approval,
		payments:      d.Payments,
		notifications: d.Notifications,
		chat:          d.Chat,
		push:          d.Push,
	}
}

// currentActor lit l'acteur posé par le middleware JWT.
func currentActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Utilisateur non authentifié"})
		return models.Actor{}, false
	}
	return actor, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrInvalidTransition),
		errors.Is(err, apperr.ErrAlreadyProcessed),
		errors.Is(err, apperr.ErrChatClosed):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError traduit une erreur métier en réponse JSON {error, message, ...}.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": apperr.Kind(err), "message": err.Error()}

	var te *apperr.TransitionError
	if errors.As(err, &te) {
		body["current"] = te.Current
		body["requested"] = te.Requested
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}

	if status == http.StatusInternalServerError {
		zap.L().Error("❌ Erreur interne",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["message"] = "Erreur serveur"
	}
	c.JSON(status, body)
}

// bindError répond 400 pour un corps JSON illisible ou incomplet.
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
}

func queryInt(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
