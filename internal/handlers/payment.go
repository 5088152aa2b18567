package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"atelier_back_end/internal/apperr"
	"atelier_back_end/internal/orders"
)

// maxWebhookBody borne la lecture du corps signé envoyé par la passerelle.
const maxWebhookBody = int64(65536)

// CreatePaymentIntent enregistre un intent passerelle pour la commande.
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	pi, err := h.payments.CreateIntent(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"intent_id":     pi.ID,
		"client_secret": pi.ClientSecret,
		"amount":        pi.Amount,
		"currency":      pi.Currency,
	})
}

// PaymentWebhook reçoit les callbacks signés de la passerelle. Un callback rejoué
// après succès est acquitté pour que la passerelle cesse de le renvoyer.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		zap.L().Warn("⚠️ Corps du webhook illisible", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": "Lecture du corps impossible"})
		return
	}

	res, err := h.payments.VerifyCallback(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, apperr.ErrAlreadyProcessed) {
		c.JSON(http.StatusOK, gin.H{"outcome": "already_processed"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type proofUploadInput struct {
	Filename string `json:"filename" binding:"required"`
}

// PresignProofUpload renvoie une URL d'upload direct pour la preuve de virement.
func (h *Handler) PresignProofUpload(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var input proofUploadInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	up, err := h.payments.PresignProofUpload(c.Request.Context(), actor, c.Param("id"), input.Filename)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, up)
}

type paymentProofInput struct {
	ObjectKey       string `json:"object_key"`
	ReferenceID     string `json:"reference_id"`
	ExpectedVersion int64  `json:"expected_version"`
}

// SubmitPaymentProof déclare un virement effectué, en attente de vérification admin.
func (h *Handler) SubmitPaymentProof(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var input paymentProofInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	o, err := h.payments.SubmitPaymentProof(c.Request.Context(), actor, c.Param("id"), orders.ProofPayload{
		ObjectKey:   input.ObjectKey,
		ReferenceID: input.ReferenceID,
	}, input.ExpectedVersion)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// TransferInstructions renvoie les coordonnées bancaires et le QR EPC du virement.
func (h *Handler) TransferInstructions(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	ti, err := h.payments.TransferQR(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ti)
}
