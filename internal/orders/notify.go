package orders

import (
	"fmt"

	"atelier_back_end/internal/models"
)

type notice struct {
	kind     models.NotificationType
	priority models.Priority
	title    string
	format   string
}

// counterParty : le client pour les actions admin/passerelle, le canal admin pour les actions client.
func counterParty(actor models.Actor, o *models.Order) (recipient, email string) {
	if actor.Role == models.RoleCustomer {
		return models.AdminChannel, ""
	}
	return o.OwnerUserID, o.OwnerEmail
}

func buildNotification(n notice, actor models.Actor, o *models.Order, override string) models.Notification {
	recipient, email := counterParty(actor, o)
	msg := override
	if msg == "" {
		msg = fmt.Sprintf(n.format, shortID(o.ID))
	}
	return models.Notification{
		RecipientUserID:   recipient,
		RecipientEmail:    email,
		Type:              n.kind,
		Title:             n.title,
		Message:           msg,
		Priority:          n.priority,
		RelatedEntityID:   o.ID,
		RelatedEntityKind: "order",
		RedirectHint:      "/orders/" + o.ID,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return "#" + id[:8]
	}
	return "#" + id
}
