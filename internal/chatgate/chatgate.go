// Package chatgate dérive la disponibilité du chat support à partir du statut de commande.
package chatgate

import "atelier_back_end/internal/models"

// Enabled est vrai pendant les fenêtres où client et atelier doivent se coordonner.
func Enabled(status models.OrderStatus) bool {
	switch status {
	case models.StatusCustomizationPending, models.StatusApproved, models.StatusInProgress:
		return true
	default:
		return false
	}
}

// Apply recalcule le cache ChatEnabled porté par la commande.
func Apply(o *models.Order) {
	o.ChatEnabled = Enabled(o.Status)
}
