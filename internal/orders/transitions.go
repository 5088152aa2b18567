package orders

import "atelier_back_end/internal/models"

var (
	anyStaff     = []models.Role{models.RoleAdmin}
	ownerOrStaff = []models.Role{models.RoleCustomer, models.RoleAdmin}
	staffOrGate  = []models.Role{models.RoleAdmin, models.RoleSystem}
)

// transitions est la table de permissions : état courant -> état cible -> rôles autorisés.
// Les états terminaux n'ont aucune entrée sortante.
var transitions = map[models.OrderStatus]map[models.OrderStatus][]models.Role{
	models.StatusPendingApproval: {
		models.StatusApproved:  anyStaff,
		models.StatusRejected:  anyStaff,
		models.StatusCancelled: ownerOrStaff,
	},
	models.StatusApproved: {
		models.StatusCustomizationPending: staffOrGate,
		models.StatusPaymentPending:       staffOrGate,
		models.StatusRejected:             anyStaff,
		models.StatusCancelled:            ownerOrStaff,
	},
	models.StatusCustomizationPending: {
		models.StatusPaymentPending: anyStaff,
		models.StatusRejected:       anyStaff,
		models.StatusCancelled:      ownerOrStaff,
	},
	models.StatusPaymentPending: {
		models.StatusPaymentSubmitted: {models.RoleCustomer},
		models.StatusPaid:             {models.RoleSystem},
		models.StatusRejected:         anyStaff,
		models.StatusCancelled:        ownerOrStaff,
	},
	models.StatusPaymentSubmitted: {
		models.StatusPaid:           staffOrGate,
		models.StatusPaymentPending: anyStaff,
		models.StatusRejected:       anyStaff,
		models.StatusCancelled:      ownerOrStaff,
	},
	models.StatusPaid: {
		models.StatusInProgress: anyStaff,
	},
	models.StatusInProgress: {
		models.StatusReadyForDelivery: anyStaff,
	},
	models.StatusReadyForDelivery: {
		models.StatusDelivered: anyStaff,
		models.StatusCompleted: anyStaff,
	},
}

// prePayment regroupe les états qui peuvent encore être court-circuités vers rejected/cancelled.
var prePayment = []models.OrderStatus{
	models.StatusPendingApproval,
	models.StatusApproved,
	models.StatusCustomizationPending,
	models.StatusPaymentPending,
	models.StatusPaymentSubmitted,
}

var paidOrLater = []models.OrderStatus{
	models.StatusPaid,
	models.StatusInProgress,
	models.StatusReadyForDelivery,
	models.StatusDelivered,
	models.StatusCompleted,
}

// Allowed retourne les états atteignables depuis from, tous rôles confondus.
func Allowed(from models.OrderStatus) []models.OrderStatus {
	targets := make([]models.OrderStatus, 0, len(transitions[from]))
	for _, st := range models.AllStatuses {
		if _, ok := transitions[from][st]; ok {
			targets = append(targets, st)
		}
	}
	return targets
}

// IsTerminal : aucun état sortant.
func IsTerminal(s models.OrderStatus) bool {
	return len(transitions[s]) == 0
}

// CanTransition vérifie l'existence de l'arc from -> to pour le rôle donné.
func CanTransition(from, to models.OrderStatus, role models.Role) (exists, permitted bool) {
	roles, ok := transitions[from][to]
	if !ok {
		return false, false
	}
	return true, containsRole(roles, role)
}

func containsRole(roles []models.Role, r models.Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}

func containsStatus(list []models.OrderStatus, s models.OrderStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
