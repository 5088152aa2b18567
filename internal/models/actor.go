package models

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	// RoleSystem est utilisé par la passerelle de paiement (callbacks authentifiés).
	RoleSystem Role = "system"
)

// Actor est l'identité par requête extraite du JWT ; aucun état de session global.
type Actor struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// GatewayActor représente la passerelle de paiement une fois la signature vérifiée.
var GatewayActor = Actor{UserID: "payment-gateway", Role: RoleSystem}
