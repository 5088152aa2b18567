package models

import "time"

type IntentState string

const (
	IntentActive     IntentState = "active"
	IntentSuperseded IntentState = "superseded"
	IntentConsumed   IntentState = "consumed"
)

// PaymentIntent corrèle une commande et la transaction de la passerelle.
type PaymentIntent struct {
	ID           string      `json:"id"`
	OrderID      string      `json:"order_id"`
	OwnerUserID  string      `json:"owner_user_id"`
	Amount       int64       `json:"amount"`
	Currency     string      `json:"currency"`
	ClientSecret string      `json:"client_secret,omitempty"`
	State        IntentState `json:"state"`
	CreatedAt    time.Time   `json:"created_at"`
}
