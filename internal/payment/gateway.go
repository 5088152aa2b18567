// Package payment relie les commandes à la passerelle de paiement : création d'intent,
// vérification des callbacks signés et parcours manuel (preuve de virement).
package payment

import (
	"context"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
)

type IntentRequest struct {
	OrderID     string
	OwnerUserID string
	Amount      int64
	Currency    string
}

// RemoteIntent est la réponse de la passerelle à la création d'un intent.
type RemoteIntent struct {
	ID           string
	ClientSecret string
}

type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*RemoteIntent, error)
}

// StripeGateway crée des PaymentIntent Stripe ; le montant est déjà en centimes.
type StripeGateway struct {
	client *paymentintent.Client
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{client: &paymentintent.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: secretKey,
	}}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*RemoteIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"order_id": req.OrderID,
			"user_id":  req.OwnerUserID,
		},
	}
	params.Context = ctx

	pi, err := g.client.New(params)
	if err != nil {
		return nil, err
	}
	return &RemoteIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}
