// Package apperr regroupe la taxonomie d'erreurs partagée par la machine à états,
// l'adaptateur de paiement, le dispatcher de notifications et les handlers HTTP.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("transition invalide")
	ErrForbidden         = errors.New("action non autorisée")
	ErrConflict          = errors.New("commande modifiée entre-temps, rechargez et réessayez")
	ErrSignatureInvalid  = errors.New("signature de callback invalide")
	ErrAlreadyProcessed  = errors.New("commande déjà traitée")
	ErrValidation        = errors.New("données invalides")
	ErrNotFound          = errors.New("introuvable")
	ErrUnavailable       = errors.New("service externe indisponible")
	ErrChatClosed        = errors.New("chat fermé pour ce statut de commande")
)

// TransitionError nomme l'état courant et l'état demandé.
type TransitionError struct {
	Current   string
	Requested string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition invalide: %s -> %s", e.Current, e.Requested)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError décrit un champ de payload refusé.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// Kind retourne le code stable exposé aux clients pour une erreur.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrChatClosed):
		return "chat_closed"
	default:
		return "internal"
	}
}
