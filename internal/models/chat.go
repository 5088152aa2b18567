package models

import "time"

// ChatMessage est un message du chat support rattaché à une commande.
type ChatMessage struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	AuthorID   string    `json:"author_id"`
	AuthorRole Role      `json:"author_role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
