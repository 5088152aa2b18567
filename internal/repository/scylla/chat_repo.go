package scylla

import (
	"context"

	"github.com/gocql/gocql"

	"atelier_back_end/internal/models"
)

type ChatRepository struct {
	session *gocql.Session
}

func NewChatRepository(session *gocql.Session) *ChatRepository {
	return &ChatRepository{session: session}
}

func (r *ChatRepository) Create(ctx context.Context, m models.ChatMessage) error {
	return r.session.Query(`INSERT INTO chat_messages (order_id, created_at, message_id, author_id, author_role, content)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.OrderID, m.CreatedAt, m.ID, m.AuthorID, string(m.AuthorRole), m.Content).WithContext(ctx).Exec()
}

// ListByOrder renvoie les limit derniers messages, du plus ancien au plus récent.
func (r *ChatRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]models.ChatMessage, error) {
	iter := r.session.Query(`SELECT created_at, message_id, author_id, author_role, content
		FROM chat_messages WHERE order_id = ? ORDER BY created_at DESC LIMIT ?`, orderID, limit).WithContext(ctx).Iter()

	var out []models.ChatMessage
	var m models.ChatMessage
	var role string
	for iter.Scan(&m.CreatedAt, &m.ID, &m.AuthorID, &role, &m.Content) {
		m.OrderID = orderID
		m.AuthorRole = models.Role(role)
		out = append(out, m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
