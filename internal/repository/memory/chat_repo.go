package memory

import (
	"context"
	"sync"

	"atelier_back_end/internal/models"
)

type ChatRepository struct {
	mu       sync.Mutex
	messages map[string][]models.ChatMessage
}

func NewChatRepository() *ChatRepository {
	return &ChatRepository{messages: make(map[string][]models.ChatMessage)}
}

func (r *ChatRepository) Create(_ context.Context, m models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.OrderID] = append(r.messages[m.OrderID], m)
	return nil
}

// ListByOrder renvoie les messages dans l'ordre chronologique.
func (r *ChatRepository) ListByOrder(_ context.Context, orderID string, limit int) ([]models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.messages[orderID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]models.ChatMessage(nil), list...), nil
}
