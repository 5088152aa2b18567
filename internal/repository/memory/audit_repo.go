package memory

import (
	"context"
	"sync"

	"atelier_back_end/internal/models"
)

// AuditRecorder garde les entrées d'audit en mémoire (tests, mode développement).
type AuditRecorder struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func NewAuditRecorder() *AuditRecorder {
	return &AuditRecorder{}
}

func (a *AuditRecorder) Record(_ context.Context, entry models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *AuditRecorder) Entries() []models.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.AuditLog(nil), a.entries...)
}
