package emaillogs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/internal/store"
)

// Memory is an in-process Store for tests and local runs.
type Memory struct {
	mu   sync.Mutex
	logs map[uuid.UUID]models.EmailLog
}

// NewMemory creates an empty in-memory email log store.
func NewMemory() *Memory {
	return &Memory{logs: make(map[uuid.UUID]models.EmailLog)}
}

func (m *Memory) Create(_ context.Context, el *models.EmailLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el.Status == "" {
		el.Status = models.EmailLogStatusPending
	}
	el.ID = uuid.New()
	el.CreatedAt = time.Now()
	m.logs[el.ID] = *el
	return nil
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*models.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.logs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &el, nil
}

func (m *Memory) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, func(el *models.EmailLog) {
		el.Status = models.EmailLogStatusSent
		el.SentAt = &at
		el.ErrorMessage = ""
	})
}

func (m *Memory) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return m.update(id, func(el *models.EmailLog) {
		el.Status = models.EmailLogStatusFailed
		el.ErrorMessage = reason
	})
}

func (m *Memory) update(id uuid.UUID, fn func(*models.EmailLog)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.logs[id]
	if !ok {
		return store.ErrNotFound
	}
	el.Attempts++
	fn(&el)
	m.logs[id] = el
	return nil
}

func (m *Memory) ListByEvent(_ context.Context, eventID uuid.UUID) ([]models.EmailLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := []models.EmailLog{}
	for _, el := range m.logs {
		if el.EventID != nil && *el.EventID == eventID {
			list = append(list, el)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}
