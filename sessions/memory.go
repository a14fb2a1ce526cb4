package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadfunnel/models"
)

// MemoryService is an in-process Service used when no database is configured.
type MemoryService struct {
	mu       sync.Mutex
	sessions map[string]*models.FunnelSession
	events   []models.StepEvent
	now      func() time.Time
}

func NewMemoryService() *MemoryService {
	return &MemoryService{sessions: make(map[string]*models.FunnelSession), now: time.Now}
}

func (m *MemoryService) CreateSession(_ context.Context, session *models.FunnelSession) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cp := *session
	if cp.StartedAt.IsZero() {
		cp.StartedAt = now
	}
	if cp.CurrentStep == 0 {
		cp.CurrentStep = 1
	}
	cp.LastActivityAt = now
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.sessions[cp.ID] = &cp
	return cp.ID, nil
}

func (m *MemoryService) SessionExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return ok && s.CompletedAt == nil, nil
}

func (m *MemoryService) UpdateProgress(_ context.Context, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s, ok := m.sessions[p.SessionID]
	if !ok {
		s = &models.FunnelSession{
			ID:          p.SessionID,
			FunnelType:  p.FunnelType,
			Attribution: p.Attribution,
			StartedAt:   now,
			CreatedAt:   now,
		}
		m.sessions[p.SessionID] = s
	}
	s.CurrentStep = p.CurrentStep
	s.CompletedSteps = s.CompletedSteps.Union(p.CompletedSteps)
	s.FormData = append([]byte(nil), p.FormData...)
	s.LastActivityAt = now
	s.UpdatedAt = now
	return nil
}

func (m *MemoryService) SetEmail(_ context.Context, id, email string) error {
	return m.mutate(id, func(s *models.FunnelSession) {
		s.Email = &email
	})
}

func (m *MemoryService) MarkComplete(_ context.Context, id string) error {
	return m.mutate(id, func(s *models.FunnelSession) {
		now := m.now()
		s.CompletedAt = &now
	})
}

func (m *MemoryService) MarkAbandoned(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.CompletedAt != nil || s.AbandonedAt != nil {
		return ErrSessionNotFound
	}
	now := m.now()
	s.AbandonedAt = &now
	return nil
}

func (m *MemoryService) LogStepEvent(_ context.Context, event models.StepEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now()
	}
	event.ID = uint(len(m.events) + 1)
	m.events = append(m.events, event)
	if s, ok := m.sessions[event.SessionID]; ok {
		s.LastActivityAt = event.CreatedAt
	}
	return nil
}

func (m *MemoryService) ListStale(_ context.Context, idleSince time.Time, limit int) ([]models.FunnelSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FunnelSession
	for _, s := range m.sessions {
		if s.CompletedAt == nil && s.AbandonedAt == nil && s.LastActivityAt.Before(idleSince) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryService) Get(_ context.Context, id string) (*models.FunnelSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// Events returns a copy of the step event log for one session.
func (m *MemoryService) Events(sessionID string) []models.StepEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StepEvent
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryService) mutate(id string, fn func(*models.FunnelSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	fn(s)
	s.LastActivityAt = m.now()
	return nil
}
