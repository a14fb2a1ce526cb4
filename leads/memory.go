package leads

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"leadfunnel/models"
)

// MemoryStore keeps leads in process. Used by tests.
type MemoryStore struct {
	mu     sync.Mutex
	leads  map[uint]*models.Lead
	nextID uint
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leads: make(map[uint]*models.Lead), now: time.Now}
}

func (m *MemoryStore) InsertPartial(_ context.Context, lead *models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.now()
	lead.ID = m.nextID
	lead.CreatedAt, lead.UpdatedAt = now, now
	lead.Email = normalizeEmail(lead.Email)
	lead.Status = models.LeadEstimateSent
	cp := *lead
	m.leads[lead.ID] = &cp
	return nil
}

func (m *MemoryStore) RefreshPartial(_ context.Context, id uint, lead *models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok || l.Status != models.LeadEstimateSent {
		return ErrNoPendingLead
	}
	l.SessionID = lead.SessionID
	l.Configuration = lead.Configuration
	l.Estimate = lead.Estimate
	l.UpdatedAt = m.now()
	*lead = *l
	return nil
}

func (m *MemoryStore) FindLatestPartialByEmail(_ context.Context, funnel models.FunnelType, email string) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = normalizeEmail(email)
	var latest *models.Lead
	for _, l := range m.leads {
		if l.FunnelType != funnel || l.Email != email || l.Status != models.LeadEstimateSent {
			continue
		}
		if latest == nil || l.CreatedAt.After(latest.CreatedAt) || (l.CreatedAt.Equal(latest.CreatedAt) && l.ID > latest.ID) {
			latest = l
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) UpgradeToComplete(_ context.Context, id uint, c Completion) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok || l.Status != models.LeadEstimateSent {
		return nil, ErrNoPendingLead
	}
	applyCompletion(l, c)
	l.Status = models.LeadSubmitted
	l.UpdatedAt = m.now()
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uint, status models.LeadStatus, notes *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return false, nil
	}
	l.Status = status
	if notes != nil {
		l.Notes = *notes
	}
	l.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, id uint) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]models.Lead, int64, error) {
	f = f.normalized()
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.Lead
	for _, l := range m.leads {
		if f.FunnelType != "" && l.FunnelType != f.FunnelType {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.Email != "" && !strings.Contains(l.Email, normalizeEmail(f.Email)) {
			continue
		}
		all = append(all, *l)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := int64(len(all))
	start := (f.Page - 1) * f.Limit
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// Count is the number of stored leads for an email, across statuses.
func (m *MemoryStore) Count(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.leads {
		if l.Email == normalizeEmail(email) {
			n++
		}
	}
	return n
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
