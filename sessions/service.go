package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leadfunnel/models"
)

var ErrSessionNotFound = errors.New("funnel session not found")

// Progress is a whole-record snapshot of a session. Writing it is an upsert,
// so a session whose creation failed is recreated by the next save.
type Progress struct {
	SessionID      string
	FunnelType     models.FunnelType
	CurrentStep    int
	CompletedSteps models.CompletedSteps
	FormData       json.RawMessage
	Attribution    models.Attribution
}

// Service is the server-side mirror of funnel sessions.
type Service interface {
	CreateSession(ctx context.Context, session *models.FunnelSession) (string, error)
	SessionExists(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, p Progress) error
	SetEmail(ctx context.Context, id, email string) error
	MarkComplete(ctx context.Context, id string) error
	MarkAbandoned(ctx context.Context, id string) error
	LogStepEvent(ctx context.Context, event models.StepEvent) error
	ListStale(ctx context.Context, idleSince time.Time, limit int) ([]models.FunnelSession, error)
	Get(ctx context.Context, id string) (*models.FunnelSession, error)
}

// GormService stores sessions and step events in Postgres.
type GormService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormService(db *gorm.DB) *GormService {
	return &GormService{db: db, now: time.Now}
}

func (s *GormService) CreateSession(ctx context.Context, session *models.FunnelSession) (string, error) {
	now := s.now()
	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	session.LastActivityAt = now
	if session.CurrentStep == 0 {
		session.CurrentStep = 1
	}
	if session.CompletedSteps == nil {
		session.CompletedSteps = models.CompletedSteps{}
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return "", err
	}
	return session.ID, nil
}

func (s *GormService) SessionExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.FunnelSession{}).
		Where("id = ? AND completed_at IS NULL", id).
		Count(&count).Error
	return count > 0, err
}

// UpdateProgress upserts the snapshot. Completed steps are merged with what
// is already stored, so a stale tab can never shrink the set.
func (s *GormService) UpdateProgress(ctx context.Context, p Progress) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.FunnelSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "completed_steps").
			Where("id = ?", p.SessionID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.FunnelSession{
				ID:             p.SessionID,
				FunnelType:     p.FunnelType,
				CurrentStep:    p.CurrentStep,
				CompletedSteps: p.CompletedSteps.Normalize(),
				FormData:       p.FormData,
				Attribution:    p.Attribution,
				StartedAt:      now,
				LastActivityAt: now,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).
			Select("current_step", "completed_steps", "form_data", "last_activity_at").
			Updates(&models.FunnelSession{
				CurrentStep:    p.CurrentStep,
				CompletedSteps: existing.CompletedSteps.Union(p.CompletedSteps),
				FormData:       p.FormData,
				LastActivityAt: now,
			}).Error
	})
}

func (s *GormService) SetEmail(ctx context.Context, id, email string) error {
	return s.update(ctx, id, map[string]interface{}{
		"email":            email,
		"last_activity_at": s.now(),
	})
}

func (s *GormService) MarkComplete(ctx context.Context, id string) error {
	now := s.now()
	return s.update(ctx, id, map[string]interface{}{
		"completed_at":     now,
		"last_activity_at": now,
	})
}

func (s *GormService) MarkAbandoned(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.FunnelSession{}).
		Where("id = ? AND completed_at IS NULL AND abandoned_at IS NULL", id).
		Update("abandoned_at", s.now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *GormService) LogStepEvent(ctx context.Context, event models.StepEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		return tx.Model(&models.FunnelSession{}).
			Where("id = ?", event.SessionID).
			Update("last_activity_at", event.CreatedAt).Error
	})
}

func (s *GormService) ListStale(ctx context.Context, idleSince time.Time, limit int) ([]models.FunnelSession, error) {
	var out []models.FunnelSession
	err := s.db.WithContext(ctx).
		Where("completed_at IS NULL AND abandoned_at IS NULL AND last_activity_at < ?", idleSince).
		Order("last_activity_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *GormService) Get(ctx context.Context, id string) (*models.FunnelSession, error) {
	var session models.FunnelSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *GormService) update(ctx context.Context, id string, values map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.FunnelSession{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}
