package leads

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"leadfunnel/models"
)

// Completion is what phase two writes onto a pending lead.
type Completion struct {
	Address models.Address
	Contact models.Contact
}

// Filter narrows operator lead listings.
type Filter struct {
	FunnelType models.FunnelType
	Status     models.LeadStatus
	Email      string
	Page       int
	Limit      int
}

// Store persists leads.
type Store interface {
	InsertPartial(ctx context.Context, lead *models.Lead) error
	// RefreshPartial rewrites the answers and estimate of a pending lead in
	// place and fills lead from the stored row. It fails with
	// ErrNoPendingLead if the row is no longer pending.
	RefreshPartial(ctx context.Context, id uint, lead *models.Lead) error
	// FindLatestPartialByEmail returns (nil, nil) when nothing is pending.
	FindLatestPartialByEmail(ctx context.Context, funnel models.FunnelType, email string) (*models.Lead, error)
	// UpgradeToComplete fails with ErrNoPendingLead if the row is no longer pending.
	UpgradeToComplete(ctx context.Context, id uint, c Completion) (*models.Lead, error)
	UpdateStatus(ctx context.Context, id uint, status models.LeadStatus, notes *string) (bool, error)
	Get(ctx context.Context, id uint) (*models.Lead, error)
	List(ctx context.Context, f Filter) ([]models.Lead, int64, error)
}

// GormStore is the Postgres lead store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) InsertPartial(ctx context.Context, lead *models.Lead) error {
	lead.Email = normalizeEmail(lead.Email)
	lead.Status = models.LeadEstimateSent
	return s.db.WithContext(ctx).Create(lead).Error
}

func (s *GormStore) RefreshPartial(ctx context.Context, id uint, lead *models.Lead) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Lead{}).
			Where("id = ? AND status = ?", id, models.LeadEstimateSent).
			Updates(map[string]interface{}{
				"session_id":    lead.SessionID,
				"configuration": lead.Configuration,
				"estimate_low":  lead.Estimate.Low,
				"estimate_high": lead.Estimate.High,
				"updated_at":    time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoPendingLead
		}
		return tx.First(lead, id).Error
	})
}

func (s *GormStore) FindLatestPartialByEmail(ctx context.Context, funnel models.FunnelType, email string) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).
		Where("funnel_type = ? AND email = ? AND status = ?", funnel, normalizeEmail(email), models.LeadEstimateSent).
		Order("created_at DESC").
		Order("id DESC").
		First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (s *GormStore) UpgradeToComplete(ctx context.Context, id uint, c Completion) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Lead{}).
			Where("id = ? AND status = ?", id, models.LeadEstimateSent).
			Updates(completionColumns(c))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoPendingLead
		}
		return tx.First(&lead, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, id uint, status models.LeadStatus, notes *string) (bool, error) {
	values := map[string]interface{}{"status": status}
	if notes != nil {
		values["notes"] = *notes
	}
	res := s.db.WithContext(ctx).Model(&models.Lead{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Get(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).First(&lead, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLeadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (s *GormStore) List(ctx context.Context, f Filter) ([]models.Lead, int64, error) {
	f = f.normalized()
	query := s.db.WithContext(ctx).Model(&models.Lead{})
	if f.FunnelType != "" {
		query = query.Where("funnel_type = ?", f.FunnelType)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Email != "" {
		query = query.Where("email LIKE ?", "%"+normalizeEmail(f.Email)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var leads []models.Lead
	err := query.Order("created_at DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&leads).Error
	return leads, total, err
}

func completionColumns(c Completion) map[string]interface{} {
	return map[string]interface{}{
		"full_name":    c.Contact.FullName,
		"phone":        c.Contact.Phone,
		"full_address": c.Address.FullAddress,
		"latitude":     c.Address.Lat,
		"longitude":    c.Address.Lng,
		"city":         c.Address.City,
		"province":     c.Address.Province,
		"postal_code":  c.Address.PostalCode,
		"status":       models.LeadSubmitted,
		"updated_at":   time.Now(),
	}
}

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	return f
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
