package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"leadfunnel/metrics"
	"leadfunnel/models"
)

var (
	// ErrNoPendingLead means completion found no estimate_sent lead for the
	// email: the visitor reached the final step without the email step.
	ErrNoPendingLead     = errors.New("no pending lead for this email")
	ErrLeadNotFound      = errors.New("lead not found")
	ErrInvalidTransition = errors.New("invalid lead status transition")
	ErrInvalidEmail      = errors.New("lead email is required")
)

// PartialInput is phase one: the email and answers captured so far.
type PartialInput struct {
	Funnel        models.FunnelType
	SessionID     string
	Email         string
	Configuration models.FormData
	Estimate      models.Estimate
}

// CompleteInput is phase two: the contact and address from the final step.
type CompleteInput struct {
	Funnel  models.FunnelType
	Email   string
	Address models.Address
	Contact models.Contact
}

var transitions = map[models.LeadStatus][]models.LeadStatus{
	models.LeadEstimateSent: {models.LeadRejected},
	models.LeadSubmitted:    {models.LeadReviewed, models.LeadContacted, models.LeadConverted, models.LeadRejected},
	models.LeadReviewed:     {models.LeadContacted, models.LeadConverted, models.LeadRejected},
	models.LeadContacted:    {models.LeadConverted, models.LeadRejected},
}

// CanTransition reports whether an operator may move a lead from one status
// to another. Re-applying the current status is allowed so notes can change.
func CanTransition(from, to models.LeadStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Protocol is the two-phase lead write: a partial lead when the email is
// captured, upgraded in place when the contact details arrive.
type Protocol struct {
	store   Store
	logger  logrus.FieldLogger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewProtocol builds the protocol. A nil store selects fallback mode, where
// leads get a fabricated local identity and nothing is written.
func NewProtocol(store Store, logger logrus.FieldLogger, m *metrics.Collector) *Protocol {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Protocol{
		store:   store,
		logger:  logger.WithField("component", "leads"),
		metrics: m,
		now:     time.Now,
	}
}

// Configured reports whether leads are written anywhere durable.
func (p *Protocol) Configured() bool {
	return p.store != nil
}

// CreatePartialLead records a lead with status estimate_sent. A lead already
// pending for the email is refreshed in place, so repeating the email step
// never leaves two live partial leads.
func (p *Protocol) CreatePartialLead(ctx context.Context, in PartialInput) (*models.Lead, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	var config json.RawMessage
	if in.Configuration != nil {
		raw, err := json.Marshal(in.Configuration)
		if err != nil {
			return nil, fmt.Errorf("encode lead configuration: %w", err)
		}
		config = raw
	}

	lead := &models.Lead{
		FunnelType:    in.Funnel,
		SessionID:     in.SessionID,
		Email:         email,
		Configuration: config,
		Estimate:      in.Estimate,
		Status:        models.LeadEstimateSent,
	}

	if p.store == nil {
		lead.LocalRef = "local-" + uuid.NewString()
		lead.CreatedAt = p.now()
		lead.UpdatedAt = lead.CreatedAt
		p.logger.WithFields(logrus.Fields{
			"funnel":    in.Funnel,
			"local_ref": lead.LocalRef,
		}).Warn("Lead store not configured, partial lead not persisted")
		return lead, nil
	}

	pending, err := p.store.FindLatestPartialByEmail(ctx, in.Funnel, email)
	if err != nil {
		p.metrics.LeadFailed(string(in.Funnel), "lookup")
		return nil, fmt.Errorf("find pending lead: %w", err)
	}
	if pending != nil {
		err = p.store.RefreshPartial(ctx, pending.ID, lead)
		if err == nil {
			p.logger.WithFields(logrus.Fields{
				"funnel":  in.Funnel,
				"lead_id": lead.ID,
			}).Info("Partial lead refreshed")
			return lead, nil
		}
		if !errors.Is(err, ErrNoPendingLead) {
			p.metrics.LeadFailed(string(in.Funnel), "partial")
			return nil, fmt.Errorf("refresh partial lead %d: %w", pending.ID, err)
		}
		// Completed in between; record a new one.
	}

	if err := p.store.InsertPartial(ctx, lead); err != nil {
		p.metrics.LeadFailed(string(in.Funnel), "partial")
		return nil, fmt.Errorf("insert partial lead: %w", err)
	}
	p.metrics.LeadRecorded(string(in.Funnel), string(models.LeadEstimateSent))
	p.logger.WithFields(logrus.Fields{
		"funnel":  in.Funnel,
		"lead_id": lead.ID,
	}).Info("Partial lead created")
	return lead, nil
}

// CompleteLead finds the newest estimate_sent lead for the email and moves it
// to submitted with the contact and address filled in.
func (p *Protocol) CompleteLead(ctx context.Context, in CompleteInput) (*models.Lead, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, ErrInvalidEmail
	}

	if p.store == nil {
		now := p.now()
		lead := &models.Lead{
			FunnelType: in.Funnel,
			Email:      email,
			Status:     models.LeadSubmitted,
			LocalRef:   "local-" + uuid.NewString(),
		}
		applyCompletion(lead, Completion{Address: in.Address, Contact: in.Contact})
		lead.CreatedAt, lead.UpdatedAt = now, now
		p.logger.WithField("funnel", in.Funnel).Warn("Lead store not configured, completed lead not persisted")
		return lead, nil
	}

	pending, err := p.store.FindLatestPartialByEmail(ctx, in.Funnel, email)
	if err != nil {
		p.metrics.LeadFailed(string(in.Funnel), "lookup")
		return nil, fmt.Errorf("find pending lead: %w", err)
	}
	if pending == nil {
		p.metrics.LeadFailed(string(in.Funnel), "no_pending")
		return nil, ErrNoPendingLead
	}

	lead, err := p.store.UpgradeToComplete(ctx, pending.ID, Completion{Address: in.Address, Contact: in.Contact})
	if err != nil {
		p.metrics.LeadFailed(string(in.Funnel), "complete")
		if errors.Is(err, ErrNoPendingLead) {
			return nil, err
		}
		return nil, fmt.Errorf("complete lead %d: %w", pending.ID, err)
	}
	p.metrics.LeadRecorded(string(in.Funnel), string(models.LeadSubmitted))
	p.logger.WithFields(logrus.Fields{
		"funnel":  in.Funnel,
		"lead_id": lead.ID,
	}).Info("Lead submitted")
	return lead, nil
}

// UpdateStatus applies an operator status change, optionally replacing notes.
func (p *Protocol) UpdateStatus(ctx context.Context, id uint, status models.LeadStatus, notes *string) (*models.Lead, error) {
	if p.store == nil {
		return nil, ErrLeadNotFound
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	current, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}
	if notes != nil {
		trimmed := strings.TrimSpace(*notes)
		notes = &trimmed
	}
	ok, err := p.store.UpdateStatus(ctx, id, status, notes)
	if err != nil {
		return nil, fmt.Errorf("update lead %d status: %w", id, err)
	}
	if !ok {
		return nil, ErrLeadNotFound
	}
	p.metrics.LeadRecorded(string(current.FunnelType), string(status))
	return p.store.Get(ctx, id)
}

// Get returns one lead.
func (p *Protocol) Get(ctx context.Context, id uint) (*models.Lead, error) {
	if p.store == nil {
		return nil, ErrLeadNotFound
	}
	return p.store.Get(ctx, id)
}

// List returns a page of leads and the total count.
func (p *Protocol) List(ctx context.Context, f Filter) ([]models.Lead, int64, error) {
	if p.store == nil {
		return nil, 0, nil
	}
	return p.store.List(ctx, f)
}

func applyCompletion(l *models.Lead, c Completion) {
	l.FullName = strPtr(c.Contact.FullName)
	l.Phone = strPtr(c.Contact.Phone)
	l.FullAddress = strPtr(c.Address.FullAddress)
	l.Latitude = c.Address.Lat
	l.Longitude = c.Address.Lng
	l.City = strPtr(c.Address.City)
	l.Province = strPtr(c.Address.Province)
	l.PostalCode = strPtr(c.Address.PostalCode)
}
