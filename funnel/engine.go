package funnel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"leadfunnel/leads"
	"leadfunnel/mailer"
	"leadfunnel/metrics"
	"leadfunnel/models"
	"leadfunnel/pricing"
	"leadfunnel/sessions"
	"leadfunnel/tracking"
)

// SessionService is the remote session mirror the orchestrator writes to.
type SessionService interface {
	CreateSession(ctx context.Context, session *models.FunnelSession) (string, error)
	SessionExists(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, p sessions.Progress) error
	SetEmail(ctx context.Context, id, email string) error
	MarkComplete(ctx context.Context, id string) error
	LogStepEvent(ctx context.Context, event models.StepEvent) error
}

// LeadProtocol is the two-phase lead write.
type LeadProtocol interface {
	CreatePartialLead(ctx context.Context, in leads.PartialInput) (*models.Lead, error)
	CompleteLead(ctx context.Context, in leads.CompleteInput) (*models.Lead, error)
}

// Mailer sends courtesy email without blocking the caller.
type Mailer interface {
	SendAsync(ctx context.Context, msg mailer.Message)
}

// EventEmitter reports deduplicated analytics events.
type EventEmitter interface {
	Emit(ctx context.Context, ev tracking.Event) string
	RelayExisting(ctx context.Context, eventID string, ev tracking.Event) error
}

// ProofIssuer signs the submission proof required by confirmation pages.
type ProofIssuer interface {
	IssueProof(funnel models.FunnelType, sessionID string, lead *models.Lead) (string, error)
}

// Pricer estimates a price range for a configuration.
type Pricer func(models.FormData) models.Estimate

// Deps are the collaborators shared by every orchestrator.
type Deps struct {
	Sessions SessionService
	Leads    LeadProtocol
	Mailer   Mailer
	Proofs   ProofIssuer
	Pricer   Pricer
	Logger   logrus.FieldLogger
	Metrics  *metrics.Collector
	// Locker serializes step completion per browser and funnel.
	Locker sessions.Locker

	// Timeout bounds every outbound call made while handling a step.
	Timeout time.Duration
	// LockTTL bounds how long a crashed request can hold the step lock.
	LockTTL time.Duration
	// VerifyRemote checks a resumed session id still exists server-side.
	VerifyRemote bool
	PublicURL    string
	SalesEmail   string

	Now          func() time.Time
	NewSessionID func() string
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.Timeout <= 0 {
		d.Timeout = 5 * time.Second
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Locker == nil {
		d.Locker = sessions.NewMemoryLocker()
	}
	if d.LockTTL <= 0 {
		d.LockTTL = 30 * time.Second
	}
	if d.Pricer == nil {
		d.Pricer = pricing.Estimate
	}
	if d.NewSessionID == nil {
		d.NewSessionID = newSessionID
	}
	return d
}

// newSessionID mints a time-ordered UUIDv7.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Engine opens per-visitor orchestrators over a shared local store.
type Engine struct {
	store sessions.LocalStore
	deps  Deps
}

func NewEngine(store sessions.LocalStore, deps Deps) *Engine {
	return &Engine{store: store, deps: deps.withDefaults()}
}

// Open returns the orchestrator for one browser and funnel type. It still
// needs Initialize before use.
func (e *Engine) Open(funnel models.FunnelType, browserID string, emitter EventEmitter) (Runner, error) {
	switch funnel {
	case models.FunnelPod:
		return Open[models.PodFormData](e, browserID, emitter)
	case models.FunnelBasement:
		return Open[models.BasementFormData](e, browserID, emitter)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFunnel, funnel)
}

// Open is the typed form of Engine.Open.
func Open[T models.FormData](e *Engine, browserID string, emitter EventEmitter) (*Orchestrator[T], error) {
	var zero T
	def, ok := models.Lookup(zero.Funnel())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunnel, zero.Funnel())
	}
	o := newOrchestrator[T](def, sessions.Scoped(e.store, browserID, def.Type), emitter, e.deps)
	o.lockKey = browserID + ":" + string(def.Type)
	return o, nil
}

// CompletedSteps reads a visitor's completed steps straight from the local
// store. Navigation guards use it; the read is consistent with the last
// completed step because CompleteStep writes before it returns.
func (e *Engine) CompletedSteps(ctx context.Context, funnel models.FunnelType, browserID string) (models.CompletedSteps, error) {
	raw, err := sessions.Scoped(e.store, browserID, funnel).Get(ctx, keyCompletedSteps)
	if err != nil || raw == nil {
		return nil, err
	}
	var steps models.CompletedSteps
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, err
	}
	return steps.Normalize(), nil
}
