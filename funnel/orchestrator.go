package funnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"leadfunnel/leads"
	"leadfunnel/mailer"
	"leadfunnel/models"
	"leadfunnel/sessions"
	"leadfunnel/tracking"
	"leadfunnel/utils"
)

// Local store keys, relative to the (browser, funnel) scope.
const (
	keySessionID      = "session_id"
	keyFormData       = "form_data"
	keyCompletedSteps = "completed_steps"
	keyCurrentStep    = "current_step"
	keyEmail          = "email"
	keyAttribution    = "attribution"
	keyViewStarted    = "view_started"
	keyInitialEventID = "initial_event_id"
	keyPartialPending = "partial_pending"
)

// funnelKeys are cleared on finalize and reset. The initial event id belongs
// to the browsing session, not the funnel run, and survives both.
var funnelKeys = []string{
	keySessionID, keyFormData, keyCompletedSteps, keyCurrentStep,
	keyEmail, keyAttribution, keyViewStarted, keyPartialPending,
}

// InitOptions carry what the page knows when the funnel mounts.
type InitOptions struct {
	Attribution models.Attribution
	// InitialEventID is the id the page's static markup used for its first
	// PageView. It is relayed on the server leg once per browsing session.
	InitialEventID string
	PagePath       string
}

// StepResult describes what happened on CompleteStep.
type StepResult struct {
	Step           int                   `json:"step"`
	Added          bool                  `json:"added"`
	CompletedSteps models.CompletedSteps `json:"completed_steps"`
	NextStep       int                   `json:"next_step,omitempty"`
	NextPath       string                `json:"next_path,omitempty"`
	EventID        string                `json:"event_id,omitempty"`
	Lead           *models.Lead          `json:"lead,omitempty"`
	Estimate       *models.Estimate      `json:"estimate,omitempty"`
	Proof          string                `json:"-"`
	RedirectPath   string                `json:"redirect_path,omitempty"`
	Finalized      bool                  `json:"finalized"`
}

// Snapshot is a read-only view of the orchestrator state.
type Snapshot struct {
	SessionID      string                `json:"session_id"`
	Funnel         models.FunnelType     `json:"funnel"`
	CurrentStep    int                   `json:"current_step"`
	ResumeStep     int                   `json:"resume_step"`
	TotalSteps     int                   `json:"total_steps"`
	CompletedSteps models.CompletedSteps `json:"completed_steps"`
	Email          string                `json:"email,omitempty"`
	FormData       models.FormData       `json:"form_data"`
}

// Runner is the funnel-agnostic surface of an Orchestrator.
type Runner interface {
	Definition() models.Definition
	Initialize(ctx context.Context, opts InitOptions) error
	UpdateFields(patch []byte) error
	SaveDraft(ctx context.Context) error
	ValidateStep(step int) error
	CompleteStep(ctx context.Context, step int) (*StepResult, error)
	TrackStepView(ctx context.Context, step int) (string, error)
	FinalizeFunnel(ctx context.Context) error
	ResetForm(ctx context.Context, opts InitOptions) error
	Snapshot() Snapshot
}

// Orchestrator owns one visitor's form state for one funnel and sequences
// every side effect of a step transition. T is the funnel's form variant.
type Orchestrator[T models.FormData] struct {
	mu      sync.Mutex
	def     models.Definition
	local   sessions.LocalStore
	emitter EventEmitter
	deps    Deps
	log     logrus.FieldLogger
	lockKey string

	initialized    bool
	sessionID      string
	form           T
	completed      models.CompletedSteps
	currentStep    int
	email          string
	attribution    models.Attribution
	partialPending bool
}

var _ Runner = (*Orchestrator[models.PodFormData])(nil)

func newOrchestrator[T models.FormData](def models.Definition, local sessions.LocalStore, emitter EventEmitter, deps Deps) *Orchestrator[T] {
	return &Orchestrator[T]{
		def:         def,
		local:       local,
		emitter:     emitter,
		deps:        deps,
		log:         deps.Logger.WithFields(logrus.Fields{"component": "funnel", "funnel": def.Type}),
		currentStep: 1,
	}
}

func (o *Orchestrator[T]) Definition() models.Definition {
	return o.def
}

// Initialize loads durable state and resolves the session. A second call is
// a no-op.
func (o *Orchestrator[T]) Initialize(ctx context.Context, opts InitOptions) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initializeLocked(ctx, opts)
}

func (o *Orchestrator[T]) initializeLocked(ctx context.Context, opts InitOptions) error {
	if o.initialized {
		return nil
	}
	o.load(ctx)

	if o.sessionID != "" && o.deps.VerifyRemote && o.deps.Sessions != nil {
		vctx, cancel := o.bounded(ctx)
		exists, err := o.deps.Sessions.SessionExists(vctx, o.sessionID)
		cancel()
		switch {
		case err != nil:
			o.warn("verify session", err)
		case !exists:
			o.log.WithField("session_id", o.sessionID).Info("Stored session no longer valid, starting a new one")
			o.sessionID = ""
		}
	}

	if o.sessionID == "" {
		o.sessionID = o.deps.NewSessionID()
		o.attribution = opts.Attribution
		o.setJSON(ctx, keyAttribution, o.attribution)
		o.setRaw(ctx, keySessionID, []byte(o.sessionID))
		o.createRemote(ctx)
		o.deps.Metrics.SessionCreated(string(o.def.Type))
	}

	if o.currentStep < 1 {
		o.currentStep = 1
	}
	if limit := o.completed.Max() + 1; o.currentStep > limit {
		o.currentStep = limit
	}
	if o.currentStep > o.def.TotalSteps() {
		o.currentStep = o.def.TotalSteps()
	}

	o.relayInitialPageView(ctx, opts)
	o.initialized = true
	return nil
}

// load reads durable state. Unreadable keys are treated as absent.
func (o *Orchestrator[T]) load(ctx context.Context) {
	if raw := o.getRaw(ctx, keySessionID); raw != nil {
		o.sessionID = string(raw)
	}
	if raw := o.getRaw(ctx, keyFormData); raw != nil {
		var form T
		if err := json.Unmarshal(raw, &form); err != nil {
			o.warn("decode form data", err)
		} else {
			o.form = form
		}
	}
	var steps models.CompletedSteps
	if o.getJSON(ctx, keyCompletedSteps, &steps) {
		o.completed = steps.Normalize()
	}
	var current int
	if o.getJSON(ctx, keyCurrentStep, &current) {
		o.currentStep = current
	}
	if raw := o.getRaw(ctx, keyEmail); raw != nil {
		o.email = string(raw)
	}
	o.getJSON(ctx, keyAttribution, &o.attribution)
	var pending bool
	if o.getJSON(ctx, keyPartialPending, &pending) {
		o.partialPending = pending
	}
}

func (o *Orchestrator[T]) createRemote(ctx context.Context) {
	if o.deps.Sessions == nil {
		return
	}
	now := o.deps.Now()
	cctx, cancel := o.bounded(ctx)
	defer cancel()
	_, err := o.deps.Sessions.CreateSession(cctx, &models.FunnelSession{
		ID:             o.sessionID,
		FunnelType:     o.def.Type,
		CurrentStep:    1,
		CompletedSteps: models.CompletedSteps{},
		Attribution:    o.attribution,
		StartedAt:      now,
		LastActivityAt: now,
	})
	if err != nil {
		// The first UpdateProgress upserts the row.
		o.warn("create session", err)
	}
}

func (o *Orchestrator[T]) relayInitialPageView(ctx context.Context, opts InitOptions) {
	if opts.InitialEventID == "" || o.emitter == nil {
		return
	}
	if prior := o.getRaw(ctx, keyInitialEventID); prior != nil {
		return
	}
	source := opts.PagePath
	if strings.HasPrefix(source, "/") {
		source = strings.TrimRight(o.deps.PublicURL, "/") + source
	}
	ev := tracking.Event{
		Name:      models.EventPageView,
		SourceURL: source,
		SessionID: o.sessionID,
	}
	if err := o.emitter.RelayExisting(ctx, opts.InitialEventID, ev); err != nil {
		o.log.WithError(err).Debug("Initial page view not relayed")
		return
	}
	o.setRaw(ctx, keyInitialEventID, []byte(opts.InitialEventID))
}

// UpdateField applies fn to the in-memory form. Nothing is persisted.
func (o *Orchestrator[T]) UpdateField(fn func(*T)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return ErrNotInitialized
	}
	fn(&o.form)
	return nil
}

// UpdateFields merges a JSON object into the in-memory form. Keys that are
// absent keep their current values.
func (o *Orchestrator[T]) UpdateFields(patch []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return ErrNotInitialized
	}
	if len(patch) == 0 {
		return nil
	}
	// Decode onto a deep copy so a bad patch cannot leave answers half
	// applied through shared pointers or slices.
	base, err := json.Marshal(o.form)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	var next T
	if err := json.Unmarshal(base, &next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if err := json.Unmarshal(patch, &next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	o.form = next
	return nil
}

// SaveDraft writes the form snapshot to the local store only, so answers
// survive a reload before the step is completed. Nothing is written once the
// loaded session has been finalized or reset elsewhere.
func (o *Orchestrator[T]) SaveDraft(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return ErrNotInitialized
	}
	release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if o.sessionEnded(ctx) {
		return ErrSessionEnded
	}
	o.setJSON(ctx, keyFormData, o.form)
	return nil
}

// acquire takes the per-visitor step lock. A locker outage degrades to
// running unlocked.
func (o *Orchestrator[T]) acquire(ctx context.Context) (func(), error) {
	release, err := o.deps.Locker.TryLock(ctx, o.lockKey, o.deps.LockTTL)
	switch {
	case errors.Is(err, sessions.ErrLocked):
		return nil, ErrSubmitInProgress
	case err != nil:
		o.warn("acquire step lock", err)
		return func() {}, nil
	}
	return release, nil
}

// sessionEnded reports whether the local store no longer holds the session
// this orchestrator loaded. An unreadable store counts as current.
func (o *Orchestrator[T]) sessionEnded(ctx context.Context) bool {
	raw, err := o.local.Get(ctx, keySessionID)
	if err != nil {
		o.warn("local get "+keySessionID, err)
		return false
	}
	return string(raw) != o.sessionID
}

// ValidateStep checks the fields owned by step.
func (o *Orchestrator[T]) ValidateStep(step int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.validateLocked(step)
}

func (o *Orchestrator[T]) validateLocked(step int) error {
	sd, ok := o.def.Step(step)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStep, step)
	}
	if err := utils.ValidatePartial(&o.form, sd.Fields...); err != nil {
		return err
	}
	if step == o.def.EmailStep {
		return utils.ValidateEmailFormat(o.form.ContactEmail())
	}
	return nil
}

// CompleteStep validates step, records it and runs its side effects. Only a
// locked step, a validation failure or a lead-protocol failure on the final
// step are returned; every other side-effect failure is logged.
func (o *Orchestrator[T]) CompleteStep(ctx context.Context, step int) (*StepResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil, ErrNotInitialized
	}
	if _, ok := o.def.Step(step); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStep, step)
	}
	if !CanAccessStep(o.def.Type, step, o.completed) {
		return nil, &StepError{Step: step, Redirect: o.def.StepPath(1), Err: ErrStepLocked}
	}
	if err := o.validateLocked(step); err != nil {
		return nil, err
	}

	release, err := o.acquire(ctx)
	if err != nil {
		return nil, &StepError{Step: step, Err: err}
	}
	defer release()
	if o.sessionEnded(ctx) {
		return nil, &StepError{Step: step, Redirect: o.def.StepPath(1), Err: ErrSessionEnded}
	}

	res := &StepResult{Step: step}
	var lead *models.Lead
	if step == o.def.FinalStep {
		if lead, err = o.completeLead(ctx); err != nil {
			serr := &StepError{Step: step, Err: err}
			if errors.Is(err, leads.ErrNoPendingLead) && o.partialPending {
				serr.Redirect = o.def.StepPath(o.def.EmailStep)
			}
			return nil, serr
		}
		res.Lead = lead
	}

	durationMs := o.viewDuration(ctx, step)
	o.completed, res.Added = o.completed.Add(step)
	if next := step + 1; next <= o.def.TotalSteps() && next > o.currentStep {
		o.currentStep = next
	}
	res.CompletedSteps = o.completed
	if res.Added {
		o.deps.Metrics.StepCompleted(string(o.def.Type), step)
	}

	o.persist(ctx)
	o.logStepEvent(ctx, step, models.StepEventComplete, durationMs)

	if step == o.def.EmailStep {
		o.captureEmail(ctx, res)
	}

	if step == o.def.FinalStep {
		o.submit(ctx, lead, res)
		o.finalizeLocked(ctx)
		res.Finalized = true
		return res, nil
	}

	res.NextStep = step + 1
	res.NextPath = o.def.StepPath(step + 1)
	return res, nil
}

// captureEmail runs phase one of the lead protocol. It is skipped when the
// step was already completed with the same address.
func (o *Orchestrator[T]) captureEmail(ctx context.Context, res *StepResult) {
	email := normalizeEmail(o.form.ContactEmail())
	estimate := o.deps.Pricer(o.form)
	res.Estimate = &estimate
	if !res.Added && email == o.email && !o.partialPending {
		return
	}

	o.email = email
	o.setRaw(ctx, keyEmail, []byte(email))
	if o.deps.Sessions != nil {
		sctx, cancel := o.bounded(ctx)
		if err := o.deps.Sessions.SetEmail(sctx, o.sessionID, email); err != nil {
			o.warn("set session email", err)
		}
		cancel()
	}

	lead := o.createPartialLead(ctx, estimate)
	res.Lead = lead

	custom := map[string]any{
		"funnel":   string(o.def.Type),
		"value":    estimate.Low,
		"currency": estimate.Currency,
	}
	if lead != nil {
		custom["lead_id"] = lead.Identity()
	}
	res.EventID = o.emit(ctx, tracking.Event{
		Name:   models.EventLead,
		User:   models.UserData{Email: email},
		Custom: custom,
	})

	if pod, ok := any(o.form).(models.PodFormData); ok && o.deps.Mailer != nil {
		data := podEstimateData(pod, estimate, o.resumeURL(), email)
		o.deps.Mailer.SendAsync(ctx, o.message(mailer.TemplatePodEstimate, email, data, lead))
	}
}

func (o *Orchestrator[T]) createPartialLead(ctx context.Context, estimate models.Estimate) *models.Lead {
	if o.deps.Leads == nil {
		return nil
	}
	lctx, cancel := o.bounded(ctx)
	defer cancel()
	lead, err := o.deps.Leads.CreatePartialLead(lctx, leads.PartialInput{
		Funnel:        o.def.Type,
		SessionID:     o.sessionID,
		Email:         o.email,
		Configuration: o.form,
		Estimate:      estimate,
	})
	if err != nil {
		o.partialPending = true
		o.setJSON(ctx, keyPartialPending, true)
		o.fail("partial_lead", err)
		return nil
	}
	if o.partialPending {
		o.partialPending = false
		o.remove(ctx, keyPartialPending)
	}
	return lead
}

// completeLead runs phase two. Phase one is never re-run here: a write that
// timed out may still have committed, and a second insert would duplicate the
// lead. When phase one is still pending the visitor is sent back to the email
// step, which retries it.
func (o *Orchestrator[T]) completeLead(ctx context.Context) (*models.Lead, error) {
	if o.deps.Leads == nil {
		return nil, errors.New("lead protocol not configured")
	}
	email := o.email
	if email == "" {
		email = normalizeEmail(o.form.ContactEmail())
	}

	lctx, cancel := o.bounded(ctx)
	defer cancel()
	lead, err := o.deps.Leads.CompleteLead(lctx, leads.CompleteInput{
		Funnel:  o.def.Type,
		Email:   email,
		Address: o.form.Address(),
		Contact: o.form.Contact(),
	})
	if err != nil {
		o.fail("complete_lead", err)
		return nil, err
	}
	if o.partialPending {
		o.partialPending = false
		o.remove(ctx, keyPartialPending)
	}
	return lead, nil
}

// submit fires the post-submission side effects and fills in the redirect.
func (o *Orchestrator[T]) submit(ctx context.Context, lead *models.Lead, res *StepResult) {
	contact := o.form.Contact()
	addr := o.form.Address()
	first, last := contact.FirstLast()
	submitted := o.deps.Now()

	res.EventID = o.emit(ctx, tracking.Event{
		Name: models.EventCompleteRegistration,
		User: models.UserData{
			Email:      lead.Email,
			Phone:      contact.Phone,
			FirstName:  first,
			LastName:   last,
			City:       addr.City,
			Province:   addr.Province,
			PostalCode: addr.PostalCode,
		},
		Custom: map[string]any{
			"funnel":    string(o.def.Type),
			"lead_id":   lead.Identity(),
			"value":     lead.Estimate.Low,
			"currency":  lead.Estimate.Currency,
			"reference": lead.Reference(),
		},
	})

	estimate := lead.Estimate
	if estimate.Currency == "" {
		estimate = o.deps.Pricer(o.form)
	}
	res.Estimate = &estimate

	if o.deps.Mailer != nil {
		data := submissionData(o.form, lead, estimate)
		o.deps.Mailer.SendAsync(ctx, o.message(confirmationTemplate(o.def.Type), lead.Email, data, lead))
		if o.deps.SalesEmail != "" {
			sales := salesData(o.form, lead, estimate, o.sessionID, submitted)
			o.deps.Mailer.SendAsync(ctx, o.message(mailer.TemplateSalesNotification, o.deps.SalesEmail, sales, lead))
		}
	}

	res.RedirectPath = o.def.ConfirmationPath()
	if o.deps.Proofs == nil {
		return
	}
	proof, err := o.deps.Proofs.IssueProof(o.def.Type, o.sessionID, lead)
	if err != nil {
		o.fail("submission_proof", err)
		return
	}
	res.Proof = proof
	res.RedirectPath += "?proof=" + proof
}

// TrackStepView records a view of step and emits a content-view event.
func (o *Orchestrator[T]) TrackStepView(ctx context.Context, step int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return "", ErrNotInitialized
	}
	name := o.def.StepName(step)
	if name == "" {
		return "", fmt.Errorf("%w: %d", ErrUnknownStep, step)
	}
	if !CanAccessStep(o.def.Type, step, o.completed) {
		return "", &StepError{Step: step, Redirect: o.def.StepPath(1), Err: ErrStepLocked}
	}

	o.currentStep = step
	o.setJSON(ctx, keyCurrentStep, step)
	o.setJSON(ctx, keyViewStarted, viewMark{Step: step, At: o.deps.Now().UnixMilli()})
	o.deps.Metrics.StepViewed(string(o.def.Type), step)
	o.logStepEvent(ctx, step, models.StepEventView, nil)

	return o.emit(ctx, tracking.Event{
		Name: models.EventViewContent,
		Custom: map[string]any{
			"funnel":       string(o.def.Type),
			"content_name": name,
			"step":         step,
			"total_steps":  o.def.TotalSteps(),
		},
		SourceURL: o.pageURL(step),
	}), nil
}

// FinalizeFunnel marks the session complete and clears all local state. The
// next Initialize starts a new session.
func (o *Orchestrator[T]) FinalizeFunnel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return ErrNotInitialized
	}
	o.finalizeLocked(ctx)
	return nil
}

func (o *Orchestrator[T]) finalizeLocked(ctx context.Context) {
	if o.deps.Sessions != nil {
		mctx, cancel := o.bounded(ctx)
		if err := o.deps.Sessions.MarkComplete(mctx, o.sessionID); err != nil {
			o.warn("mark session complete", err)
		}
		cancel()
	}
	o.log.WithField("session_id", o.sessionID).Info("Funnel finalized")
	o.clear(ctx)
}

// ResetForm discards the current run and starts a new session.
func (o *Orchestrator[T]) ResetForm(ctx context.Context, opts InitOptions) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clear(ctx)
	opts.InitialEventID = ""
	return o.initializeLocked(ctx, opts)
}

func (o *Orchestrator[T]) clear(ctx context.Context) {
	o.remove(ctx, funnelKeys...)
	var zero T
	o.form = zero
	o.completed = nil
	o.currentStep = 1
	o.sessionID = ""
	o.email = ""
	o.attribution = models.Attribution{}
	o.partialPending = false
	o.initialized = false
}

func (o *Orchestrator[T]) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	completed := make(models.CompletedSteps, len(o.completed))
	copy(completed, o.completed)
	return Snapshot{
		SessionID:      o.sessionID,
		Funnel:         o.def.Type,
		CurrentStep:    o.currentStep,
		ResumeStep:     ResumeStep(o.def.Type, o.completed),
		TotalSteps:     o.def.TotalSteps(),
		CompletedSteps: completed,
		Email:          o.email,
		FormData:       o.form,
	}
}

// Form returns a copy of the typed form.
func (o *Orchestrator[T]) Form() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.form
}

// persist writes the whole snapshot locally and then upserts it remotely.
func (o *Orchestrator[T]) persist(ctx context.Context) {
	o.setJSON(ctx, keyFormData, o.form)
	o.setJSON(ctx, keyCompletedSteps, o.completed)
	o.setJSON(ctx, keyCurrentStep, o.currentStep)

	if o.deps.Sessions == nil {
		return
	}
	form, err := json.Marshal(o.form)
	if err != nil {
		o.warn("encode form data", err)
		return
	}
	pctx, cancel := o.bounded(ctx)
	defer cancel()
	err = o.deps.Sessions.UpdateProgress(pctx, sessions.Progress{
		SessionID:      o.sessionID,
		FunnelType:     o.def.Type,
		CurrentStep:    o.currentStep,
		CompletedSteps: o.completed,
		FormData:       form,
		Attribution:    o.attribution,
	})
	if err != nil {
		o.warn("update progress", err)
	}
}

func (o *Orchestrator[T]) logStepEvent(ctx context.Context, step int, kind models.StepEventKind, durationMs *int64) {
	if o.deps.Sessions == nil {
		return
	}
	lctx, cancel := o.bounded(ctx)
	defer cancel()
	err := o.deps.Sessions.LogStepEvent(lctx, models.StepEvent{
		SessionID:  o.sessionID,
		FunnelType: o.def.Type,
		StepNumber: step,
		StepName:   o.def.StepName(step),
		Kind:       kind,
		DurationMs: durationMs,
		PagePath:   o.def.StepPath(step),
		CreatedAt:  o.deps.Now(),
	})
	if err != nil {
		o.warn("log step event", err)
	}
}

type viewMark struct {
	Step int   `json:"step"`
	At   int64 `json:"at"`
}

func (o *Orchestrator[T]) viewDuration(ctx context.Context, step int) *int64 {
	var mark viewMark
	if !o.getJSON(ctx, keyViewStarted, &mark) || mark.Step != step {
		return nil
	}
	d := o.deps.Now().UnixMilli() - mark.At
	if d < 0 {
		return nil
	}
	return &d
}

func (o *Orchestrator[T]) emit(ctx context.Context, ev tracking.Event) string {
	if o.emitter == nil {
		return ""
	}
	ev.SessionID = o.sessionID
	return o.emitter.Emit(ctx, ev)
}

func (o *Orchestrator[T]) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.deps.Timeout)
}

func (o *Orchestrator[T]) pageURL(step int) string {
	return strings.TrimRight(o.deps.PublicURL, "/") + o.def.StepPath(step)
}

func (o *Orchestrator[T]) resumeURL() string {
	next := o.def.EmailStep + 1
	if next > o.def.TotalSteps() {
		next = o.def.TotalSteps()
	}
	return o.pageURL(next)
}

func (o *Orchestrator[T]) warn(op string, err error) {
	o.log.WithFields(logrus.Fields{
		"op":         op,
		"session_id": o.sessionID,
		"error":      err.Error(),
	}).Warn("Funnel side effect failed")
	o.deps.Metrics.SideEffectFailed(op)
}

// fail reports a failure the visitor sees, or that loses data, through the
// injected logger and Sentry.
func (o *Orchestrator[T]) fail(op string, err error) {
	o.log.WithFields(logrus.Fields{
		"op":         op,
		"session_id": o.sessionID,
	}).WithError(err).Error("Funnel operation failed")
	o.deps.Metrics.SideEffectFailed(op)
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "funnel")
		scope.SetTag("funnel", string(o.def.Type))
		scope.SetTag("op", op)
		scope.SetExtra("session_id", o.sessionID)
		sentry.CaptureException(err)
	})
}

func (o *Orchestrator[T]) getRaw(ctx context.Context, key string) []byte {
	raw, err := o.local.Get(ctx, key)
	if err != nil {
		o.warn("local get "+key, err)
		return nil
	}
	return raw
}

func (o *Orchestrator[T]) getJSON(ctx context.Context, key string, v any) bool {
	raw := o.getRaw(ctx, key)
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		o.warn("local decode "+key, err)
		return false
	}
	return true
}

func (o *Orchestrator[T]) setRaw(ctx context.Context, key string, value []byte) {
	if err := o.local.Set(ctx, key, value); err != nil {
		o.warn("local set "+key, err)
	}
}

func (o *Orchestrator[T]) setJSON(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		o.warn("local encode "+key, err)
		return
	}
	o.setRaw(ctx, key, raw)
}

func (o *Orchestrator[T]) remove(ctx context.Context, keys ...string) {
	if err := o.local.Remove(ctx, keys...); err != nil {
		o.warn("local remove", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
