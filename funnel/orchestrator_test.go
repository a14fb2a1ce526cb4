package funnel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"leadfunnel/leads"
	"leadfunnel/mailer"
	"leadfunnel/models"
	"leadfunnel/sessions"
	"leadfunnel/tracking"
	"leadfunnel/utils"
)

func TestInitializeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	o, _ := h.pod(t, "b1")
	first := o.Snapshot().SessionID
	require.NotEmpty(t, first)

	require.NoError(t, o.Initialize(context.Background(), InitOptions{}))
	assert.Equal(t, first, o.Snapshot().SessionID)

	_, err := h.remote.Get(context.Background(), first)
	require.NoError(t, err, "remote session should exist after initialize")
}

func TestInitializeResumesStoredSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	_, err := o.CompleteStep(ctx, 1)
	require.NoError(t, err)
	_, err = o.CompleteStep(ctx, 2)
	require.NoError(t, err)

	again, _ := h.pod(t, "b1")
	snap := again.Snapshot()
	assert.Equal(t, o.Snapshot().SessionID, snap.SessionID)
	assert.Equal(t, models.CompletedSteps{1, 2}, snap.CompletedSteps)
	assert.Equal(t, 3, snap.ResumeStep)
	assert.Equal(t, models.ColorBrown, again.Form().ExteriorColor)

	other, _ := h.pod(t, "b2")
	assert.NotEqual(t, snap.SessionID, other.Snapshot().SessionID)
	assert.Empty(t, other.Snapshot().CompletedSteps)
}

func TestInitializeReplacesSessionThatNoLongerExists(t *testing.T) {
	h := newHarness(t)
	o, _ := h.pod(t, "b1")
	old := o.Snapshot().SessionID
	require.NoError(t, h.remote.MarkComplete(context.Background(), old))

	again, _ := h.pod(t, "b1")
	assert.NotEqual(t, old, again.Snapshot().SessionID)
}

func TestCompleteStepIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(func(f *models.PodFormData) { f.UseCase = models.UseCaseHomeGym }))

	first, err := o.CompleteStep(ctx, 1)
	require.NoError(t, err)
	assert.True(t, first.Added)

	second, err := o.CompleteStep(ctx, 1)
	require.NoError(t, err)
	assert.False(t, second.Added)
	assert.Equal(t, models.CompletedSteps{1}, second.CompletedSteps)
	assert.Equal(t, "/pod/step-2", second.NextPath)
}

func TestCompleteStepRejectsLockedStep(t *testing.T) {
	h := newHarness(t)
	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))

	_, err := o.CompleteStep(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepLocked))

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "/pod/step-1", stepErr.Redirect)
	assert.Empty(t, o.Snapshot().CompletedSteps)
}

func TestCompleteStepValidatesOnlyItsFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _ := h.pod(t, "b1")

	_, err := o.CompleteStep(ctx, 1)
	var fe *utils.ValidationError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Fields(), "use_case")
	assert.NotContains(t, fe.Fields(), "email")

	require.NoError(t, o.UpdateField(func(f *models.PodFormData) { f.UseCase = "spaceship" }))
	_, err = o.CompleteStep(ctx, 1)
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Fields()["use_case"], "must be one of")

	require.NoError(t, o.UpdateField(func(f *models.PodFormData) { f.UseCase = models.UseCaseHomeGym }))
	_, err = o.CompleteStep(ctx, 1)
	assert.NoError(t, err)
}

func TestCompleteStepUnknownStep(t *testing.T) {
	h := newHarness(t)
	o, _ := h.pod(t, "b1")
	_, err := o.CompleteStep(context.Background(), 9)
	assert.True(t, errors.Is(err, ErrUnknownStep))
}

func TestOperationsRequireInitialize(t *testing.T) {
	h := newHarness(t)
	o, err := Open[models.PodFormData](h.engine, "b1", nil)
	require.NoError(t, err)

	_, err = o.CompleteStep(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, o.UpdateFields([]byte(`{}`)), ErrNotInitialized)
	_, err = o.TrackStepView(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestUpdateFieldsMergesPatch(t *testing.T) {
	h := newHarness(t)
	o, _ := h.pod(t, "b1")

	require.NoError(t, o.UpdateFields([]byte(`{"use_case":"home_office","flooring":"vinyl"}`)))
	require.NoError(t, o.UpdateFields([]byte(`{"hvac":"yes","lat":43.65,"lng":-79.38}`)))
	form := o.Form()
	assert.Equal(t, models.UseCaseHomeOffice, form.UseCase)
	assert.Equal(t, models.FlooringVinyl, form.Flooring)
	assert.Equal(t, models.HVACYes, form.Hvac)
	require.NotNil(t, form.Lat)
	assert.InDelta(t, 43.65, *form.Lat, 1e-9)

	err := o.UpdateFields([]byte(`{"flooring":`))
	assert.ErrorIs(t, err, ErrInvalidPatch)
	assert.Equal(t, models.FlooringVinyl, o.Form().Flooring)

	// A rejected patch must not reach values shared with an earlier snapshot.
	err = o.UpdateFields([]byte(`{"lat":12.5,"flooring":7}`))
	assert.ErrorIs(t, err, ErrInvalidPatch)
	assert.InDelta(t, 43.65, *o.Form().Lat, 1e-9)
	assert.InDelta(t, 43.65, *form.Lat, 1e-9)
}

func TestUpdateFieldsKeepsExplicitFalseAnswers(t *testing.T) {
	h := newHarness(t)
	o, _ := h.basement(t, "b1")

	require.NoError(t, o.UpdateFields([]byte(`{"project_types":["drywall_insulation","other"],"needs_separate_entrance":false}`)))
	form := o.Form()
	assert.Equal(t, []string{models.ProjectDrywallInsulation, models.OptionOther}, form.ProjectTypes)
	require.NotNil(t, form.NeedsSeparateEntrance)
	assert.False(t, *form.NeedsSeparateEntrance)

	_, err := o.CompleteStep(context.Background(), 1)
	require.NoError(t, err)
	_, err = o.CompleteStep(context.Background(), 2)
	require.NoError(t, err, "answering no still completes the step")
	_, err = o.CompleteStep(context.Background(), 3)
	var fe *utils.ValidationError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Fields(), "has_plan_design")
}

func TestUpdateFieldIsNotPersistedUntilDraftOrCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(func(f *models.PodFormData) { f.UseCase = models.UseCaseSideBusiness }))

	local := sessions.Scoped(h.local, "b1", models.FunnelPod)
	raw, err := local.Get(ctx, keyFormData)
	require.NoError(t, err)
	assert.Nil(t, raw)

	require.NoError(t, o.SaveDraft(ctx))
	raw, err = local.Get(ctx, keyFormData)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"use_case":"side_business"`)
}

func TestTrackStepView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, queue := h.pod(t, "b1")

	id, err := o.TrackStepView(ctx, 1)
	require.NoError(t, err)
	_, ok := tracking.ParseEventID(id)
	assert.True(t, ok)

	views := pixelCommands(queue, models.EventViewContent)
	require.Len(t, views, 1)
	assert.Equal(t, id, views[0].EventID)
	assert.Equal(t, "INTENT", views[0].Params["content_name"])
	assert.Equal(t, 8, views[0].Params["total_steps"])
	assert.Equal(t, 1, views[0].Params["step"])

	_, err = o.TrackStepView(ctx, 4)
	assert.ErrorIs(t, err, ErrStepLocked)

	require.NoError(t, o.UpdateField(fillPod))
	_, err = o.CompleteStep(ctx, 1)
	require.NoError(t, err)

	events := h.remote.Events(o.Snapshot().SessionID)
	require.Len(t, events, 2)
	assert.Equal(t, models.StepEventView, events[0].Kind)
	assert.Equal(t, models.StepEventComplete, events[1].Kind)
	assert.Equal(t, "/pod/step-1", events[1].PagePath)
	require.NotNil(t, events[1].DurationMs)
	assert.GreaterOrEqual(t, *events[1].DurationMs, int64(0))

	h.flush(t)
	server := h.server.named(models.EventViewContent)
	require.Len(t, server, 1)
	assert.Equal(t, id, server[0].EventID)
	assert.Equal(t, "https://builds.example/pod/step-1", server[0].EventSourceURL)
}

func TestPodEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, queue := h.pod(t, "b1")
	sessionID := o.Snapshot().SessionID

	require.NoError(t, o.UpdateField(func(f *models.PodFormData) { f.UseCase = models.UseCaseHomeOffice }))
	require.NoError(t, o.UpdateField(fillPod))

	for step := 1; step <= 4; step++ {
		res, err := o.CompleteStep(ctx, step)
		require.NoError(t, err, "step %d", step)
		assert.Equal(t, step+1, res.NextStep)
	}
	assert.Zero(t, h.leads.partial)

	res, err := o.CompleteStep(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, res.Lead)
	require.NotNil(t, res.Estimate)
	assert.Equal(t, models.LeadEstimateSent, res.Lead.Status)
	assert.Equal(t, models.Estimate{Low: 22800, High: 28800, Currency: "CAD"}, *res.Estimate)
	assert.Equal(t, 1, h.leads.partial)

	leadCmds := pixelCommands(queue, models.EventLead)
	require.Len(t, leadCmds, 1)
	assert.Equal(t, res.EventID, leadCmds[0].EventID)

	h.flush(t)
	leadEvents := h.server.named(models.EventLead)
	require.Len(t, leadEvents, 1)
	assert.Equal(t, leadCmds[0].EventID, leadEvents[0].EventID, "both legs share the event id")
	assert.Equal(t, "jane.doe@example.com", leadEvents[0].UserData.Email)
	assert.Equal(t, sessionID, leadEvents[0].SessionID)

	stored, err := h.remote.Get(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, stored.Email)
	assert.Equal(t, "jane.doe@example.com", *stored.Email)
	assert.Equal(t, []string{mailer.TemplatePodEstimate}, h.mail.templates())
	estimateMail := h.mail.sent[0]
	assert.Equal(t, "jane.doe@example.com", estimateMail.To)
	assert.Equal(t, "$22,800", estimateMail.Data["Low"])
	assert.Equal(t, "Brown", estimateMail.Data["ExteriorColor"])
	assert.Equal(t, true, estimateMail.Data["HVAC"])
	assert.Equal(t, "https://builds.example/pod/step-6?email=jane.doe%40example.com", estimateMail.Data["ResumeURL"])

	for step := 6; step <= 7; step++ {
		_, err := o.CompleteStep(ctx, step)
		require.NoError(t, err, "step %d", step)
	}

	final, err := o.CompleteStep(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 1, h.leads.complete)
	assert.True(t, final.Finalized)
	require.NotNil(t, final.Lead)
	assert.Equal(t, models.LeadSubmitted, final.Lead.Status)
	assert.Equal(t, res.Estimate.Low, final.Lead.Estimate.Low)
	assert.Equal(t, res.Estimate.High, final.Lead.Estimate.High)
	require.NotNil(t, final.Lead.FullName)
	assert.Equal(t, "Jane Doe", *final.Lead.FullName)
	require.NotNil(t, final.Lead.FullAddress)
	assert.Equal(t, "12 Elm Street, Toronto, ON M5V 2T6", *final.Lead.FullAddress)
	require.NotNil(t, final.Lead.Latitude)
	assert.InDelta(t, 43.6426, *final.Lead.Latitude, 1e-9)
	require.NotNil(t, final.Lead.City)
	assert.Equal(t, "Toronto", *final.Lead.City)

	assert.True(t, strings.HasPrefix(final.RedirectPath, "/pod/confirmation?proof="))
	claims, err := h.proofs.VerifyProof(final.Proof, models.FunnelPod)
	require.NoError(t, err)
	assert.Equal(t, sessionID, claims.SessionID)
	assert.Equal(t, final.Lead.Reference(), claims.Reference)

	registrations := pixelCommands(queue, models.EventCompleteRegistration)
	require.Len(t, registrations, 1)
	h.flush(t)
	serverRegs := h.server.named(models.EventCompleteRegistration)
	require.Len(t, serverRegs, 1)
	assert.Equal(t, registrations[0].EventID, serverRegs[0].EventID)

	assert.Equal(t, 1, h.store.Count("jane.doe@example.com"), "completion upgrades the partial row")
	assert.ElementsMatch(t, []string{
		mailer.TemplatePodEstimate,
		mailer.TemplatePodConfirmation,
		mailer.TemplateSalesNotification,
	}, h.mail.templates())
	sales := h.mail.sent[2]
	assert.Equal(t, "sales@builds.example", sales.To)
	assert.Equal(t, "Backyard Pod", sales.Data["Product"])
	assert.Equal(t, false, sales.Data["Hot"])
	assert.Equal(t, sessionID, sales.Data["SessionID"])

	stored, err = h.remote.Get(ctx, sessionID)
	require.NoError(t, err)
	assert.NotNil(t, stored.CompletedAt)
}

func TestFinalizeClearsLocalState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	_, err := o.CompleteStep(ctx, 1)
	require.NoError(t, err)
	old := o.Snapshot().SessionID

	require.NoError(t, o.FinalizeFunnel(ctx))

	local := sessions.Scoped(h.local, "b1", models.FunnelPod)
	for _, key := range []string{keyFormData, keyCompletedSteps, keySessionID} {
		raw, err := local.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, raw, key)
	}
	assert.Empty(t, o.Snapshot().CompletedSteps)
	assert.Equal(t, models.PodFormData{}, o.Form())

	require.NoError(t, o.Initialize(ctx, InitOptions{}))
	assert.NotEmpty(t, o.Snapshot().SessionID)
	assert.NotEqual(t, old, o.Snapshot().SessionID)
}

func TestResetFormStartsNewSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	_, err := o.CompleteStep(ctx, 1)
	require.NoError(t, err)
	old := o.Snapshot().SessionID

	require.NoError(t, o.ResetForm(ctx, InitOptions{}))
	snap := o.Snapshot()
	assert.NotEqual(t, old, snap.SessionID)
	assert.Empty(t, snap.CompletedSteps)
	assert.Equal(t, 1, snap.CurrentStep)

	again, _ := h.pod(t, "b1")
	assert.Equal(t, snap.SessionID, again.Snapshot().SessionID)
}

func TestEmailStepSideEffectsRunOncePerAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, queue := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	for step := 1; step <= 5; step++ {
		_, err := o.CompleteStep(ctx, step)
		require.NoError(t, err)
	}
	_, err := o.CompleteStep(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, h.leads.partial)
	assert.Len(t, pixelCommands(queue, models.EventLead), 1)

	require.NoError(t, o.UpdateField(func(f *models.PodFormData) { f.Email = "other@example.com" }))
	_, err = o.CompleteStep(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, h.leads.partial)
	assert.Equal(t, "other@example.com", o.Snapshot().Email)
}

func TestInitialPageViewRelayedOncePerBrowsingSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	initial := tracking.NewEventID("lf")

	queue := tracking.NewPixelQueue(testPixel)
	o, err := Open[models.PodFormData](h.engine, "b1", h.dispatcher.Emitter(queue, tracking.Scope{}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(ctx, InitOptions{InitialEventID: initial, PagePath: "/pod/step-1"}))

	again, err := Open[models.PodFormData](h.engine, "b1", h.dispatcher.Emitter(queue, tracking.Scope{}))
	require.NoError(t, err)
	require.NoError(t, again.Initialize(ctx, InitOptions{InitialEventID: tracking.NewEventID("lf")}))

	h.flush(t)
	views := h.server.named(models.EventPageView)
	require.Len(t, views, 1)
	assert.Equal(t, initial, views[0].EventID)
	assert.Equal(t, "https://builds.example/pod/step-1", views[0].EventSourceURL)
	assert.Empty(t, pixelCommands(queue, models.EventPageView), "the page already fired the browser leg")
}

func TestMalformedInitialEventIDIsIgnored(t *testing.T) {
	h := newHarness(t)
	queue := tracking.NewPixelQueue(testPixel)
	o, err := Open[models.PodFormData](h.engine, "b1", h.dispatcher.Emitter(queue, tracking.Scope{}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background(), InitOptions{InitialEventID: "not-an-id"}))
	h.flush(t)
	assert.Empty(t, h.server.named(models.EventPageView))
}

func TestPersistenceFailuresDoNotBlockSteps(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Sessions = failingSessions{} })
	ctx := context.Background()
	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))

	for step := 1; step <= 5; step++ {
		_, err := o.CompleteStep(ctx, step)
		require.NoError(t, err)
	}
	assert.Equal(t, models.CompletedSteps{1, 2, 3, 4, 5}, o.Snapshot().CompletedSteps)
	assert.Equal(t, 1, h.leads.partial)
}

type failingSessions struct{}

var errDown = errors.New("database unavailable")

func (failingSessions) CreateSession(context.Context, *models.FunnelSession) (string, error) {
	return "", errDown
}
func (failingSessions) SessionExists(context.Context, string) (bool, error) { return false, errDown }
func (failingSessions) UpdateProgress(context.Context, sessions.Progress) error {
	return errDown
}
func (failingSessions) SetEmail(context.Context, string, string) error       { return errDown }
func (failingSessions) MarkComplete(context.Context, string) error           { return errDown }
func (failingSessions) LogStepEvent(context.Context, models.StepEvent) error { return errDown }

type mockLeads struct {
	mock.Mock
}

func (m *mockLeads) CreatePartialLead(ctx context.Context, in leads.PartialInput) (*models.Lead, error) {
	args := m.Called(ctx, in)
	lead, _ := args.Get(0).(*models.Lead)
	return lead, args.Error(1)
}

func (m *mockLeads) CompleteLead(ctx context.Context, in leads.CompleteInput) (*models.Lead, error) {
	args := m.Called(ctx, in)
	lead, _ := args.Get(0).(*models.Lead)
	return lead, args.Error(1)
}

func TestFinalStepDoesNotRerunPhaseOne(t *testing.T) {
	ml := &mockLeads{}
	h := newHarness(t, func(d *Deps) { d.Leads = ml })
	ctx := context.Background()

	pending := &models.Lead{Model: modelWithID(7), FunnelType: models.FunnelPod, Email: "jane.doe@example.com", Status: models.LeadEstimateSent}
	submitted := &models.Lead{Model: modelWithID(7), FunnelType: models.FunnelPod, Email: "jane.doe@example.com", Status: models.LeadSubmitted}
	ml.On("CreatePartialLead", mock.Anything, mock.Anything).Return(nil, errDown).Once()
	ml.On("CompleteLead", mock.Anything, mock.Anything).Return(nil, leads.ErrNoPendingLead).Once()
	ml.On("CreatePartialLead", mock.Anything, mock.MatchedBy(func(in leads.PartialInput) bool {
		return in.Email == "jane.doe@example.com"
	})).Return(pending, nil).Once()
	ml.On("CompleteLead", mock.Anything, mock.Anything).Return(submitted, nil).Once()

	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	completeThrough(t, o, 7)

	_, err := o.CompleteStep(ctx, 8)
	require.ErrorIs(t, err, leads.ErrNoPendingLead)
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "/pod/step-5", stepErr.Redirect, "the visitor is sent back to retry the email step")
	ml.AssertNumberOfCalls(t, "CreatePartialLead", 1)
	assert.False(t, o.Snapshot().CompletedSteps.Has(8))

	// The pending flag survives a reload.
	again, _ := h.pod(t, "b1")
	_, err = again.CompleteStep(ctx, 5)
	require.NoError(t, err)
	ml.AssertNumberOfCalls(t, "CreatePartialLead", 2)

	res, err := again.CompleteStep(ctx, 8)
	require.NoError(t, err)
	assert.True(t, res.Finalized)
	assert.Equal(t, "Q-000007", res.Lead.Reference())
	ml.AssertExpectations(t)
}

// slowCommitStore commits the insert and then reports a timeout, the way a
// write that lands just after the client deadline looks to the caller.
type slowCommitStore struct {
	*leads.MemoryStore
	mu       sync.Mutex
	inserts  int
	timeouts int
}

func (s *slowCommitStore) InsertPartial(ctx context.Context, lead *models.Lead) error {
	if err := s.MemoryStore.InsertPartial(ctx, lead); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.timeouts > 0 {
		s.timeouts--
		return context.DeadlineExceeded
	}
	return nil
}

func TestTimedOutPhaseOneNeverDuplicatesLead(t *testing.T) {
	store := &slowCommitStore{MemoryStore: leads.NewMemoryStore(), timeouts: 1}
	h := newHarness(t, func(d *Deps) { d.Leads = leads.NewProtocol(store, quietLogger(), nil) })
	ctx := context.Background()

	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	completeThrough(t, o, 5)
	assert.Equal(t, 1, store.Count("jane.doe@example.com"))

	// Retrying the email step refreshes the row that did land.
	_, err := o.CompleteStep(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count("jane.doe@example.com"))

	for step := 6; step <= 7; step++ {
		_, err := o.CompleteStep(ctx, step)
		require.NoError(t, err)
	}
	res, err := o.CompleteStep(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, models.LeadSubmitted, res.Lead.Status)
	assert.Equal(t, 1, store.Count("jane.doe@example.com"))
	assert.Equal(t, 1, store.inserts)
}

func TestFinalStepCompletesLeadThatLandedAfterTimeout(t *testing.T) {
	store := &slowCommitStore{MemoryStore: leads.NewMemoryStore(), timeouts: 1}
	h := newHarness(t, func(d *Deps) { d.Leads = leads.NewProtocol(store, quietLogger(), nil) })

	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	completeThrough(t, o, 7)

	res, err := o.CompleteStep(context.Background(), 8)
	require.NoError(t, err)
	assert.True(t, res.Finalized)
	assert.Equal(t, 1, store.Count("jane.doe@example.com"))
	assert.Equal(t, 1, store.inserts)
}

func TestFinalStepNoPendingLeadPropagates(t *testing.T) {
	ml := &mockLeads{}
	h := newHarness(t, func(d *Deps) { d.Leads = ml })
	ctx := context.Background()

	ml.On("CreatePartialLead", mock.Anything, mock.Anything).Return(&models.Lead{Model: modelWithID(1), Status: models.LeadEstimateSent}, nil)
	ml.On("CompleteLead", mock.Anything, mock.Anything).Return(nil, leads.ErrNoPendingLead)

	o, queue := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	for step := 1; step <= 7; step++ {
		_, err := o.CompleteStep(ctx, step)
		require.NoError(t, err)
	}
	queue.Drain()

	_, err := o.CompleteStep(ctx, 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, leads.ErrNoPendingLead)
	assert.False(t, o.Snapshot().CompletedSteps.Has(8))
	assert.NotEmpty(t, o.Snapshot().SessionID, "state is kept so the visitor can retry")
	assert.Empty(t, pixelCommands(queue, models.EventCompleteRegistration))
}

func TestBasementRunnerThroughEngine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	queue := tracking.NewPixelQueue(testPixel)
	r, err := h.engine.Open(models.FunnelBasement, "b1", h.dispatcher.Emitter(queue, tracking.Scope{}))
	require.NoError(t, err)
	require.NoError(t, r.Initialize(ctx, InitOptions{}))
	assert.Equal(t, 8, r.Definition().FinalStep)

	require.NoError(t, r.UpdateFields([]byte(`{"project_types":["full_remodel"]}`)))
	res, err := r.CompleteStep(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "/basement-suite/step-2", res.NextPath)

	completed, err := h.engine.CompletedSteps(ctx, models.FunnelBasement, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.CompletedSteps{1}, completed)

	pod, err := h.engine.CompletedSteps(ctx, models.FunnelPod, "b1")
	require.NoError(t, err)
	assert.Empty(t, pod, "funnel state is scoped per funnel type")

	_, err = h.engine.Open("boat", "b1", nil)
	assert.ErrorIs(t, err, ErrUnknownFunnel)
}

func TestBasementEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o, queue := h.basement(t, "b1")
	require.NoError(t, o.UpdateField(fillBasement))

	completeThrough(t, o, 6)
	assert.Zero(t, h.leads.partial)

	res, err := o.CompleteStep(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, res.Lead)
	assert.Equal(t, models.LeadEstimateSent, res.Lead.Status)
	assert.Equal(t, models.Estimate{Low: 60000, High: 120000, Currency: "CAD"}, *res.Estimate)
	assert.Len(t, pixelCommands(queue, models.EventLead), 1)
	assert.Empty(t, h.mail.templates(), "basement visitors get no estimate email")

	final, err := o.CompleteStep(ctx, 8)
	require.NoError(t, err)
	assert.True(t, final.Finalized)
	assert.Equal(t, models.LeadSubmitted, final.Lead.Status)
	require.NotNil(t, final.Lead.FullAddress)
	assert.Equal(t, "Mississauga, ON", *final.Lead.FullAddress)
	assert.True(t, strings.HasPrefix(final.RedirectPath, "/basement-suite/confirmation?proof="))
	assert.Equal(t, 1, h.store.Count("sam@example.com"))

	assert.Equal(t, []string{mailer.TemplateBasementConfirmation, mailer.TemplateSalesNotification}, h.mail.templates())
	confirm := h.mail.sent[0]
	assert.Equal(t, "sam@example.com", confirm.To)
	assert.Equal(t, "Sam", confirm.Data["FirstName"])
	assert.Equal(t, "Full Basement Remodel, Separate Entrance Addition", confirm.Data["ProjectTypes"])

	sales := h.mail.sent[1]
	assert.Equal(t, "sales@builds.example", sales.To)
	assert.Equal(t, true, sales.Data["Hot"])
	assert.Equal(t, "ASAP", sales.Data["Priority"])
	assert.Equal(t, "Mississauga", sales.Data["ServiceArea"])
	assert.Equal(t, true, sales.Data["SeparateEntrance"])
	assert.Equal(t, false, sales.Data["HasPlanDesign"])
}

func TestStaleOrchestratorCannotResubmitOrRewriteDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, _ := h.pod(t, "b1")
	require.NoError(t, first.UpdateField(fillPod))
	completeThrough(t, first, 7)

	// A second tab loaded the same run before the first one submitted.
	second, _ := h.pod(t, "b1")
	require.Equal(t, first.Snapshot().SessionID, second.Snapshot().SessionID)

	res, err := first.CompleteStep(ctx, 8)
	require.NoError(t, err)
	require.True(t, res.Finalized)

	_, err = second.CompleteStep(ctx, 8)
	require.ErrorIs(t, err, ErrSessionEnded)
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "/pod/step-1", stepErr.Redirect)
	assert.Equal(t, 1, h.leads.complete, "the ended run never reaches the lead protocol")

	assert.ErrorIs(t, second.SaveDraft(ctx), ErrSessionEnded)
	local := sessions.Scoped(h.local, "b1", models.FunnelPod)
	raw, err := local.Get(ctx, keyFormData)
	require.NoError(t, err)
	assert.Nil(t, raw, "no answers are written back after finalize")
}

func TestCompleteStepRejectsConcurrentSubmission(t *testing.T) {
	locker := sessions.NewMemoryLocker()
	h := newHarness(t, func(d *Deps) { d.Locker = locker })
	ctx := context.Background()

	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	completeThrough(t, o, 7)

	release, err := locker.TryLock(ctx, "b1:pod", time.Minute)
	require.NoError(t, err)

	_, err = o.CompleteStep(ctx, 8)
	require.ErrorIs(t, err, ErrSubmitInProgress)
	assert.Zero(t, h.leads.complete)
	assert.ErrorIs(t, o.SaveDraft(ctx), ErrSubmitInProgress)

	// Another browser is not affected.
	other, _ := h.pod(t, "b2")
	require.NoError(t, other.UpdateField(fillPod))
	_, err = other.CompleteStep(ctx, 1)
	require.NoError(t, err)

	release()
	res, err := o.CompleteStep(ctx, 8)
	require.NoError(t, err)
	assert.True(t, res.Finalized)
}

func TestLeadFailuresAreLoggedThroughInjectedLogger(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	ml := &mockLeads{}
	h := newHarness(t, func(d *Deps) {
		d.Leads = ml
		d.Logger = logger
	})
	ml.On("CreatePartialLead", mock.Anything, mock.Anything).Return(nil, errDown)
	ml.On("CompleteLead", mock.Anything, mock.Anything).Return(nil, leads.ErrNoPendingLead)

	o, _ := h.pod(t, "b1")
	require.NoError(t, o.UpdateField(fillPod))
	completeThrough(t, o, 7)
	_, err := o.CompleteStep(context.Background(), 8)
	require.Error(t, err)

	var ops []string
	for _, e := range hook.AllEntries() {
		if e.Level != logrus.ErrorLevel {
			continue
		}
		assert.Equal(t, "funnel", e.Data["component"])
		assert.Equal(t, o.Snapshot().SessionID, e.Data["session_id"])
		ops = append(ops, e.Data["op"].(string))
	}
	assert.Equal(t, []string{"partial_lead", "complete_lead"}, ops)
}
