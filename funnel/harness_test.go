package funnel

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadfunnel/leads"
	"leadfunnel/mailer"
	"leadfunnel/models"
	"leadfunnel/sessions"
	"leadfunnel/tracking"
	"leadfunnel/utils"
)

const testPixel = "1234567890"

type fakeServer struct {
	mu     sync.Mutex
	events []models.AnalyticsEvent
}

func (f *fakeServer) Send(_ context.Context, ev models.AnalyticsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeServer) named(name models.EventName) []models.AnalyticsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AnalyticsEvent
	for _, ev := range f.events {
		if ev.EventName == name {
			out = append(out, ev)
		}
	}
	return out
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (f *fakeMailer) SendAsync(_ context.Context, msg mailer.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeMailer) templates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Template)
	}
	return out
}

// countingLeads wraps the real protocol and counts phase calls.
type countingLeads struct {
	*leads.Protocol
	mu       sync.Mutex
	partial  int
	complete int
}

func (c *countingLeads) CreatePartialLead(ctx context.Context, in leads.PartialInput) (*models.Lead, error) {
	c.mu.Lock()
	c.partial++
	c.mu.Unlock()
	return c.Protocol.CreatePartialLead(ctx, in)
}

func (c *countingLeads) CompleteLead(ctx context.Context, in leads.CompleteInput) (*models.Lead, error) {
	c.mu.Lock()
	c.complete++
	c.mu.Unlock()
	return c.Protocol.CompleteLead(ctx, in)
}

type harness struct {
	local      *sessions.MemoryStore
	remote     *sessions.MemoryService
	store      *leads.MemoryStore
	leads      *countingLeads
	server     *fakeServer
	mail       *fakeMailer
	proofs     *utils.ProofSigner
	dispatcher *tracking.Dispatcher
	engine     *Engine
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newHarness(t *testing.T, override ...func(*Deps)) *harness {
	t.Helper()
	logger := quietLogger()
	h := &harness{
		local:  sessions.NewMemoryStore(),
		remote: sessions.NewMemoryService(),
		store:  leads.NewMemoryStore(),
		server: &fakeServer{},
		mail:   &fakeMailer{},
		proofs: utils.NewProofSigner("test-secret", time.Minute),
	}
	h.leads = &countingLeads{Protocol: leads.NewProtocol(h.store, logger, nil)}
	h.dispatcher = tracking.NewDispatcher(tracking.Config{
		PixelID:       testPixel,
		AccessToken:   "token",
		EventIDPrefix: "lf",
	}, h.server, logger, nil)

	deps := Deps{
		Sessions:     h.remote,
		Leads:        h.leads,
		Mailer:       h.mail,
		Proofs:       h.proofs,
		Logger:       logger,
		Timeout:      time.Second,
		VerifyRemote: true,
		PublicURL:    "https://builds.example",
		SalesEmail:   "sales@builds.example",
	}
	for _, fn := range override {
		fn(&deps)
	}
	h.engine = NewEngine(h.local, deps)
	return h
}

func (h *harness) pod(t *testing.T, browser string) (*Orchestrator[models.PodFormData], *tracking.PixelQueue) {
	t.Helper()
	queue := tracking.NewPixelQueue(testPixel)
	o, err := Open[models.PodFormData](h.engine, browser, h.dispatcher.Emitter(queue, tracking.Scope{ClientIP: "203.0.113.9"}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background(), InitOptions{}))
	return o, queue
}

func (h *harness) basement(t *testing.T, browser string) (*Orchestrator[models.BasementFormData], *tracking.PixelQueue) {
	t.Helper()
	queue := tracking.NewPixelQueue(testPixel)
	o, err := Open[models.BasementFormData](h.engine, browser, h.dispatcher.Emitter(queue, tracking.Scope{ClientIP: "203.0.113.9"}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background(), InitOptions{}))
	return o, queue
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.dispatcher.Flush(ctx))
}

func fillPod(f *models.PodFormData) {
	lat, lng := 43.6426, -79.3871
	f.UseCase = models.UseCaseHomeOffice
	f.AdditionalDetails = "Window facing the garden"
	f.ExteriorColor = models.ColorBrown
	f.Flooring = models.FlooringVinyl
	f.Hvac = models.HVACYes
	f.Email = "Jane.Doe@Example.com"
	f.FullAddress = "12 Elm Street, Toronto, ON M5V 2T6"
	f.Lat = &lat
	f.Lng = &lng
	f.City = "Toronto"
	f.Province = "ON"
	f.PostalCode = "M5V 2T6"
	f.FullName = "Jane Doe"
	f.Phone = "+1 (416) 555-0100"
}

func fillBasement(f *models.BasementFormData) {
	yes, no := true, false
	f.ProjectTypes = []string{models.ProjectFullRemodel, models.ProjectSeparateEntrance}
	f.NeedsSeparateEntrance = &yes
	f.HasPlanDesign = &no
	f.ProjectUrgency = models.UrgencyASAP
	f.AdditionalDetails = "Rental suite for the in-laws"
	f.ProjectLocation = "Mississauga, ON"
	f.Email = "sam@example.com"
	f.FullName = "Sam Lee"
	f.Phone = "905-555-0199"
}

// completeThrough completes steps 1..last in order.
func completeThrough[T models.FormData](t *testing.T, o *Orchestrator[T], last int) {
	t.Helper()
	for step := 1; step <= last; step++ {
		_, err := o.CompleteStep(context.Background(), step)
		require.NoError(t, err, "step %d", step)
	}
}

func pixelCommands(q *tracking.PixelQueue, name models.EventName) []tracking.PixelCommand {
	var out []tracking.PixelCommand
	for _, cmd := range q.Drain() {
		if cmd.Event == name {
			out = append(out, cmd)
		}
	}
	return out
}

func modelWithID(id uint) gorm.Model {
	return gorm.Model{ID: id}
}
