package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"leadfunnel/metrics"
	"leadfunnel/models"
)

// Scope is the per-request context every event inherits: the funnel session
// it belongs to and the browser attribution cookies.
type Scope struct {
	SessionID string
	SourceURL string
	ClientIP  string
	UserAgent string
	FBP       string
	FBC       string
}

// Event is one logical occurrence to report.
type Event struct {
	Name      models.EventName
	User      models.UserData
	Custom    map[string]any
	SourceURL string // overrides Scope.SourceURL when set
	SessionID string // overrides Scope.SessionID when set
}

// Dispatcher owns the server leg and the background sends in flight. One
// Dispatcher serves the whole process; Emitters are cheap per-request views.
type Dispatcher struct {
	cfg     Config
	server  ServerLeg
	logger  logrus.FieldLogger
	metrics *metrics.Collector
	now     func() time.Time

	wg sync.WaitGroup
}

func NewDispatcher(cfg Config, server ServerLeg, logger logrus.FieldLogger, m *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		cfg:     cfg.withDefaults(),
		server:  server,
		logger:  logger.WithField("component", "tracking"),
		metrics: m,
		now:     time.Now,
	}
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// NewEventID mints an id with the configured prefix.
func (d *Dispatcher) NewEventID() string {
	return newEventID(d.cfg.EventIDPrefix, d.now())
}

// Emitter binds a browser leg and request scope to the dispatcher.
func (d *Dispatcher) Emitter(browser BrowserLeg, scope Scope) *Emitter {
	return &Emitter{d: d, browser: browser, scope: scope}
}

// Relay sends an already-built envelope on the server leg without blocking
// the caller. Failures are logged and counted, never returned.
func (d *Dispatcher) Relay(ctx context.Context, event models.AnalyticsEvent) {
	if d.server == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
		defer cancel()

		err := d.server.Send(sendCtx, event)
		switch {
		case err == nil:
			d.metrics.AnalyticsDelivered(string(event.EventName), "server", nil)
		case errors.Is(err, ErrRelayDisabled):
			d.logger.WithField("event_id", event.EventID).Debug("Conversions relay disabled, skipping server leg")
		default:
			d.metrics.AnalyticsDelivered(string(event.EventName), "server", err)
			d.logger.WithFields(logrus.Fields{
				"event_id":   event.EventID,
				"event_name": event.EventName,
				"error":      err.Error(),
			}).Warn("Server leg delivery failed")
		}
	}()
}

// Flush waits for in-flight server sends or for ctx to end.
func (d *Dispatcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emitter fans one event out to both delivery legs under a single event id.
type Emitter struct {
	d       *Dispatcher
	browser BrowserLeg
	scope   Scope
}

// Scope returns the request scope the emitter was built with.
func (e *Emitter) Scope() Scope {
	return e.scope
}

// Emit mints a fresh id, calls the browser leg, starts the server leg with
// the same id and returns the id. Delivery failures never surface.
func (e *Emitter) Emit(ctx context.Context, ev Event) string {
	id := e.d.NewEventID()
	e.sendBrowser(ctx, id, ev)
	e.d.Relay(ctx, e.envelope(id, ev))
	return id
}

// RelayExisting sends the server leg for an event the page already fired
// itself, reusing the page's event id so both sends merge.
func (e *Emitter) RelayExisting(ctx context.Context, eventID string, ev Event) error {
	if _, ok := ParseEventID(eventID); !ok {
		return fmt.Errorf("malformed event id %q", eventID)
	}
	e.d.Relay(ctx, e.envelope(eventID, ev))
	return nil
}

func (e *Emitter) sendBrowser(ctx context.Context, id string, ev Event) {
	if e.browser == nil {
		return
	}
	err := e.browser.Track(ctx, ev.Name, ev.User, ev.Custom, id)
	switch {
	case err == nil:
		e.d.metrics.AnalyticsDelivered(string(ev.Name), "browser", nil)
	case errors.Is(err, ErrPixelUnavailable):
		e.d.logger.WithField("event_id", id).Debug("Browser pixel unavailable, continuing")
	default:
		e.d.metrics.AnalyticsDelivered(string(ev.Name), "browser", err)
		e.d.logger.WithFields(logrus.Fields{
			"event_id": id,
			"error":    err.Error(),
		}).Warn("Browser leg delivery failed")
	}
}

func (e *Emitter) envelope(id string, ev Event) models.AnalyticsEvent {
	user := ev.User
	if user.ClientIP == "" {
		user.ClientIP = e.scope.ClientIP
	}
	if user.UserAgent == "" {
		user.UserAgent = e.scope.UserAgent
	}
	if user.FBP == "" {
		user.FBP = e.scope.FBP
	}
	if user.FBC == "" {
		user.FBC = e.scope.FBC
	}
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = e.scope.SessionID
	}
	if user.ExternalID == "" {
		user.ExternalID = sessionID
	}
	if user.Country == "" && (user.Email != "" || user.Phone != "") {
		user.Country = e.d.cfg.Country
	}
	source := ev.SourceURL
	if source == "" {
		source = e.scope.SourceURL
	}
	return models.AnalyticsEvent{
		EventID:        id,
		EventName:      ev.Name,
		EventTime:      e.d.now().Unix(),
		EventSourceURL: source,
		UserData:       user,
		CustomData:     ev.Custom,
		SessionID:      sessionID,
	}
}
