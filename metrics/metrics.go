package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the funnel's Prometheus metrics. A nil *Collector is valid
// and records nothing, so components can run without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	stepViews        *prometheus.CounterVec
	stepCompletions  *prometheus.CounterVec
	sessionsCreated  *prometheus.CounterVec
	sessionsAbandon  *prometheus.CounterVec
	leadsRecorded    *prometheus.CounterVec
	leadFailures     *prometheus.CounterVec
	analyticsSent    *prometheus.CounterVec
	analyticsFailed  *prometheus.CounterVec
	emailsDispatched *prometheus.CounterVec
	sideEffectErrors *prometheus.CounterVec
}

// NewCollector registers every metric on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)

	return &Collector{
		registry: registry,
		stepViews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_step_views_total",
			Help: "Funnel step views",
		}, []string{"funnel", "step"}),
		stepCompletions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_step_completions_total",
			Help: "Funnel step completions, first completion only",
		}, []string{"funnel", "step"}),
		sessionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_sessions_created_total",
			Help: "Funnel sessions minted",
		}, []string{"funnel"}),
		sessionsAbandon: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_sessions_abandoned_total",
			Help: "Funnel sessions marked abandoned by the sweep",
		}, []string{"funnel"}),
		leadsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_leads_total",
			Help: "Lead writes by resulting status",
		}, []string{"funnel", "status"}),
		leadFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_lead_failures_total",
			Help: "Lead protocol failures",
		}, []string{"funnel", "phase"}),
		analyticsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_analytics_events_total",
			Help: "Analytics events delivered by leg",
		}, []string{"event", "leg"}),
		analyticsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_analytics_failures_total",
			Help: "Analytics delivery failures by leg",
		}, []string{"event", "leg"}),
		emailsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_emails_total",
			Help: "Transactional email attempts",
		}, []string{"template", "result"}),
		sideEffectErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "leadfunnel_side_effect_errors_total",
			Help: "Swallowed persistence failures",
		}, []string{"operation"}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) StepViewed(funnel string, step int) {
	if c == nil {
		return
	}
	c.stepViews.WithLabelValues(funnel, strconv.Itoa(step)).Inc()
}

func (c *Collector) StepCompleted(funnel string, step int) {
	if c == nil {
		return
	}
	c.stepCompletions.WithLabelValues(funnel, strconv.Itoa(step)).Inc()
}

func (c *Collector) SessionCreated(funnel string) {
	if c == nil {
		return
	}
	c.sessionsCreated.WithLabelValues(funnel).Inc()
}

func (c *Collector) SessionAbandoned(funnel string) {
	if c == nil {
		return
	}
	c.sessionsAbandon.WithLabelValues(funnel).Inc()
}

func (c *Collector) LeadRecorded(funnel, status string) {
	if c == nil {
		return
	}
	c.leadsRecorded.WithLabelValues(funnel, status).Inc()
}

func (c *Collector) LeadFailed(funnel, phase string) {
	if c == nil {
		return
	}
	c.leadFailures.WithLabelValues(funnel, phase).Inc()
}

func (c *Collector) AnalyticsDelivered(event, leg string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.analyticsFailed.WithLabelValues(event, leg).Inc()
		return
	}
	c.analyticsSent.WithLabelValues(event, leg).Inc()
}

func (c *Collector) EmailDispatched(template string, ok bool) {
	if c == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	c.emailsDispatched.WithLabelValues(template, result).Inc()
}

func (c *Collector) SideEffectFailed(operation string) {
	if c == nil {
		return
	}
	c.sideEffectErrors.WithLabelValues(operation).Inc()
}
