package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	controller "leadfunnel/controllers"
	"leadfunnel/funnel"
	"leadfunnel/geocode"
	"leadfunnel/metrics"
	"leadfunnel/middleware"
	"leadfunnel/models"
	"leadfunnel/tracking"
)

// Dependencies are the services the routes are wired to.
type Dependencies struct {
	Engine    *funnel.Engine
	Tracking  *tracking.Dispatcher
	Leads     controller.LeadService
	Proofs    middleware.ProofVerifier
	Geocode   *geocode.Oracle
	Metrics   *metrics.Collector
	Logger    logrus.FieldLogger
	PublicURL string

	SecureCookies  bool
	SubmitLimit    int
	SubmitWindow   time.Duration
	LimiterStorage fiber.Storage
	HealthCheck    func() error
	RequestLogging bool
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.RequestLogging {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "degraded",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(fiber.Map{"status": "running"})
	})
	if reg := deps.Metrics.Registry(); reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	SetupAPIRoutes(app, deps)
	SetupPageRoutes(app, deps)
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies) {
	funnelController := controller.NewFunnelController(deps.Engine, deps.Tracking, deps.PublicURL, deps.Logger.WithField("controller", "funnel"))
	trackingController := controller.NewTrackingController(deps.Tracking, deps.Logger.WithField("controller", "tracking"))
	leadController := controller.NewLeadController(deps.Leads, deps.Logger.WithField("controller", "lead"))

	api := app.Group("/api", middleware.BrowserID(deps.SecureCookies))

	funnels := api.Group("/funnels/:funnel")
	funnels.Post("/session", funnelController.StartSession)
	funnels.Patch("/fields", funnelController.UpdateFields)
	funnels.Post("/steps/:step/view", funnelController.ViewStep)
	funnels.Post("/steps/:step/complete",
		middleware.SubmitLimiter(deps.SubmitLimit, deps.SubmitWindow, deps.LimiterStorage),
		funnelController.CompleteStep)
	funnels.Post("/reset", funnelController.Reset)
	funnels.Get("/state", funnelController.State)

	api.Post("/track/events", trackingController.RelayEvent)

	if deps.Geocode != nil {
		addressController := controller.NewAddressController(deps.Geocode)
		api.Get("/address/suggest", addressController.Suggest)
	}

	admin := api.Group("/admin")
	admin.Get("/leads", leadController.GetLeads)
	admin.Get("/leads/:id", leadController.GetLead)
	admin.Put("/leads/:id/status", leadController.UpdateLeadStatus)
}

// SetupPageRoutes registers /<slug>, /<slug>/step-<n> and
// /<slug>/confirmation for every funnel behind their guards.
func SetupPageRoutes(app *fiber.App, deps Dependencies) {
	for _, t := range models.FunnelTypes() {
		def, _ := models.Lookup(t)
		pages := controller.NewPageController(def)

		group := app.Group("/"+def.Slug, middleware.BrowserID(deps.SecureCookies))
		group.Get("/", pages.Root)
		group.Get("/step-:step", middleware.StepGuard(def, deps.Engine, deps.Logger), pages.Step)
		group.Get("/confirmation", middleware.ProofGuard(def, deps.Proofs), pages.Confirmation)
	}
}
