package controller

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadfunnel/funnel"
	"leadfunnel/leads"
	"leadfunnel/middleware"
	"leadfunnel/models"
	"leadfunnel/tracking"
	"leadfunnel/utils"
)

// FunnelController exposes the orchestrator to the funnel pages. Each request
// opens the visitor's orchestrator from the local store and returns the
// browser-leg pixel commands it produced.
type FunnelController struct {
	Engine    *funnel.Engine
	Tracking  *tracking.Dispatcher
	PublicURL string
	Logger    logrus.FieldLogger
}

func NewFunnelController(engine *funnel.Engine, dispatcher *tracking.Dispatcher, publicURL string, logger logrus.FieldLogger) *FunnelController {
	return &FunnelController{
		Engine:    engine,
		Tracking:  dispatcher,
		PublicURL: strings.TrimRight(publicURL, "/"),
		Logger:    logger,
	}
}

type sessionRequest struct {
	InitialEventID string `json:"initial_event_id"`
	PagePath       string `json:"page_path"`
	LandingPage    string `json:"landing_page"`
	Referrer       string `json:"referrer"`
	UTMSource      string `json:"utm_source"`
	UTMMedium      string `json:"utm_medium"`
	UTMCampaign    string `json:"utm_campaign"`
	UTMTerm        string `json:"utm_term"`
	UTMContent     string `json:"utm_content"`
	FBClid         string `json:"fbclid"`
	GClid          string `json:"gclid"`
}

// request bundles what one handler needs.
type request struct {
	def    models.Definition
	runner funnel.Runner
	pixel  *tracking.PixelQueue
}

func (fc *FunnelController) open(c *fiber.Ctx, opts funnel.InitOptions) (*request, error) {
	def, ok := models.LookupSlug(c.Params("funnel"))
	if !ok {
		return nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown funnel", nil)
	}

	pixel := tracking.NewPixelQueue(fc.Tracking.Config().PixelID)
	emitter := fc.Tracking.Emitter(pixel, tracking.Scope{
		SourceURL: fc.sourceURL(c),
		ClientIP:  c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		FBP:       c.Cookies("_fbp"),
		FBC:       c.Cookies("_fbc"),
	})

	runner, err := fc.Engine.Open(def.Type, middleware.GetBrowserID(c), emitter)
	if err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown funnel", err)
	}

	opts.Attribution.UserAgent = c.Get(fiber.HeaderUserAgent)
	opts.Attribution.ClientIP = c.IP()
	opts.Attribution.FBP = c.Cookies("_fbp")
	opts.Attribution.FBC = c.Cookies("_fbc")
	if opts.Attribution.Referrer == "" {
		opts.Attribution.Referrer = c.Get(fiber.HeaderReferer)
	}
	if err := runner.Initialize(c.UserContext(), opts); err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load funnel", err)
	}
	return &request{def: def, runner: runner, pixel: pixel}, nil
}

func (fc *FunnelController) sourceURL(c *fiber.Ctx) string {
	if ref := c.Get(fiber.HeaderReferer); ref != "" {
		return ref
	}
	return fc.PublicURL + c.Path()
}

func (r *request) respond(c *fiber.Ctx, status int, data fiber.Map) error {
	if data == nil {
		data = fiber.Map{}
	}
	data["state"] = r.runner.Snapshot()
	data["pixel"] = r.pixel.Drain()
	return c.Status(status).JSON(utils.SuccessResponse(data))
}

// StartSession initializes or resumes the visitor's session.
func (fc *FunnelController) StartSession(c *fiber.Ctx) error {
	var body sessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}
	req, err := fc.open(c, funnel.InitOptions{
		Attribution: models.Attribution{
			Referrer:    body.Referrer,
			LandingPage: body.LandingPage,
			UTMSource:   body.UTMSource,
			UTMMedium:   body.UTMMedium,
			UTMCampaign: body.UTMCampaign,
			UTMTerm:     body.UTMTerm,
			UTMContent:  body.UTMContent,
			FBClid:      body.FBClid,
			GClid:       body.GClid,
		},
		InitialEventID: body.InitialEventID,
		PagePath:       body.PagePath,
	})
	if req == nil {
		return err
	}
	snap := req.runner.Snapshot()
	return req.respond(c, fiber.StatusOK, fiber.Map{
		"resume_path": req.def.StepPath(snap.ResumeStep),
	})
}

// UpdateFields merges answers into the form and saves them as a draft.
func (fc *FunnelController) UpdateFields(c *fiber.Ctx) error {
	req, err := fc.open(c, funnel.InitOptions{})
	if req == nil {
		return err
	}
	if err := req.runner.UpdateFields(c.Body()); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid form data", err)
	}
	if err := req.runner.SaveDraft(c.UserContext()); err != nil {
		return fc.stepError(c, err)
	}
	return req.respond(c, fiber.StatusOK, nil)
}

// ViewStep records that a step page was rendered.
func (fc *FunnelController) ViewStep(c *fiber.Ctx) error {
	step, err := strconv.Atoi(c.Params("step"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid step", err)
	}
	req, err := fc.open(c, funnel.InitOptions{})
	if req == nil {
		return err
	}
	eventID, err := req.runner.TrackStepView(c.UserContext(), step)
	if err != nil {
		return fc.stepError(c, err)
	}
	return req.respond(c, fiber.StatusOK, fiber.Map{"event_id": eventID})
}

// CompleteStep applies the optional answers in the body and completes the step.
func (fc *FunnelController) CompleteStep(c *fiber.Ctx) error {
	step, err := strconv.Atoi(c.Params("step"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid step", err)
	}
	req, err := fc.open(c, funnel.InitOptions{})
	if req == nil {
		return err
	}
	if body := c.Body(); len(body) > 0 {
		if err := req.runner.UpdateFields(body); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid form data", err)
		}
	}

	result, err := req.runner.CompleteStep(c.UserContext(), step)
	if err != nil {
		// Keep what the visitor typed even though the step did not complete,
		// unless another request owns or already ended this run.
		if !errors.Is(err, funnel.ErrSubmitInProgress) && !errors.Is(err, funnel.ErrSessionEnded) {
			_ = req.runner.SaveDraft(c.UserContext())
		}
		return fc.stepError(c, err)
	}

	if result.Lead != nil {
		utils.LogEvent("funnel_step_lead", map[string]interface{}{
			"funnel": req.def.Type,
			"step":   step,
			"lead":   result.Lead.Identity(),
			"status": result.Lead.Status,
		})
	}
	return req.respond(c, fiber.StatusOK, fiber.Map{"result": result})
}

// Reset discards the visitor's progress and starts a new session.
func (fc *FunnelController) Reset(c *fiber.Ctx) error {
	req, err := fc.open(c, funnel.InitOptions{})
	if req == nil {
		return err
	}
	if err := req.runner.ResetForm(c.UserContext(), funnel.InitOptions{
		Attribution: models.Attribution{
			UserAgent: c.Get(fiber.HeaderUserAgent),
			ClientIP:  c.IP(),
			FBP:       c.Cookies("_fbp"),
			FBC:       c.Cookies("_fbc"),
		},
	}); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reset funnel", err)
	}
	return req.respond(c, fiber.StatusOK, fiber.Map{"resume_path": req.def.StepPath(1)})
}

// State returns the current snapshot.
func (fc *FunnelController) State(c *fiber.Ctx) error {
	req, err := fc.open(c, funnel.InitOptions{})
	if req == nil {
		return err
	}
	return req.respond(c, fiber.StatusOK, nil)
}

func (fc *FunnelController) stepError(c *fiber.Ctx, err error) error {
	var fieldErrs utils.FieldErrors
	redirect := ""
	var stepErr *funnel.StepError
	if errors.As(err, &stepErr) {
		redirect = stepErr.Redirect
	}
	switch {
	case errors.As(err, &fieldErrs):
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Please complete the required fields", err)
	case errors.Is(err, funnel.ErrStepLocked):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success":  false,
			"error":    "Complete the earlier steps first",
			"redirect": redirect,
		})
	case errors.Is(err, leads.ErrInvalidEmail):
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "A valid email is required", err)
	case errors.Is(err, funnel.ErrUnknownStep):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown step", err)
	case errors.Is(err, funnel.ErrSubmitInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success":   false,
			"error":     "Your previous submission is still being processed.",
			"retryable": true,
		})
	case errors.Is(err, funnel.ErrSessionEnded):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success":  false,
			"error":    "This request was already submitted.",
			"redirect": redirect,
		})
	case errors.Is(err, leads.ErrNoPendingLead):
		body := fiber.Map{
			"success":   false,
			"error":     "We could not find your estimate request. Please try submitting again.",
			"retryable": true,
		}
		if redirect != "" {
			body["redirect"] = redirect
		}
		return c.Status(fiber.StatusConflict).JSON(body)
	default:
		fc.Logger.WithError(err).Error("Funnel step failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success":   false,
			"error":     "Something went wrong submitting your request. Please try again.",
			"retryable": true,
		})
	}
}
