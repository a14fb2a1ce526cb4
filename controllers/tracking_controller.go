package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadfunnel/models"
	"leadfunnel/tracking"
	"leadfunnel/utils"
)

// TrackingController relays events the page already fired through the
// browser SDK, so the server leg carries the same event id.
type TrackingController struct {
	Tracking *tracking.Dispatcher
	Logger   logrus.FieldLogger
}

func NewTrackingController(dispatcher *tracking.Dispatcher, logger logrus.FieldLogger) *TrackingController {
	return &TrackingController{Tracking: dispatcher, Logger: logger}
}

type relayRequest struct {
	EventID    string           `json:"event_id" validate:"required,max=64"`
	EventName  models.EventName `json:"event_name" validate:"required"`
	SourceURL  string           `json:"source_url" validate:"omitempty,url,max=2048"`
	SessionID  string           `json:"session_id" validate:"omitempty,uuid"`
	CustomData map[string]any   `json:"custom_data"`
	UserData   struct {
		Email string `json:"email" validate:"omitempty,email"`
		Phone string `json:"phone" validate:"omitempty,max=32"`
	} `json:"user_data"`
}

// RelayEvent accepts one browser-originated event for the server leg.
func (tc *TrackingController) RelayEvent(c *fiber.Ctx) error {
	var input relayRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if !input.EventName.Valid() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown event name", nil)
	}

	emitter := tc.Tracking.Emitter(nil, tracking.Scope{
		SessionID: input.SessionID,
		SourceURL: input.SourceURL,
		ClientIP:  c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		FBP:       c.Cookies("_fbp"),
		FBC:       c.Cookies("_fbc"),
	})
	err := emitter.RelayExisting(c.UserContext(), input.EventID, tracking.Event{
		Name:   input.EventName,
		User:   models.UserData{Email: input.UserData.Email, Phone: input.UserData.Phone},
		Custom: input.CustomData,
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event id", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(utils.SuccessResponse(fiber.Map{"event_id": input.EventID}))
}
