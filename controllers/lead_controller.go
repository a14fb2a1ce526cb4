package controller

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadfunnel/leads"
	"leadfunnel/models"
	"leadfunnel/utils"
)

// LeadService is the operator view of the lead protocol.
type LeadService interface {
	Get(ctx context.Context, id uint) (*models.Lead, error)
	List(ctx context.Context, f leads.Filter) ([]models.Lead, int64, error)
	UpdateStatus(ctx context.Context, id uint, status models.LeadStatus, notes *string) (*models.Lead, error)
}

type LeadController struct {
	Leads  LeadService
	Logger logrus.FieldLogger
}

func NewLeadController(svc LeadService, logger logrus.FieldLogger) *LeadController {
	return &LeadController{
		Leads:  svc,
		Logger: logger,
	}
}

// GetLeads returns paginated list of leads with filters
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}

	filter := leads.Filter{
		Status: models.LeadStatus(c.Query("status")),
		Email:  strings.TrimSpace(c.Query("email")),
		Page:   page,
		Limit:  limit,
	}
	if raw := c.Query("funnel"); raw != "" {
		t, err := models.ParseFunnelType(raw)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid funnel filter", err)
		}
		filter.FunnelType = t
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid status filter", nil)
	}

	items, total, err := lc.Leads.List(c.UserContext(), filter)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}
	if items == nil {
		items = []models.Lead{}
	}

	return c.JSON(utils.SuccessResponse(utils.PaginatedResponse{
		Data:  items,
		Total: total,
		Page:  page,
		Limit: limit,
	}))
}

// GetLead returns a single lead.
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead ID", err)
	}
	lead, err := lc.Leads.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, leads.ErrLeadNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}
	return c.JSON(utils.SuccessResponse(lead))
}

// UpdateLeadStatus moves a lead through the operator lifecycle.
func (lc *LeadController) UpdateLeadStatus(c *fiber.Ctx) error {
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead ID", err)
	}

	var input struct {
		Status models.LeadStatus `json:"status" validate:"required"`
		Notes  *string           `json:"notes" validate:"omitempty,max=5000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	lead, err := lc.Leads.UpdateStatus(c.UserContext(), id, input.Status, input.Notes)
	switch {
	case errors.Is(err, leads.ErrLeadNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	case errors.Is(err, leads.ErrInvalidTransition):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Status change not allowed", err)
	case err != nil:
		utils.LogError("lead_status_update", err, map[string]interface{}{"lead_id": id})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead", err)
	}

	lc.Logger.WithFields(logrus.Fields{
		"lead_id": lead.ID,
		"status":  lead.Status,
	}).Info("Lead status updated")
	return c.JSON(utils.SuccessResponse(lead))
}
