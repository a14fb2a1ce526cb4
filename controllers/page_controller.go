package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"leadfunnel/middleware"
	"leadfunnel/models"
)

// PageController serves the page shells for one funnel. Rendering is done by
// the front end; these handlers only run behind the navigation guards.
type PageController struct {
	Def models.Definition
}

func NewPageController(def models.Definition) *PageController {
	return &PageController{Def: def}
}

// Root sends /<slug> to step 1.
func (pc *PageController) Root(c *fiber.Ctx) error {
	return c.Redirect(pc.Def.StepPath(1), fiber.StatusFound)
}

// Step describes a reachable step page.
func (pc *PageController) Step(c *fiber.Ctx) error {
	step, _ := strconv.Atoi(c.Params("step"))
	return c.JSON(fiber.Map{
		"funnel":      pc.Def.Type,
		"label":       pc.Def.Label,
		"step":        step,
		"step_name":   pc.Def.StepName(step),
		"step_title":  pc.Def.StepTitle(step),
		"total_steps": pc.Def.TotalSteps(),
		"path":        pc.Def.StepPath(step),
	})
}

// Confirmation describes the thank-you page for a proven submission.
func (pc *PageController) Confirmation(c *fiber.Ctx) error {
	claims := middleware.GetProof(c)
	if claims == nil {
		return c.Redirect(pc.Def.StepPath(1), fiber.StatusFound)
	}
	return c.JSON(fiber.Map{
		"funnel":    pc.Def.Type,
		"label":     pc.Def.Label,
		"reference": claims.Reference,
		"lead":      claims.LeadRef,
	})
}
