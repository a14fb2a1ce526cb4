package middleware

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadfunnel/funnel"
	"leadfunnel/models"
	"leadfunnel/utils"
)

const proofLocal = "submission_proof"

// StepProgress reads a browser's completed steps for a funnel.
type StepProgress interface {
	CompletedSteps(ctx context.Context, funnel models.FunnelType, browserID string) (models.CompletedSteps, error)
}

// ProofVerifier checks a submission proof token.
type ProofVerifier interface {
	VerifyProof(token string, funnel models.FunnelType) (*utils.ProofClaims, error)
}

// StepGuard redirects to step 1 when the :step page is not yet reachable.
// The completed-steps read is a direct store read, so a step completed by
// the previous request is always visible here.
func StepGuard(def models.Definition, progress StepProgress, logger logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		step, err := strconv.Atoi(c.Params("step"))
		if err != nil || step < 1 || step > def.TotalSteps() {
			return c.Redirect(def.StepPath(1), fiber.StatusFound)
		}
		if step == 1 {
			return c.Next()
		}
		completed, err := progress.CompletedSteps(c.UserContext(), def.Type, GetBrowserID(c))
		if err != nil {
			logger.WithError(err).WithField("funnel", def.Type).Warn("Could not read progress, sending visitor to step 1")
			return c.Redirect(def.StepPath(1), fiber.StatusFound)
		}
		if !funnel.CanAccessStep(def.Type, step, completed) {
			return c.Redirect(def.StepPath(1), fiber.StatusFound)
		}
		return c.Next()
	}
}

// ProofGuard admits a confirmation page only with a valid ?proof= token for
// this funnel; everything else goes back to step 1.
func ProofGuard(def models.Definition, verifier ProofVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := verifier.VerifyProof(c.Query("proof"), def.Type)
		if err != nil {
			return c.Redirect(def.StepPath(1), fiber.StatusFound)
		}
		c.Locals(proofLocal, claims)
		return c.Next()
	}
}

// GetProof returns the claims accepted by ProofGuard.
func GetProof(c *fiber.Ctx) *utils.ProofClaims {
	claims, _ := c.Locals(proofLocal).(*utils.ProofClaims)
	return claims
}
