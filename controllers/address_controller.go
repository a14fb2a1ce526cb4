package controller

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"leadfunnel/geocode"
	"leadfunnel/utils"
)

// AddressOracle suggests addresses for a partial query.
type AddressOracle interface {
	Search(ctx context.Context, query string) ([]geocode.Suggestion, error)
}

type AddressController struct {
	Oracle AddressOracle
}

func NewAddressController(oracle AddressOracle) *AddressController {
	return &AddressController{Oracle: oracle}
}

// Suggest answers GET /api/address/suggest?q=.
func (ac *AddressController) Suggest(c *fiber.Ctx) error {
	suggestions, err := ac.Oracle.Search(c.UserContext(), c.Query("q"))
	switch {
	case errors.Is(err, geocode.ErrDisabled):
		return c.JSON(utils.SuccessResponse(fiber.Map{"enabled": false, "suggestions": []geocode.Suggestion{}}))
	case err != nil:
		utils.LogError("address_suggest", err, map[string]interface{}{"query_len": len(c.Query("q"))})
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Address lookup unavailable", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"enabled": true, "suggestions": suggestions}))
}
