package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	BrowserCookie    = "lf_bid"
	browserIDLocal   = "browser_id"
	browserCookieAge = 365 * 24 * time.Hour
)

// BrowserID makes sure every request carries a stable, random browser id in
// the lf_bid cookie. Local funnel state is keyed by it.
func BrowserID(secure bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Cookies(BrowserCookie)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			c.Cookie(&fiber.Cookie{
				Name:     BrowserCookie,
				Value:    id,
				Path:     "/",
				Expires:  time.Now().Add(browserCookieAge),
				HTTPOnly: true,
				Secure:   secure,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
		c.Locals(browserIDLocal, id)
		return c.Next()
	}
}

// GetBrowserID returns the id set by BrowserID, or "" outside it.
func GetBrowserID(c *fiber.Ctx) string {
	id, _ := c.Locals(browserIDLocal).(string)
	return id
}
