package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadfunnel/models"
	"leadfunnel/utils"
)

type progressMap map[string]models.CompletedSteps

func (p progressMap) CompletedSteps(_ context.Context, funnel models.FunnelType, browserID string) (models.CompletedSteps, error) {
	if browserID == "broken" {
		return nil, errors.New("redis down")
	}
	return p[string(funnel)+":"+browserID], nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

const testBrowser = "0190a1b2-0000-7000-8000-000000000001"

func guardedApp(def models.Definition, progress StepProgress) *fiber.App {
	app := fiber.New()
	group := app.Group("/"+def.Slug, BrowserID(false))
	group.Get("/step-:step", StepGuard(def, progress, quietLogger()), func(c *fiber.Ctx) error {
		return c.SendString("step " + c.Params("step"))
	})
	return app
}

func get(t *testing.T, app *fiber.App, path, browser string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if browser != "" {
		req.AddCookie(&http.Cookie{Name: BrowserCookie, Value: browser})
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestStepGuard(t *testing.T) {
	basement, _ := models.Lookup(models.FunnelBasement)
	progress := progressMap{
		"basement:" + testBrowser: {1, 2, 3},
	}
	app := guardedApp(basement, progress)

	cases := []struct {
		path     string
		browser  string
		status   int
		location string
	}{
		{"/basement-suite/step-1", "", fiber.StatusOK, ""},
		{"/basement-suite/step-4", "", fiber.StatusFound, "/basement-suite/step-1"},
		{"/basement-suite/step-4", testBrowser, fiber.StatusOK, ""},
		{"/basement-suite/step-5", testBrowser, fiber.StatusFound, "/basement-suite/step-1"},
		{"/basement-suite/step-9", testBrowser, fiber.StatusFound, "/basement-suite/step-1"},
		{"/basement-suite/step-x", testBrowser, fiber.StatusFound, "/basement-suite/step-1"},
	}
	for _, tc := range cases {
		resp := get(t, app, tc.path, tc.browser)
		assert.Equal(t, tc.status, resp.StatusCode, tc.path)
		if tc.location != "" {
			assert.Equal(t, tc.location, resp.Header.Get(fiber.HeaderLocation), tc.path)
		}
	}
}

func TestStepGuardReadFailureRedirects(t *testing.T) {
	pod, _ := models.Lookup(models.FunnelPod)
	app := fiber.New()
	app.Get("/pod/step-:step", func(c *fiber.Ctx) error {
		c.Locals(browserIDLocal, "broken")
		return c.Next()
	}, StepGuard(pod, progressMap{}, quietLogger()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp := get(t, app, "/pod/step-2", "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/pod/step-1", resp.Header.Get(fiber.HeaderLocation))
}

func TestProofGuard(t *testing.T) {
	pod, _ := models.Lookup(models.FunnelPod)
	signer := utils.NewProofSigner("secret", time.Minute)
	app := fiber.New()
	app.Get("/pod/confirmation", ProofGuard(pod, signer), func(c *fiber.Ctx) error {
		return c.SendString(GetProof(c).Reference)
	})

	resp := get(t, app, "/pod/confirmation", "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/pod/step-1", resp.Header.Get(fiber.HeaderLocation))

	resp = get(t, app, "/pod/confirmation?proof=garbage", "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)

	basementProof, err := signer.IssueProof(models.FunnelBasement, "s", &models.Lead{Model: gorm.Model{ID: 3}, FunnelType: models.FunnelBasement})
	require.NoError(t, err)
	resp = get(t, app, "/pod/confirmation?proof="+basementProof, "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)

	proof, err := signer.IssueProof(models.FunnelPod, "s", &models.Lead{Model: gorm.Model{ID: 3}, FunnelType: models.FunnelPod})
	require.NoError(t, err)
	resp = get(t, app, "/pod/confirmation?proof="+proof, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Q-000003", string(body))
}

func TestBrowserIDCookie(t *testing.T) {
	app := fiber.New()
	app.Get("/", BrowserID(true), func(c *fiber.Ctx) error {
		return c.SendString(GetBrowserID(c))
	})

	resp := get(t, app, "/", "")
	body, _ := io.ReadAll(resp.Body)
	minted := string(body)
	_, err := uuid.Parse(minted)
	require.NoError(t, err)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == BrowserCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, minted, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)

	resp = get(t, app, "/", testBrowser)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, testBrowser, string(body))
	assert.Empty(t, resp.Cookies(), "a valid cookie is not reissued")

	resp = get(t, app, "/", "not-a-uuid")
	body, _ = io.ReadAll(resp.Body)
	assert.NotEqual(t, "not-a-uuid", string(body))
}

func TestSubmitLimiter(t *testing.T) {
	app := fiber.New()
	app.Post("/complete", BrowserID(false), SubmitLimiter(2, time.Minute, nil), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	post := func(browser string) int {
		req := httptest.NewRequest(http.MethodPost, "/complete", nil)
		req.AddCookie(&http.Cookie{Name: BrowserCookie, Value: browser})
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}
	assert.Equal(t, fiber.StatusOK, post(testBrowser))
	assert.Equal(t, fiber.StatusOK, post(testBrowser))
	assert.Equal(t, fiber.StatusTooManyRequests, post(testBrowser))
	assert.Equal(t, fiber.StatusOK, post(uuid.NewString()), "limits are per browser")
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{
		AllowedOrigins:   []string{"https://builds.example/"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST"},
		MaxAge:           600,
	}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://builds.example")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://builds.example", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "true", resp.Header.Get(fiber.HeaderAccessControlAllowCredentials))
	assert.Equal(t, "600", resp.Header.Get(fiber.HeaderAccessControlMaxAge))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://evil.example")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
}
