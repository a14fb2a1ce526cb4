package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"leadfunnel/models"
)

// ErrRelayDisabled is returned when no pixel id or access token is configured.
var ErrRelayDisabled = errors.New("conversions relay disabled")

// ServerLeg relays an event to the ads platform from the server.
type ServerLeg interface {
	Send(ctx context.Context, event models.AnalyticsEvent) error
}

type conversionsEvent struct {
	EventName      models.EventName `json:"event_name"`
	EventTime      int64            `json:"event_time"`
	EventID        string           `json:"event_id"`
	EventSourceURL string           `json:"event_source_url,omitempty"`
	ActionSource   string           `json:"action_source"`
	UserData       HashedUserData   `json:"user_data"`
	CustomData     map[string]any   `json:"custom_data,omitempty"`
}

type conversionsRequest struct {
	Data          []conversionsEvent `json:"data"`
	TestEventCode string             `json:"test_event_code,omitempty"`
}

// ConversionsClient posts events to the Meta Conversions API.
type ConversionsClient struct {
	cfg    Config
	client *fasthttp.Client
}

func NewConversionsClient(cfg Config) *ConversionsClient {
	cfg = cfg.withDefaults()
	return &ConversionsClient{
		cfg: cfg,
		client: &fasthttp.Client{
			Name:                "leadfunnel-capi",
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

// Enabled reports whether the client has credentials to send with.
func (c *ConversionsClient) Enabled() bool {
	return c.cfg.PixelID != "" && c.cfg.AccessToken != ""
}

func (c *ConversionsClient) endpoint() string {
	return fmt.Sprintf("%s/%s/%s/events?access_token=%s",
		c.cfg.Endpoint, c.cfg.APIVersion, url.PathEscape(c.cfg.PixelID), url.QueryEscape(c.cfg.AccessToken))
}

// Payload builds the request body for one event. Identifiers are hashed here,
// so the raw values never leave the process on this leg.
func (c *ConversionsClient) Payload(event models.AnalyticsEvent) ([]byte, error) {
	body := conversionsRequest{
		Data: []conversionsEvent{{
			EventName:      event.EventName,
			EventTime:      event.EventTime,
			EventID:        event.EventID,
			EventSourceURL: event.EventSourceURL,
			ActionSource:   "website",
			UserData:       HashUserData(event.UserData),
			CustomData:     event.CustomData,
		}},
		TestEventCode: c.cfg.TestEventCode,
	}
	return json.Marshal(body)
}

func (c *ConversionsClient) Send(ctx context.Context, event models.AnalyticsEvent) error {
	if !c.Enabled() {
		return ErrRelayDisabled
	}
	payload, err := c.Payload(event)
	if err != nil {
		return fmt.Errorf("encode conversions payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.endpoint())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("conversions request: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("conversions API returned %d: %s", status, truncate(string(resp.Body()), 300))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
