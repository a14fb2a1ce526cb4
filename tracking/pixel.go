package tracking

import (
	"context"
	"errors"
	"sync"

	"leadfunnel/models"
)

// ErrPixelUnavailable is returned by a browser leg that cannot deliver, for
// example when no pixel is configured.
var ErrPixelUnavailable = errors.New("browser pixel unavailable")

// BrowserLeg delivers an event through the client-side SDK.
type BrowserLeg interface {
	Track(ctx context.Context, name models.EventName, user models.UserData, custom map[string]any, eventID string) error
}

// PixelCommand is one client SDK call, replayed by the page as
// fbq(Method, Event, Params, {eventID: EventID}).
type PixelCommand struct {
	Method  string           `json:"method"`
	Event   models.EventName `json:"event"`
	Params  map[string]any   `json:"params,omitempty"`
	EventID string           `json:"event_id"`
	// UserData is raw; the client SDK hashes it itself (advanced matching).
	UserData *models.UserData `json:"user_data,omitempty"`
}

// PixelQueue collects the browser-leg calls made while serving one request
// so the response can hand them to the page.
type PixelQueue struct {
	pixelID string

	mu       sync.Mutex
	commands []PixelCommand
}

// NewPixelQueue returns a queue for the given pixel. An empty pixel id makes
// every Track fail with ErrPixelUnavailable.
func NewPixelQueue(pixelID string) *PixelQueue {
	return &PixelQueue{pixelID: pixelID}
}

func (q *PixelQueue) Track(_ context.Context, name models.EventName, user models.UserData, custom map[string]any, eventID string) error {
	if q == nil || q.pixelID == "" {
		return ErrPixelUnavailable
	}
	cmd := PixelCommand{
		Method:  "track",
		Event:   name,
		Params:  custom,
		EventID: eventID,
	}
	if user.Email != "" || user.Phone != "" {
		u := models.UserData{
			Email:      user.Email,
			Phone:      user.Phone,
			FirstName:  user.FirstName,
			LastName:   user.LastName,
			City:       user.City,
			Province:   user.Province,
			PostalCode: user.PostalCode,
			Country:    user.Country,
			ExternalID: user.ExternalID,
		}
		cmd.UserData = &u
	}

	q.mu.Lock()
	q.commands = append(q.commands, cmd)
	q.mu.Unlock()
	return nil
}

// Drain returns and clears the queued commands.
func (q *PixelQueue) Drain() []PixelCommand {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.commands
	q.commands = nil
	return out
}
