package models

// EventName is one of the conversion events reported to the ads platform.
type EventName string

const (
	EventPageView             EventName = "PageView"
	EventViewContent          EventName = "ViewContent"
	EventLead                 EventName = "Lead"
	EventCompleteRegistration EventName = "CompleteRegistration"
)

// Valid reports whether n is in the closed set of event names.
func (n EventName) Valid() bool {
	switch n {
	case EventPageView, EventViewContent, EventLead, EventCompleteRegistration:
		return true
	}
	return false
}

// UserData carries raw identity fields. The server leg hashes them before
// they leave the process.
type UserData struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	City       string `json:"city,omitempty"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	FBP       string `json:"fbp,omitempty"`
	FBC       string `json:"fbc,omitempty"`
}

// AnalyticsEvent is one logical conversion event. The same EventID is sent
// on both delivery legs so the platform can merge them.
type AnalyticsEvent struct {
	EventID        string         `json:"event_id"`
	EventName      EventName      `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	UserData       UserData       `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
}
