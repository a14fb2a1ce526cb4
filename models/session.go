package models

import (
	"encoding/json"
	"sort"
	"time"
)

// Attribution is captured once, when a funnel session is created.
type Attribution struct {
	Referrer    string `json:"referrer,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`
	UTMSource   string `gorm:"column:utm_source" json:"utm_source,omitempty"`
	UTMMedium   string `gorm:"column:utm_medium" json:"utm_medium,omitempty"`
	UTMCampaign string `gorm:"column:utm_campaign" json:"utm_campaign,omitempty"`
	UTMTerm     string `gorm:"column:utm_term" json:"utm_term,omitempty"`
	UTMContent  string `gorm:"column:utm_content" json:"utm_content,omitempty"`
	FBClid      string `gorm:"column:fbclid" json:"fbclid,omitempty"`
	GClid       string `gorm:"column:gclid" json:"gclid,omitempty"`
	FBP         string `gorm:"column:fbp" json:"fbp,omitempty"` // _fbp browser cookie
	FBC         string `gorm:"column:fbc" json:"fbc,omitempty"` // _fbc click cookie
	UserAgent   string `json:"user_agent,omitempty"`
	ClientIP    string `json:"client_ip,omitempty"`
}

// FunnelSession is the server mirror of one visitor's progress through one funnel.
type FunnelSession struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	FunnelType     FunnelType      `gorm:"not null;index;size:20" json:"funnel_type"`
	CurrentStep    int             `gorm:"not null;default:1" json:"current_step"`
	CompletedSteps CompletedSteps  `gorm:"type:jsonb;serializer:json" json:"completed_steps"`
	FormData       json.RawMessage `gorm:"type:jsonb" json:"form_data,omitempty"`
	Email          *string         `gorm:"index" json:"email,omitempty"`

	Attribution Attribution `gorm:"embedded;embeddedPrefix:attr_" json:"attribution"`

	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	LastActivityAt time.Time  `gorm:"not null;index" json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	AbandonedAt    *time.Time `json:"abandoned_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StepEvents []StepEvent `gorm:"foreignKey:SessionID" json:"step_events,omitempty"`
}

// StepEventKind is what happened on a step.
type StepEventKind string

const (
	StepEventView     StepEventKind = "view"
	StepEventComplete StepEventKind = "complete"
	// Reserved kinds. StepEventAbandon is written by the abandonment sweep.
	StepEventBack    StepEventKind = "back"
	StepEventAbandon StepEventKind = "abandon"
)

// StepEvent is an append-only log row for a funnel session.
type StepEvent struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	SessionID  string        `gorm:"not null;index;size:36" json:"session_id"`
	FunnelType FunnelType    `gorm:"not null;size:20" json:"funnel_type"`
	StepNumber int           `gorm:"not null" json:"step_number"`
	StepName   string        `json:"step_name"`
	Kind       StepEventKind `gorm:"not null;size:16;index" json:"kind"`
	DurationMs *int64        `json:"duration_ms,omitempty"`
	PagePath   string        `json:"page_path"`
	CreatedAt  time.Time     `json:"created_at"`
}

// CompletedSteps is an append-only, sorted set of step numbers.
type CompletedSteps []int

// Has reports whether step n has been completed.
func (c CompletedSteps) Has(n int) bool {
	i := sort.SearchInts(c, n)
	return i < len(c) && c[i] == n
}

// Add returns the set with n included. The receiver is never shrunk and is
// returned unchanged when n is already present.
func (c CompletedSteps) Add(n int) (CompletedSteps, bool) {
	i := sort.SearchInts(c, n)
	if i < len(c) && c[i] == n {
		return c, false
	}
	out := make(CompletedSteps, 0, len(c)+1)
	out = append(out, c[:i]...)
	out = append(out, n)
	out = append(out, c[i:]...)
	return out, true
}

// Max is the highest completed step, or 0.
func (c CompletedSteps) Max() int {
	if len(c) == 0 {
		return 0
	}
	return c[len(c)-1]
}

// Union returns every step present in either set.
func (c CompletedSteps) Union(other CompletedSteps) CompletedSteps {
	out := c.Normalize()
	for _, n := range other {
		if n > 0 {
			out, _ = out.Add(n)
		}
	}
	return out
}

// Normalize sorts and de-duplicates a set loaded from untrusted storage.
func (c CompletedSteps) Normalize() CompletedSteps {
	out := make(CompletedSteps, 0, len(c))
	for _, n := range c {
		if n > 0 {
			out, _ = out.Add(n)
		}
	}
	return out
}
