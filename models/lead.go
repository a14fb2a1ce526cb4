package models

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gorm.io/gorm"
)

// LeadStatus is the lifecycle of a captured lead.
type LeadStatus string

const (
	LeadEstimateSent LeadStatus = "estimate_sent" // partial, email only
	LeadSubmitted    LeadStatus = "submitted"
	LeadReviewed     LeadStatus = "reviewed"
	LeadContacted    LeadStatus = "contacted"
	LeadConverted    LeadStatus = "converted"
	LeadRejected     LeadStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadEstimateSent, LeadSubmitted, LeadReviewed, LeadContacted, LeadConverted, LeadRejected:
		return true
	}
	return false
}

// Estimate is a rough price range.
type Estimate struct {
	Low      int64  `gorm:"column:estimate_low" json:"low"`
	High     int64  `gorm:"column:estimate_high" json:"high"`
	Currency string `gorm:"column:estimate_currency;size:3" json:"currency"`
}

// Lead is a prospective customer request. Pod leads are called quotes and
// basement leads inquiries; they share this table.
type Lead struct {
	gorm.Model
	FunnelType FunnelType `gorm:"not null;index;size:20" json:"funnel_type"`
	SessionID  string     `gorm:"index;size:36" json:"session_id,omitempty"`

	Email    string  `gorm:"not null;index" json:"email"`
	FullName *string `json:"full_name,omitempty"`
	Phone    *string `json:"phone,omitempty"`

	// FullAddress is the pod installation address or the basement project
	// location.
	FullAddress *string  `gorm:"type:text" json:"full_address,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	City        *string  `json:"city,omitempty"`
	Province    *string  `json:"province,omitempty"`
	PostalCode  *string  `json:"postal_code,omitempty"`

	// Configuration is a snapshot of the funnel answers at capture time.
	Configuration json.RawMessage `gorm:"type:jsonb" json:"configuration"`
	Estimate      Estimate        `gorm:"embedded" json:"estimate"`

	Status LeadStatus `gorm:"not null;index;size:20;default:'estimate_sent'" json:"status"`
	Notes  string     `gorm:"type:text" json:"notes,omitempty"` // operator only

	LocalRef string `gorm:"-" json:"local_ref,omitempty"`
}

// Kind is the customer-facing name of the lead.
func (l Lead) Kind() string {
	if l.FunnelType == FunnelBasement {
		return "inquiry"
	}
	return "quote"
}

// Identity is the value used to correlate later emails and events with the
// lead. Leads fabricated without a store carry a local reference instead of
// a database id.
func (l Lead) Identity() string {
	if l.ID == 0 && l.LocalRef != "" {
		return l.LocalRef
	}
	return strconv.FormatUint(uint64(l.ID), 10)
}

// Reference is a short human reference, e.g. Q-000042.
func (l Lead) Reference() string {
	prefix := "Q"
	if l.FunnelType == FunnelBasement {
		prefix = "I"
	}
	if l.ID == 0 {
		return prefix + "-PENDING"
	}
	return fmt.Sprintf("%s-%06d", prefix, l.ID)
}
