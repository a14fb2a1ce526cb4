package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailDispatch records one transactional email attempt. The lead row stays
// the source of truth; this is the delivery log.
type EmailDispatch struct {
	gorm.Model
	LeadID     *uint  `gorm:"index" json:"lead_id,omitempty"`
	SessionID  string `gorm:"index;size:36" json:"session_id,omitempty"`
	Template   string `gorm:"not null;size:64" json:"template"`
	Recipient  string `gorm:"not null;index" json:"recipient"`
	Success    bool   `gorm:"default:false" json:"success"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Error      string `gorm:"type:text" json:"error,omitempty"`

	SentAt time.Time `gorm:"not null" json:"sent_at"`
}
