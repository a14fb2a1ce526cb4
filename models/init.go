package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate creates or updates every table the funnel service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&FunnelSession{},
		&StepEvent{},
		&Lead{},
		&EmailDispatch{},
	); err != nil {
		return err
	}

	// Completion looks up the newest pending lead per email; keep that path indexed.
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`
            CREATE INDEX IF NOT EXISTS idx_leads_pending_email
            ON leads (funnel_type, email, created_at DESC)
            WHERE status = 'estimate_sent' AND deleted_at IS NULL
        `).Error; err != nil {
			return fmt.Errorf("failed to create pending lead index: %w", err)
		}
	}
	return nil
}
