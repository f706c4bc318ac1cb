package database

import (
	"log/slog"
	"time"

	"github.com/novalane/identity-backend/internal/models"
	"gorm.io/gorm"
)

// StartSweep runs a periodic goroutine that physically deletes records
// whose lifetime already ended logically: expired signup sessions,
// expired verification tokens, incomplete signups past the cutoff, and
// system logs older than 30 days. Every pass is idempotent and safe to
// run concurrently with live traffic.
func StartSweep(db *gorm.DB, interval, staleSignupCutoff time.Duration, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweep(db, staleSignupCutoff)
			case <-done:
				return
			}
		}
	}()
}

func sweep(db *gorm.DB, staleSignupCutoff time.Duration) {
	now := time.Now()

	res := db.Where("expires_at < ?", now).Delete(&models.SignupSession{})
	report("signup sessions", res)

	res = db.Where("expires_at < ?", now).Delete(&models.VerificationToken{})
	report("verification tokens", res)

	// Users who never finished signup and whose record is older than the
	// cutoff. Role assignments and auth methods go with them.
	cutoff := now.Add(-staleSignupCutoff)
	var stale []models.User
	if err := db.Where("signup_step <> ? AND created_at < ? AND is_active = ?", "completed", cutoff, true).
		Find(&stale).Error; err != nil {
		slog.Error("stale signup scan failed", "error", err)
	} else {
		for _, u := range stale {
			err := db.Transaction(func(tx *gorm.DB) error {
				if err := tx.Where("user_id = ?", u.ID).Delete(&models.RoleAssignment{}).Error; err != nil {
					return err
				}
				if err := tx.Where("user_id = ?", u.ID).Delete(&models.AuthMethod{}).Error; err != nil {
					return err
				}
				if err := tx.Where("user_id = ?", u.ID).Delete(&models.VerificationToken{}).Error; err != nil {
					return err
				}
				return tx.Unscoped().Delete(&models.User{}, "id = ?", u.ID).Error
			})
			if err != nil {
				slog.Error("stale signup delete failed", "user_id", u.ID.String(), "error", err)
			}
		}
		if len(stale) > 0 {
			slog.Info("stale signups removed", "count", len(stale))
		}
	}

	res = db.Where("timestamp < ?", now.AddDate(0, 0, -30)).Delete(&models.SystemLog{})
	report("system logs", res)
}

func report(what string, res *gorm.DB) {
	if res.Error != nil {
		slog.Error("sweep failed", "target", what, "error", res.Error)
	} else if res.RowsAffected > 0 {
		slog.Info("sweep completed", "target", what, "deleted", res.RowsAffected)
	}
}
