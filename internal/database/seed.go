package database

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedRoles inserts the default role catalog, skipping names that
// already exist so operator edits survive restarts.
func SeedRoles(db *gorm.DB) error {
	defaults := []models.Role{
		{Name: models.RoleSuperAdmin, Level: 10, CanSignUp: false, CanLogin: true},
		{Name: models.RoleAdmin, Level: 8, CanSignUp: false, CanLogin: true},
		{Name: models.RoleProductManager, Level: 6, CanSignUp: true, CanLogin: true},
		{Name: models.RoleProductDesigner, Level: 5, CanSignUp: true, CanLogin: true},
		{Name: models.RoleBackend, Level: 4, CanSignUp: true, CanLogin: true},
		{Name: models.RoleFrontend, Level: 4, CanSignUp: true, CanLogin: true},
		{Name: models.RoleSeller, Level: 2, CanSignUp: true, CanLogin: true},
		{Name: models.RoleBuyer, Level: 1, CanSignUp: true, CanLogin: true},
	}

	for i := range defaults {
		defaults[i].ID = uuid.New()
		defaults[i].IsActive = true
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&defaults)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		slog.Info("role catalog seeded", "created", res.RowsAffected)
	}
	return nil
}
