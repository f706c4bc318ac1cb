package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/novalane/identity-backend/internal/roles"
	"gorm.io/gorm"
)

// RoleHandler serves the public role catalog so signup clients can
// render the selection step.
type RoleHandler struct {
	db *gorm.DB
}

func NewRoleHandler(db *gorm.DB) *RoleHandler {
	return &RoleHandler{db: db}
}

func (h *RoleHandler) SignupRoles(c *fiber.Ctx) error {
	list, err := roles.SignupRoles(h.db)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(list)
}
