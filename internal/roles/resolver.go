// Package roles decides which catalog roles are eligible for signup and
// which profile fields a role selection requires.
package roles

import (
	"sort"

	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/models"
	"gorm.io/gorm"
)

// Profile field names referenced by RequiredProfileFields.
const (
	FieldFirstName   = "firstName"
	FieldLastName    = "lastName"
	FieldCountry     = "country"
	FieldTimezone    = "timezone"
	FieldLanguage    = "language"
	FieldPhone       = "phone"
	FieldDateOfBirth = "dateOfBirth"
)

// elevatedLevel is the role level at or above which contact identity
// fields become mandatory.
const elevatedLevel = 5

// privilegedNames require timezone and language on top of the base set.
var privilegedNames = map[string]bool{
	models.RoleSuperAdmin:     true,
	models.RoleProductManager: true,
}

// maxRolesPerSignup caps how many roles one signup may claim.
const maxRolesPerSignup = 3

// ValidateSelection rejects malformed role selections before any catalog
// lookup: empty, more than three names, or duplicates.
func ValidateSelection(names []string) error {
	if len(names) == 0 {
		return apperr.New(400, "At least one role must be selected")
	}
	if len(names) > maxRolesPerSignup {
		return apperr.New(400, "Maximum 3 roles allowed per signup")
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return apperr.New(400, "Duplicate roles are not allowed")
		}
		seen[name] = true
	}
	return nil
}

// ResolveSignupRoles fetches the active, signup-enabled catalog rows for
// names. It fails when the selection is malformed or when any requested
// name is missing, inactive or not open for signup, reporting the
// rejected names. Accepts a transaction handle so callers can resolve
// inside an atomic signup completion.
func ResolveSignupRoles(db *gorm.DB, names []string) ([]models.Role, error) {
	if err := ValidateSelection(names); err != nil {
		return nil, err
	}

	var resolved []models.Role
	if err := db.Where("name IN ? AND can_sign_up = ? AND is_active = ?", names, true, true).
		Find(&resolved).Error; err != nil {
		return nil, err
	}

	if len(resolved) != len(names) {
		valid := make(map[string]bool, len(resolved))
		for _, r := range resolved {
			valid[r.Name] = true
		}
		var invalid []string
		for _, name := range names {
			if !valid[name] {
				invalid = append(invalid, name)
			}
		}
		return nil, apperr.InvalidRoleSelection(invalid)
	}

	return resolved, nil
}

// RequiredProfileFields returns the union of the base profile fields and
// the role-conditional extras, sorted for stable storage. Pure and
// deterministic given the role rows.
func RequiredProfileFields(selected []models.Role) []string {
	fields := map[string]bool{
		FieldFirstName: true,
		FieldLastName:  true,
		FieldCountry:   true,
		FieldTimezone:  true,
	}

	maxLevel := 0
	privileged := false
	admin := false
	for _, r := range selected {
		if r.Level > maxLevel {
			maxLevel = r.Level
		}
		if privilegedNames[r.Name] {
			privileged = true
		}
		if r.Name == models.RoleAdmin {
			admin = true
		}
	}

	if admin || maxLevel >= elevatedLevel {
		fields[FieldPhone] = true
		fields[FieldDateOfBirth] = true
	}
	if privileged {
		fields[FieldTimezone] = true
		fields[FieldLanguage] = true
	}

	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SignupRoles lists catalog rows open for signup, lowest level first.
func SignupRoles(db *gorm.DB) ([]models.Role, error) {
	var out []models.Role
	err := db.Where("can_sign_up = ? AND is_active = ?", true, true).
		Order("level asc").Find(&out).Error
	return out, err
}

// LoginRoles lists catalog rows whose holders may authenticate.
func LoginRoles(db *gorm.DB) ([]models.Role, error) {
	var out []models.Role
	err := db.Where("can_login = ? AND is_active = ?", true, true).
		Order("level asc").Find(&out).Error
	return out, err
}
