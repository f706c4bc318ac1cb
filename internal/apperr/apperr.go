// Package apperr defines the domain error taxonomy shared by the signup
// and authentication services. Every error carries the HTTP status the
// boundary should surface; handlers map them with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func Newf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// StatusOf returns the embedded status for a domain error, or 500 for
// anything else.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 500
}

func IsDomain(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

func InvalidOrExpiredSession() *Error {
	return New(400, "Invalid or expired session")
}

func InvalidRoleSelection(invalid []string) *Error {
	return Newf(400, "Invalid roles for signup: %s", strings.Join(invalid, ", "))
}

func DuplicateAccount(message string) *Error {
	return New(409, message)
}

func InvalidVerificationCode() *Error {
	return New(400, "Invalid verification code")
}

func InvalidOtp() *Error {
	return New(400, "Invalid OTP code")
}

func InvalidOrExpiredToken(message string) *Error {
	return New(400, message)
}

func AccountNotFound(message string) *Error {
	return New(404, message)
}

func AccountDeactivated() *Error {
	return New(403, "Account is deactivated")
}

func PasswordLoginUnavailable() *Error {
	return New(400, "Password login not available for this account")
}

func InvalidCredentials() *Error {
	return New(401, "Invalid credentials")
}

func AccountLocked() *Error {
	return New(403, "Account is locked. Please try again later.")
}

func NoLoginableRoles() *Error {
	return New(403, "No loginable roles assigned")
}

func EmailVerificationRequired() *Error {
	return New(403, "Email verification required")
}

func AlreadyLinked(message string) *Error {
	return New(409, message)
}

func CannotUnlinkPrimary() *Error {
	return New(400, "Cannot unlink primary auth method")
}

func TooManyAttempts() *Error {
	return New(429, "Too many OTP attempts. Please wait before trying again.")
}

func UnsupportedProvider(provider string) *Error {
	return Newf(400, "Unsupported provider: %s", provider)
}

func ProviderVerificationFailed(provider string) *Error {
	return Newf(401, "Failed to verify %s authorization code", provider)
}

func ConfigurationError(message string) *Error {
	return New(500, message)
}
