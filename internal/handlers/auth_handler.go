package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/novalane/identity-backend/internal/apperr"
	"github.com/novalane/identity-backend/internal/dto"
	"github.com/novalane/identity-backend/internal/middleware"
	"github.com/novalane/identity-backend/internal/services"
	"github.com/novalane/identity-backend/internal/tokens"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func requestMeta(c *fiber.Ctx) tokens.RequestMeta {
	return tokens.RequestMeta{
		IPAddress: c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}

func badRequest(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: "Invalid request body",
	})
}

// fail maps a service error to its HTTP status. Unknown errors become
// an opaque 500 so internals never leak to the client.
func fail(c *fiber.Ctx, err error) error {
	status := apperr.StatusOf(err)
	msg := err.Error()
	if !apperr.IsDomain(err) {
		msg = "Internal server error"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: true, Message: msg})
}

func currentUser(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := middleware.CurrentUserID(c)
	if err != nil {
		return uuid.Nil, apperr.New(fiber.StatusUnauthorized, "Unauthorized")
	}
	return id, nil
}

func (h *AuthHandler) InitiateSocialSignup(c *fiber.Ctx) error {
	var req dto.InitiateSocialSignupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.InitiateSocialSignup(c.Context(), req.Provider, req.Code, requestMeta(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *AuthHandler) CompleteSocialSignup(c *fiber.Ctx) error {
	var req dto.CompleteSocialSignupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.CompleteSocialSignupWithRoles(req.SessionToken, req.RoleNames, requestMeta(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) InitiateEmailSignup(c *fiber.Ctx) error {
	var req dto.InitiateEmailSignupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}
	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Email and password are required",
		})
	}

	resp, err := h.authService.InitiateEmailSignup(req.Email, req.Password, req.RoleNames, requestMeta(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *AuthHandler) CompleteEmailSignup(c *fiber.Ctx) error {
	var req dto.CompleteEmailSignupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.CompleteEmailSignup(req.SessionToken, req.VerificationCode, requestMeta(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) CompleteProfile(c *fiber.Ctx) error {
	var req dto.CompleteProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	// Mid-signup the client may not hold a JWT yet, so the user is
	// addressed explicitly.
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.CompleteProfile(userID, &req)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *AuthHandler) VerifyEmail(c *fiber.Ctx) error {
	var req dto.VerifyEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.VerifyEmail(req.Token, req.OtpCode, requestMeta(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *AuthHandler) ResendVerification(c *fiber.Ctx) error {
	var req dto.ResendVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	if err := h.authService.ResendVerification(c.Context(), req.Email, requestMeta(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Verification code sent"})
}

func (h *AuthHandler) RequestPhoneVerification(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	if err := h.authService.RequestPhoneVerification(userID, requestMeta(c)); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Verification code sent"})
}

func (h *AuthHandler) VerifyPhone(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	var req dto.VerifyPhoneRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.VerifyPhone(userID, req.OtpCode)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) EmailLogin(c *fiber.Ctx) error {
	var req dto.EmailLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.EmailLogin(c.Context(), req.Email, req.Password, requestMeta(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *AuthHandler) SocialLogin(c *fiber.Ctx) error {
	var req dto.SocialLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.SocialLogin(c.Context(), req.Provider, req.Code, requestMeta(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	if err := h.authService.ChangePassword(userID, req.CurrentPassword, req.NewPassword); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Password changed successfully"})
}

func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var req dto.ForgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	if err := h.authService.ForgotPassword(c.Context(), req.Email, requestMeta(c)); err != nil {
		return fail(c, err)
	}
	// Same response whether or not the address exists.
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "If the address is registered, a reset link has been sent",
	})
}

func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	if err := h.authService.ResetPassword(req.Token, req.NewPassword); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Password reset successfully"})
}

func (h *AuthHandler) LinkAuthMethod(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	var req dto.LinkAuthMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.LinkAuthMethod(c.Context(), userID, req.Provider, req.Code)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) UnlinkAuthMethod(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	methodID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid auth method id",
		})
	}

	if err := h.authService.UnlinkAuthMethod(userID, methodID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Auth method unlinked"})
}

func (h *AuthHandler) GetAuthMethods(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	resp, err := h.authService.GetAuthMethods(userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) CheckEmail(c *fiber.Ctx) error {
	var req dto.CheckEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.CheckEmailAvailability(req.Email)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) CheckUsername(c *fiber.Ctx) error {
	var req dto.CheckUsernameRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.CheckUsernameAvailability(req.Username)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) GetProfile(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	resp, err := h.authService.GetProfile(userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	var req dto.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.UpdateProfile(userID, &req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) DeactivateAccount(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return fail(c, err)
	}

	if err := h.authService.Deactivate(userID); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "Account deactivated"})
}

func (h *AuthHandler) ReactivateAccount(c *fiber.Ctx) error {
	var req dto.EmailLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.authService.Reactivate(req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}
