package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/novalane/identity-backend/internal/config"
	"github.com/novalane/identity-backend/internal/handlers"
	"github.com/novalane/identity-backend/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	roleHandler *handlers.RoleHandler,
) {
	api := app.Group("/api/v1")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)

	// Role catalog (public, read only)
	api.Get("/roles/signup", roleHandler.SignupRoles)

	// Signup and login share a stricter limit: 10 req/min per IP
	authLimiter := limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	})

	signup := api.Group("/signup", authLimiter)
	signup.Post("/social/initiate", authHandler.InitiateSocialSignup)
	signup.Post("/social/complete", authHandler.CompleteSocialSignup)
	signup.Post("/email/initiate", authHandler.InitiateEmailSignup)
	signup.Post("/email/complete", authHandler.CompleteEmailSignup)
	signup.Post("/profile/complete", authHandler.CompleteProfile)
	signup.Post("/verify-email", authHandler.VerifyEmail)
	signup.Post("/resend-verification", authHandler.ResendVerification)
	signup.Post("/check-email", authHandler.CheckEmail)
	signup.Post("/check-username", authHandler.CheckUsername)

	login := api.Group("/login", authLimiter)
	login.Post("/email", authHandler.EmailLogin)
	login.Post("/social", authHandler.SocialLogin)

	api.Post("/forgot-password", authLimiter, authHandler.ForgotPassword)
	api.Post("/reset-password", authLimiter, authHandler.ResetPassword)
	api.Post("/reactivate", authLimiter, authHandler.ReactivateAccount)

	// Account management (JWT required)
	account := api.Group("/account", middleware.JWTProtected(cfg))
	account.Get("/profile", authHandler.GetProfile)
	account.Put("/profile", authHandler.UpdateProfile)
	account.Post("/change-password", authHandler.ChangePassword)
	account.Get("/auth-methods", authHandler.GetAuthMethods)
	account.Post("/auth-methods", authHandler.LinkAuthMethod)
	account.Delete("/auth-methods/:id", authHandler.UnlinkAuthMethod)
	account.Post("/phone/request-verification", authHandler.RequestPhoneVerification)
	account.Post("/phone/verify", authHandler.VerifyPhone)
	account.Post("/deactivate", authHandler.DeactivateAccount)
}
