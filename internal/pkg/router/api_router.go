package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/LinkFox/app/controllers"
	"github.com/ManuelReschke/LinkFox/internal/pkg/constants"
	"github.com/ManuelReschke/LinkFox/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// API key management requires a logged-in session; the key itself is
	// what the billing endpoints authenticate with.
	user := v1.Group("/user")
	user.Get("/account", middleware.APIKeyAuthMiddleware(), controllers.HandleGetUserAccount)
	user.Post("/apikey", middleware.RequireAPISessionAuth, controllers.HandleIssueAPIKey)
	user.Delete("/apikey", middleware.RequireAPISessionAuth, controllers.HandleRevokeAPIKey)

	billing := v1.Group("/billing", middleware.APIKeyAuthMiddleware())
	billing.Post("/checkout", controllers.HandleBillingCheckout)
	billing.Post("/portal", controllers.HandleBillingPortal)
	billing.Post("/resync", controllers.HandleBillingResync)
	billing.Get("/entitlement", controllers.HandleBillingEntitlement)
	billing.Get("/webhook-stats", controllers.HandleBillingWebhookStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
