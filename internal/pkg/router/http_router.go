package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LinkFox/app/controllers"
	"github.com/ManuelReschke/LinkFox/internal/pkg/constants"
	"github.com/ManuelReschke/LinkFox/internal/pkg/middleware"
	"github.com/ManuelReschke/LinkFox/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	app.Get(constants.PublicRoute, controllers.HandleHealth)

	// session auth
	app.Post("/login", controllers.HandleAuthLogin)
	app.Post("/logout", controllers.HandleAuthLogout)
	app.Post("/register", controllers.HandleAuthRegister)

	// Provider webhooks are authenticated by signature, not by session or
	// API key. The handler needs the raw body exactly as delivered.
	app.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
