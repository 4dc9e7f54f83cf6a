package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/LinkFox/app/controllers"
	"github.com/ManuelReschke/LinkFox/internal/pkg/billing"
	"github.com/ManuelReschke/LinkFox/internal/pkg/cache"
	"github.com/ManuelReschke/LinkFox/internal/pkg/database"
	"github.com/ManuelReschke/LinkFox/internal/pkg/env"
	"github.com/ManuelReschke/LinkFox/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	setupBilling()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:         1048576, // 1 MiB, webhook payloads and small JSON bodies only
		EnablePrintRoutes: env.IsDev(),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}

func setupBilling() {
	cfg := billing.Config{
		StripeSecretKey: env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret:   env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		SuccessURL:      env.GetEnv("BILLING_SUCCESS_URL", ""),
		CancelURL:       env.GetEnv("BILLING_CANCEL_URL", ""),
		PriceTierMap:    env.GetEnv("BILLING_PRICE_TIER_MAP", ""),
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("billing config: %v", err)
	}

	tiers, err := billing.NewTierResolver(cfg.PriceTierMap)
	if err != nil {
		log.Fatalf("billing price map: %v", err)
	}

	svc := billing.NewService(
		billing.NewRepository(database.GetDB()),
		billing.NewStripeClient(cfg.StripeSecretKey),
		tiers,
		controllers.RedisEntitlementCache{},
		cfg,
	)
	controllers.InitializeBillingController(svc)
}
