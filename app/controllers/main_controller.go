package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LinkFox/internal/pkg/env"
)

// HandleHealth reports service liveness and environment.
func HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "linkfox",
		"env":     env.GetEnv("APP_ENV", "prod"),
	})
}
