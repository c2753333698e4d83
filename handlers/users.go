package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"game-session-broker/services"
)

// SetupUserRoutes wires the read-only aggregate endpoints and health check.
func SetupUserRoutes(app *fiber.App, users *services.UserService, db *gorm.DB, rdb *redis.Client) {
	app.Get("/api/leaderboard", func(c *fiber.Ctx) error {
		entries, err := users.Leaderboard(c.QueryInt("limit", 50))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(entries)
	})

	app.Get("/api/users/:username", func(c *fiber.Ctx) error {
		profile, err := users.Profile(strings.ToLower(c.Params("username")))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(profile)
	})

	app.Get("/api/users/:username/saves", func(c *fiber.Ctx) error {
		saves, err := users.Saves(strings.ToLower(c.Params("username")))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(saves)
	})

	app.Get("/api/status", func(c *fiber.Ctx) error {
		status, err := users.Status()
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(status)
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.Exec("SELECT 1").Error; err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": err.Error()})
		}
		if err := rdb.Ping(c.Context()).Err(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "healthy"})
	})
}
