package handlers

import (
	"github.com/gofiber/fiber/v2"

	"game-session-broker/services"
)

// SetupSessionRoutes wires the claim/release lifecycle and the per-session
// query endpoints.
func SetupSessionRoutes(app *fiber.App, sessions *services.SessionService, events *services.EventService) {
	api := app.Group("/api/session")

	api.Post("/claim", func(c *fiber.Ctx) error {
		var req struct {
			Username string `json:"username"`
			SaveName string `json:"save_name"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		result, err := sessions.Claim(c.Context(), req.Username, req.SaveName)
		if err != nil {
			return jsonError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	api.Post("/:id/release", func(c *fiber.Ctx) error {
		var req struct {
			SaveName string `json:"save_name"`
		}
		if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		result, err := sessions.Release(c.Context(), c.Params("id"), req.SaveName)
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(fiber.Map{
			"status":           "released",
			"final_score":      result.FinalScore,
			"playtime_minutes": result.PlaytimeSeconds / 60,
			"saved_as":         result.SavedAs,
		})
	})

	api.Get("/:id", func(c *fiber.Ctx) error {
		info, err := sessions.Info(c.Context(), c.Params("id"))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(info)
	})

	api.Get("/:id/score", func(c *fiber.Ctx) error {
		report, err := sessions.Score(c.Context(), c.Params("id"))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(report)
	})

	api.Get("/:id/inventory", func(c *fiber.Ctx) error {
		data, err := sessions.Inventory(c.Context(), c.Params("id"))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(data)
	})

	api.Get("/:id/research", func(c *fiber.Ctx) error {
		data, err := sessions.Research(c.Context(), c.Params("id"))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(data)
	})

	api.Get("/:id/production", func(c *fiber.Ctx) error {
		data, err := sessions.Production(c.Context(), c.Params("id"))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(data)
	})

	api.Get("/:id/factory", func(c *fiber.Ctx) error {
		data, err := sessions.Factory(c.Context(), c.Params("id"), c.QueryInt("radius", 50))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(data)
	})

	api.Get("/:id/entities", func(c *fiber.Ctx) error {
		data, err := sessions.Entities(c.Context(), c.Params("id"), c.QueryInt("radius", 50))
		if err != nil {
			return jsonError(c, err)
		}
		return c.JSON(data)
	})

	api.Get("/:id/download", func(c *fiber.Ctx) error {
		path, filename, err := sessions.Download(c.Context(), c.Params("id"))
		if err != nil {
			return jsonError(c, err)
		}
		return c.Download(path, filename)
	})

	api.Post("/:id/events", func(c *fiber.Ctx) error {
		var req struct {
			Events []services.ActivityEventInput `json:"events"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		accepted := events.Ingest(c.Params("id"), req.Events)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": accepted})
	})
}
