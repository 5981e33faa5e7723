package launcher

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/adir-intsights/sergeant/health"
	"github.com/adir-intsights/sergeant/worker"
)

// NewOpsApp builds the operational HTTP surface of a running worker:
// liveness, outcome counters, and queue lengths. It is read-only except for
// queue purging, which operators need often enough to warrant a route.
func NewOpsApp(w *worker.Worker, monitor *health.Monitor, logger *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           60 * time.Second,
	})

	app.Use(recover.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if !monitor.IsHealthy(c.Context(), w) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unhealthy",
			})
		}

		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"worker":        w.Config().Name,
			"counters":      monitor.Counters(),
			"goroutines":    monitor.GoroutineCount(),
			"last_activity": monitor.LastActivity().UTC().Format(time.RFC3339),
		})
	})

	app.Get("/queues/:name", func(c *fiber.Ctx) error {
		name := c.Params("name")

		length, err := w.NumberOfEnqueuedTasksNamed(c.Context(), name)
		if err != nil {
			logger.Error("queue length query failed", slog.String("queue", name), slog.Any("err", err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{"name": name, "length": length})
	})

	app.Delete("/queues/:name", func(c *fiber.Ctx) error {
		name := c.Params("name")

		removed, err := w.PurgeTasksNamed(c.Context(), name)
		if err != nil {
			logger.Error("queue purge failed", slog.String("queue", name), slog.Any("err", err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		return c.JSON(fiber.Map{"name": name, "removed": removed})
	})

	return app
}
