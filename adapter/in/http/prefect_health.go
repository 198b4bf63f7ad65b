package http

import (
	"context"
	"time"

	"prefect_server/core/service/roster"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// HealthHandler exposes liveness and backend reachability. This is the one
// surface that names the active backend; every other endpoint hides it.
type HealthHandler struct {
	mongo    *mongo.Client
	redis    *redis.Client
	detector *roster.BackendDetector
}

func NewHealthHandler(mongoClient *mongo.Client, redisClient *redis.Client, detector *roster.BackendDetector) *HealthHandler {
	return &HealthHandler{
		mongo:    mongoClient,
		redis:    redisClient,
		detector: detector,
	}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	backend := "local"
	if h.detector != nil && h.detector.RemoteAvailable(c.Context()) {
		backend = "remote"
	}
	return c.JSON(fiber.Map{
		"status":    "ok",
		"backend":   backend,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)

	// The remote store being down does not make the service unready; the
	// local store carries it. Only report the state.
	if h.mongo != nil {
		if err := h.mongo.Ping(ctx, nil); err != nil {
			checks["mongodb"] = "unreachable: " + err.Error()
		} else {
			checks["mongodb"] = "healthy"
		}
	} else {
		checks["mongodb"] = "not configured"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unreachable: " + err.Error()
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	return c.JSON(fiber.Map{
		"status":    "ready",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
