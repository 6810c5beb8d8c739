package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Status is what the health endpoint reports on.
type Status interface {
	State() string
	LastCycle() time.Time
	Tracked() []string
}

// healthResponse is the /health body.
type healthResponse struct {
	Status      string     `json:"status"`
	State       string     `json:"state"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
	Tracked     []string   `json:"tracked"`
}

// NewApp builds the operator status app. It never serves cached values.
func NewApp(status Status, logger *zap.Logger) *fiber.App {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "querycached",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(requestLogger(logger))

	RegisterRoutes(app, status)
	return app
}

// RegisterRoutes wires the status handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, status Status) {
	app.Get("/health", func(c *fiber.Ctx) error {
		resp := healthResponse{
			Status:  "ok",
			State:   status.State(),
			Tracked: status.Tracked(),
		}
		if resp.Tracked == nil {
			resp.Tracked = []string{}
		}
		if last := status.LastCycle(); !last.IsZero() {
			resp.LastRefresh = &last
		}

		code := fiber.StatusOK
		if resp.State != "running" {
			resp.Status = "unavailable"
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(resp)
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("Status request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return err
	}
}
