package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spate-cache/spate/internal/spate"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *spate.Registry
	ListenPort int
}

const contextKeyRequestID = "_spate_request_id"

// NewApp builds a Fiber application with request-id middleware, panic
// recovery, and the cache entry routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("cache registry is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	entries := &entryHandler{registry: opts.Registry, logger: opts.Logger}
	app.Get("/caches/:name/*", entries.get)
	app.Put("/caches/:name/*", entries.put)
	app.Delete("/caches/:name/*", entries.remove)

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// LookupCache resolves the :name route parameter against the registry. On
// failure it renders a 404 and returns the render error, which handlers pass
// through unchanged.
func LookupCache(c fiber.Ctx, registry *spate.Registry, logger *logrus.Logger) (*spate.Cache[json.RawMessage], error) {
	name := c.Params("name")
	cache, err := registry.Resolve(name)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"action":     "cache_lookup",
			"cache":      name,
			"request_id": RequestID(c),
		}).Warn("cache not found")
		return nil, RenderError(c, fiber.StatusNotFound, "cache_not_found")
	}
	return cache, nil
}

// RenderError writes the JSON error envelope used by every admin endpoint.
func RenderError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":      code,
		"request_id": RequestID(c),
	})
}
