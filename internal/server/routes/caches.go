package routes

import (
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/spate-cache/spate/internal/cache"
	"github.com/spate-cache/spate/internal/config"
	"github.com/spate-cache/spate/internal/server"
	"github.com/spate-cache/spate/internal/spate"
)

// RegisterCacheRoutes 暴露 /-/caches 诊断接口，供运维查询缓存用量并执行容量调整、清理。
func RegisterCacheRoutes(app *fiber.App, registry *spate.Registry, logger *logrus.Logger) {
	if app == nil || registry == nil || logger == nil {
		return
	}

	app.Get("/-/caches", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"caches": encodeCaches(registry.List()),
		})
	})

	app.Get("/-/caches/:name", func(c fiber.Ctx) error {
		target, err := server.LookupCache(c, registry, logger)
		if target == nil {
			return err
		}
		return c.JSON(encodeCache(target.Stats()))
	})

	app.Get("/-/caches/:name/entries", func(c fiber.Ctx) error {
		target, err := server.LookupCache(c, registry, logger)
		if target == nil {
			return err
		}
		entries, listErr := target.Disk().Entries(c.Context())
		if listErr != nil {
			logger.WithFields(actionFields(c, "list_entries", target.Name())).Errorf("list entries failed: %v", listErr)
			return server.RenderError(c, fiber.StatusInternalServerError, "list_failed")
		}
		return c.JSON(fiber.Map{
			"cache":   target.Name(),
			"entries": encodeEntries(entries),
		})
	})

	app.Put("/-/caches/:name/capacity", func(c fiber.Ctx) error {
		target, err := server.LookupCache(c, registry, logger)
		if target == nil {
			return err
		}
		var req capacityRequest
		if bindErr := c.Bind().JSON(&req); bindErr != nil {
			return server.RenderError(c, fiber.StatusBadRequest, "invalid_json")
		}
		capacity, parseErr := config.ParseByteSize(req.Capacity)
		if parseErr != nil || capacity == 0 {
			return server.RenderError(c, fiber.StatusBadRequest, "invalid_capacity")
		}

		target.SetCapacity(capacity.Bytes())
		fields := actionFields(c, "set_capacity", target.Name())
		fields["capacity"] = capacity.String()
		logger.WithFields(fields).Info("capacity updated")
		return c.JSON(encodeCache(target.Stats()))
	})

	app.Post("/-/caches/:name/purge-memory", func(c fiber.Ctx) error {
		target, err := server.LookupCache(c, registry, logger)
		if target == nil {
			return err
		}
		target.ClearMemory()
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/-/caches/:name", func(c fiber.Ctx) error {
		target, err := server.LookupCache(c, registry, logger)
		if target == nil {
			return err
		}
		target.Clear()
		logger.WithFields(actionFields(c, "clear", target.Name())).Info("cache cleared")
		return c.SendStatus(fiber.StatusAccepted)
	})
}

type capacityRequest struct {
	Capacity string `json:"capacity"`
}

type cachePayload struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Root          string `json:"root"`
	SizeBytes     uint64 `json:"size_bytes"`
	CapacityBytes uint64 `json:"capacity_bytes"`
	Capacity      string `json:"capacity"`
	MemoryEntries int    `json:"memory_entries"`
}

func encodeCaches(stats []spate.Stats) []cachePayload {
	result := make([]cachePayload, 0, len(stats))
	for _, s := range stats {
		result = append(result, encodeCache(s))
	}
	return result
}

func encodeCache(s spate.Stats) cachePayload {
	return cachePayload{
		Name:          s.Name,
		Type:          string(s.Type),
		Root:          s.Root,
		SizeBytes:     s.SizeBytes,
		CapacityBytes: s.CapacityBytes,
		Capacity:      config.ByteSize(s.CapacityBytes).String(),
		MemoryEntries: s.MemoryEntries,
	}
}

type entryPayload struct {
	File       string `json:"file"`
	SizeBytes  uint64 `json:"size_bytes"`
	LastAccess string `json:"last_access"`
}

func encodeEntries(entries []cache.EntryInfo) []entryPayload {
	result := make([]entryPayload, 0, len(entries))
	for _, e := range entries {
		result = append(result, entryPayload{
			File:       filepath.Base(e.Path),
			SizeBytes:  e.Size,
			LastAccess: e.LastAccess.UTC().Format(time.RFC3339Nano),
		})
	}
	return result
}

func actionFields(c fiber.Ctx, action, name string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"cache":      name,
		"request_id": server.RequestID(c),
	}
}
