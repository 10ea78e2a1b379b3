package server

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/spate-cache/spate/internal/spate"
)

// entryHandler 负责 /caches/:name/* 下单个条目的读写删除。
// 条目值必须是合法 JSON，原样返回给调用方。
type entryHandler struct {
	registry *spate.Registry
	logger   *logrus.Logger
}

func (h *entryHandler) get(c fiber.Ctx) error {
	cache, err := LookupCache(c, h.registry, h.logger)
	if cache == nil {
		return err
	}
	key, ok := entryKey(c)
	if !ok {
		return RenderError(c, fiber.StatusBadRequest, "key_required")
	}

	value, hit := cache.Get(c.Context(), key)
	h.logger.WithFields(h.fields(c, "get", cache.Name(), key)).WithField("hit", hit).Debug("entry lookup")
	if !hit {
		return RenderError(c, fiber.StatusNotFound, "entry_not_found")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(value)
}

func (h *entryHandler) put(c fiber.Ctx) error {
	cache, err := LookupCache(c, h.registry, h.logger)
	if cache == nil {
		return err
	}
	key, ok := entryKey(c)
	if !ok {
		return RenderError(c, fiber.StatusBadRequest, "key_required")
	}

	body := c.Body()
	if !json.Valid(body) {
		return RenderError(c, fiber.StatusBadRequest, "invalid_json")
	}
	// fasthttp 会复用请求缓冲区，内存层必须持有独立副本
	value := json.RawMessage(append([]byte(nil), body...))

	var storeErr error
	if raw := c.Query("ttl"); raw != "" {
		expiry, parseErr := spate.ParseExpiry(raw)
		if parseErr != nil {
			return RenderError(c, fiber.StatusBadRequest, "invalid_ttl")
		}
		storeErr = cache.Set(key, value, expiry)
	} else {
		storeErr = cache.Put(key, value)
	}
	if storeErr != nil {
		h.logger.WithFields(h.fields(c, "put", cache.Name(), key)).Errorf("store entry failed: %v", storeErr)
		return RenderError(c, fiber.StatusInternalServerError, "store_failed")
	}

	h.logger.WithFields(h.fields(c, "put", cache.Name(), key)).Debug("entry stored")
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *entryHandler) remove(c fiber.Ctx) error {
	cache, err := LookupCache(c, h.registry, h.logger)
	if cache == nil {
		return err
	}
	key, ok := entryKey(c)
	if !ok {
		return RenderError(c, fiber.StatusBadRequest, "key_required")
	}

	cache.Remove(key)
	h.logger.WithFields(h.fields(c, "remove", cache.Name(), key)).Debug("entry removed")
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *entryHandler) fields(c fiber.Ctx, action, cache, key string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"cache":      cache,
		"key":        key,
		"request_id": RequestID(c),
	}
}

// entryKey 取出通配段并做一次 URL 解码，允许 key 中包含 "/"。
func entryKey(c fiber.Ctx) (string, bool) {
	raw := c.Params("*")
	key, err := url.PathUnescape(raw)
	if err != nil {
		key = raw
	}
	if strings.TrimSpace(key) == "" {
		return "", false
	}
	return key, true
}
