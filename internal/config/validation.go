package config

import (
	"errors"
	"fmt"
	"strings"
)

var supportedCacheTypes = map[string]struct{}{
	"lru": {},
	"lfu": {},
}

const supportedCacheTypeList = "lru|lfu"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: 配置为空", ErrInvalid)
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.DefaultCapacity == 0 {
		return newFieldError("Global.DefaultCapacity", "必须大于 0")
	}
	if g.MemoryHighWater > 0 && g.MemoryPollInterval.DurationValue() <= 0 {
		return newFieldError("Global.MemoryPollInterval", "启用 MemoryHighWater 时必须大于 0")
	}
	switch g.LogFormat {
	case "json", "text":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json|text")
	}
	if g.QueueDepth < 0 {
		return newFieldError("Global.QueueDepth", "不能为负数")
	}

	if len(c.Caches) == 0 {
		return fmt.Errorf("%w: 至少需要配置一个 Cache", ErrInvalid)
	}

	seenNames := map[string]struct{}{}
	for i := range c.Caches {
		cache := &c.Caches[i]
		if err := validateName(cache.Name); err != nil {
			return newFieldError(cacheField(cache.Name, "Name"), err.Error())
		}
		if _, exists := seenNames[cache.Name]; exists {
			return newFieldError(cacheField(cache.Name, "Name"), "重复")
		}
		seenNames[cache.Name] = struct{}{}

		normalizedType := strings.ToLower(strings.TrimSpace(cache.Type))
		if _, ok := supportedCacheTypes[normalizedType]; !ok {
			return newFieldError(cacheField(cache.Name, "Type"), "仅支持 "+supportedCacheTypeList)
		}
		cache.Type = normalizedType

		if cache.DefaultExpiry.DurationValue() < 0 {
			return newFieldError(cacheField(cache.Name, "DefaultExpiry"), "不能为负数")
		}
	}

	return nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("Name 不能为空")
	}
	if strings.ContainsAny(name, `/\`) {
		return errors.New("Name 不允许包含路径分隔符")
	}
	if name == "." || name == ".." {
		return errors.New("Name 不能为 . 或 ..")
	}
	return nil
}
