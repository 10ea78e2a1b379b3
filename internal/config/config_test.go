package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.ListenPort != 7070 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.LogFormat != "json" {
		t.Fatalf("LogFormat 默认应为 json，得到 %q", cfg.Global.LogFormat)
	}
	if cfg.Global.QueueDepth != 256 {
		t.Fatalf("QueueDepth 应该自动填充默认值，得到 %d", cfg.Global.QueueDepth)
	}
	if cfg.Global.MemoryHighWater.Bytes() != 256*1024*1024 {
		t.Fatalf("MemoryHighWater 解析错误: %d", cfg.Global.MemoryHighWater)
	}
	if len(cfg.Caches) != 2 {
		t.Fatalf("期望 2 个 Cache，得到 %d", len(cfg.Caches))
	}

	images := cfg.Caches[0]
	if cfg.EffectiveCapacity(images) != 64*1024*1024 {
		t.Fatalf("Cache 覆盖容量应生效")
	}
	if images.DefaultExpiry.DurationValue() != time.Hour {
		t.Fatalf("DefaultExpiry 解析错误: %v", images.DefaultExpiry.DurationValue())
	}

	sessions := cfg.Caches[1]
	if cfg.EffectiveCapacity(sessions) != 10*1024*1024 {
		t.Fatalf("Cache 未设置容量时应退回全局值")
	}
	if sessions.Type != "lru" {
		t.Fatalf("Type 默认应为 lru，得到 %s", sessions.Type)
	}
	if sessions.DefaultExpiry.DurationValue() != 30*time.Minute {
		t.Fatalf("整数秒 DefaultExpiry 解析错误: %v", sessions.DefaultExpiry.DurationValue())
	}
}

func TestValidateRejectsBadCache(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestCacheTypeValidation(t *testing.T) {
	testCases := []struct {
		name      string
		cacheType string
		shouldErr bool
	}{
		{"lru ok", "lru", false},
		{"lfu ok", "LFU", false},
		{"missing type", "", true},
		{"unsupported type", "fifo", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Caches[0].Type = tc.cacheType
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for type %q", tc.cacheType)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for type %q: %v", tc.cacheType, err)
			}
		})
	}
}

func TestValidateCacheNames(t *testing.T) {
	testCases := []struct {
		name      string
		cacheName string
	}{
		{"empty", ""},
		{"slash", "a/b"},
		{"backslash", `a\b`},
		{"parent", ".."},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Caches[0].Name = tc.cacheName
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error for name %q", tc.cacheName)
			}
		})
	}

	cfg := validConfig()
	cfg.Caches = append(cfg.Caches, cfg.Caches[0])
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Cache[images].Name" {
		t.Fatalf("重复名称应返回 FieldError，得到 %v", err)
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("FieldError 应匹配 ErrInvalid")
	}
}

func TestValidateLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Global.LogFormat = "text"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("text 格式应合法: %v", err)
	}
	cfg.Global.LogFormat = "xml"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("未知日志格式应返回 ErrInvalid，得到 %v", err)
	}
}

func TestValidateRequiresCaches(t *testing.T) {
	cfg := validConfig()
	cfg.Caches = nil
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("缺少 Cache 应返回 ErrInvalid，得到 %v", err)
	}
}

func TestParseByteSize(t *testing.T) {
	testCases := []struct {
		raw  string
		want ByteSize
	}{
		{"", 0},
		{"1048576", 1048576},
		{"10MiB", 10 * 1024 * 1024},
		{"512 KB", 512 * 1000},
		{"unlimited", Unlimited},
		{"Unbounded", Unlimited},
	}
	for _, tc := range testCases {
		got, err := ParseByteSize(tc.raw)
		if err != nil {
			t.Fatalf("ParseByteSize(%q) error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseByteSize(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
	if _, err := ParseByteSize("lots"); err == nil {
		t.Fatalf("无效字节数应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         7070,
			LogFormat:          "json",
			StoragePath:        "./data",
			DefaultCapacity:    ByteSize(1024),
			MemoryPollInterval: Duration(time.Second),
			QueueDepth:         16,
		},
		Caches: []CacheConfig{
			{
				Name: "images",
				Type: "lru",
			},
		},
	}
}
