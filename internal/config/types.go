package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 表示字节预算，支持 "10MiB"、"512 KB"、纯数字与 "unlimited"。
type ByteSize uint64

// Unlimited 对应不限容量。
const Unlimited = ByteSize(math.MaxUint64)

// ParseByteSize 解析人类可读的字节数。
func ParseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "":
		return 0, nil
	case "unlimited", "unbounded":
		return Unlimited, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(n), nil
}

// UnmarshalText 使 ByteSize 可以直接从 TOML 字符串解析。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Bytes 返回原始字节数。
func (b ByteSize) Bytes() uint64 {
	return uint64(b)
}

func (b ByteSize) String() string {
	if b == Unlimited {
		return "unlimited"
	}
	return humanize.IBytes(uint64(b))
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有缓存共享同一份参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFormat          string   `mapstructure:"LogFormat"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StoragePath        string   `mapstructure:"StoragePath"`
	DefaultCapacity    ByteSize `mapstructure:"DefaultCapacity"`
	MemoryHighWater    ByteSize `mapstructure:"MemoryHighWater"`
	MemoryPollInterval Duration `mapstructure:"MemoryPollInterval"`
	QueueDepth         int      `mapstructure:"QueueDepth"`
}

// CacheConfig 描述一个具名缓存实例。
type CacheConfig struct {
	Name          string   `mapstructure:"Name"`
	MaxCapacity   ByteSize `mapstructure:"MaxCapacity"`
	Type          string   `mapstructure:"Type"`
	DefaultExpiry Duration `mapstructure:"DefaultExpiry"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Caches []CacheConfig `mapstructure:"Cache"`
}

// CacheNames 返回全部缓存名，供启动日志使用。
func CacheNames(caches []CacheConfig) []string {
	if len(caches) == 0 {
		return nil
	}
	result := make([]string, len(caches))
	for i, c := range caches {
		result[i] = c.Name
	}
	return result
}

// EffectiveCapacity 返回特定缓存生效的容量，未覆盖时回退至全局值。
func (c *Config) EffectiveCapacity(cache CacheConfig) uint64 {
	if cache.MaxCapacity > 0 {
		return cache.MaxCapacity.Bytes()
	}
	return c.Global.DefaultCapacity.Bytes()
}
