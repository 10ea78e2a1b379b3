// Package spate 是两级缓存的前端：内存层优先，未命中时回落到磁盘层，
// 统一负责过期判断并在磁盘命中后回填内存层。
package spate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/spate-cache/spate/internal/cache"
	"github.com/spate-cache/spate/internal/memory"
)

// CacheType 是前端声明的淘汰偏好。磁盘层只按最近访问时间淘汰，
// TypeLFU 目前只作为配置值记录。
type CacheType string

const (
	TypeLRU CacheType = "lru"
	TypeLFU CacheType = "lfu"
)

// ParseCacheType 解析配置中的类型字符串，空串默认为 lru。
func ParseCacheType(raw string) (CacheType, error) {
	switch CacheType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TypeLRU:
		return TypeLRU, nil
	case TypeLFU:
		return TypeLFU, nil
	default:
		return "", fmt.Errorf("unsupported cache type %q", raw)
	}
}

// Options 控制前端缓存实例。
type Options struct {
	Name     string
	BasePath string
	Capacity uint64
	Type     CacheType
	// DefaultExpiry 供 Put 使用。
	DefaultExpiry Expiry
	Logger        *logrus.Logger
	Clock         func() time.Time
	// Pressure 非空时，收到内存紧张事件会清空内存层。
	Pressure   memory.PressureSource
	QueueDepth int
}

type record[T any] struct {
	value     T
	expiresAt time.Time
}

// diskLoad 是一次磁盘读取的结果，gen 是读取前内存层该 key 的写入代数。
type diskLoad struct {
	entry cache.Entry
	gen   uint64
}

var errMiss = errors.New("miss")

// Cache 以 JSON 序列化 T，磁盘层只看到不透明的字节。
type Cache[T any] struct {
	name          string
	kind          CacheType
	defaultExpiry Expiry

	disk   *cache.DiskCache
	mem    *memory.Tier[record[T]]
	loads  singleflight.Group
	now    func() time.Time
	logger *logrus.Logger

	unsubscribe func()
}

// Stats 是缓存的运行时快照。
type Stats struct {
	Name          string    `json:"name"`
	Type          CacheType `json:"type"`
	Root          string    `json:"root"`
	SizeBytes     uint64    `json:"size_bytes"`
	CapacityBytes uint64    `json:"capacity_bytes"`
	MemoryEntries int       `json:"memory_entries"`
}

// New 打开磁盘层并创建内存层。磁盘根目录不可写时返回错误。
func New[T any](opts Options) (*Cache[T], error) {
	kind, err := ParseCacheType(string(opts.Type))
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	disk, err := cache.Open(cache.Options{
		BasePath:   opts.BasePath,
		Name:       opts.Name,
		Capacity:   opts.Capacity,
		Logger:     logger,
		Now:        clock,
		QueueDepth: opts.QueueDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("open disk cache %s: %w", opts.Name, err)
	}

	c := &Cache[T]{
		name:          disk.Name(),
		kind:          kind,
		defaultExpiry: opts.DefaultExpiry,
		disk:          disk,
		mem:           memory.NewTier[record[T]](),
		now:           clock,
		logger:        logger,
	}
	if opts.Pressure != nil {
		c.unsubscribe = opts.Pressure.Subscribe(c.ClearMemory)
	}
	return c, nil
}

// Name 返回缓存名。
func (c *Cache[T]) Name() string {
	return c.name
}

// Get 先查内存层，未命中时查磁盘层（同一 key 的并发磁盘读取会被合并）。
// 过期条目会从两级缓存中删除并返回未命中。
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	now := c.now()

	gen := c.mem.Generation(key)
	if rec, ok := c.mem.Get(key); ok {
		if cache.ExpiredAt(rec.expiresAt, now) {
			c.removeExpired(key, gen)
			return zero, false
		}
		c.disk.Touch(key)
		return rec.value, true
	}

	loadCtx := context.WithoutCancel(ctx)
	result := c.loads.DoChan(key, func() (interface{}, error) {
		// 代数必须在读盘之前获取，之后的任何写入都会让回填失效
		before := c.mem.Generation(key)
		entry, ok := c.disk.Get(loadCtx, key)
		if !ok {
			return nil, errMiss
		}
		return diskLoad{entry: entry, gen: before}, nil
	})

	var res singleflight.Result
	select {
	case res = <-result:
	case <-ctx.Done():
		return zero, false
	}
	if res.Err != nil {
		return zero, false
	}

	loaded := res.Val.(diskLoad)
	entry := loaded.entry
	if entry.HasExpired(now) {
		c.removeExpired(key, loaded.gen)
		return zero, false
	}

	var value T
	if err := json.Unmarshal(entry.Value, &value); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "decode_value",
			"cache":  c.name,
			"key":    key,
		}).Warnf("cached value does not decode, dropping: %v", err)
		c.removeExpired(key, loaded.gen)
		return zero, false
	}

	// 读盘期间若有 Set/Remove/Clear，回填会被拒绝，内存层保留较新的状态
	c.mem.Fill(key, record[T]{value: value, expiresAt: entry.ExpiresAt}, loaded.gen)
	return value, true
}

// removeExpired 删除读到的过期或损坏条目；自 gen 之后 key 已被重新写入时跳过，
// 避免误删并发 Set 的新值。
func (c *Cache[T]) removeExpired(key string, gen uint64) {
	if c.mem.Generation(key) != gen {
		return
	}
	c.Remove(key)
}

// Set 写入两级缓存。只有值无法序列化时返回错误，磁盘写入失败不会上报。
func (c *Cache[T]) Set(key string, value T, expiry Expiry) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	expiresAt := expiry.Resolve(c.now())

	// 先登记磁盘写入再更新内存，并发 Get 的回填要么读到新值，要么被代数拒绝
	c.disk.Set(key, cache.Entry{Value: data, ExpiresAt: expiresAt})
	c.mem.Set(key, record[T]{value: value, expiresAt: expiresAt})
	return nil
}

// Put 使用 DefaultExpiry 写入。
func (c *Cache[T]) Put(key string, value T) error {
	return c.Set(key, value, c.defaultExpiry)
}

// Remove 从两级缓存删除 key。
func (c *Cache[T]) Remove(key string) {
	c.disk.Remove(key)
	c.mem.Remove(key)
}

// ClearMemory 清空内存层，磁盘层不受影响。
func (c *Cache[T]) ClearMemory() {
	n := c.mem.Clear()
	c.logger.WithFields(logrus.Fields{
		"action":  "clear_memory",
		"cache":   c.name,
		"cleared": n,
	}).Info("memory tier cleared")
}

// Clear 清空两级缓存。
func (c *Cache[T]) Clear() {
	c.disk.Clear()
	c.mem.Clear()
}

// SetCapacity 调整磁盘容量预算。
func (c *Cache[T]) SetCapacity(capacity uint64) {
	c.disk.SetCapacity(capacity)
}

// Type 返回声明的缓存类型。
func (c *Cache[T]) Type() CacheType {
	return c.kind
}

// Disk 返回底层磁盘缓存。
func (c *Cache[T]) Disk() *cache.DiskCache {
	return c.disk
}

// Stats 返回运行时快照。
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Name:          c.name,
		Type:          c.kind,
		Root:          c.disk.Root(),
		SizeBytes:     c.disk.Size(),
		CapacityBytes: c.disk.Capacity(),
		MemoryEntries: c.mem.Len(),
	}
}

// Close 取消内存压力订阅并排空磁盘队列。
func (c *Cache[T]) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.disk.Close()
}
