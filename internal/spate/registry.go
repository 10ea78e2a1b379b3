package spate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/spate-cache/spate/internal/config"
	"github.com/spate-cache/spate/internal/logging"
	"github.com/spate-cache/spate/internal/memory"
)

// ErrCacheNotFound 表示请求的缓存名未在配置中声明。
var ErrCacheNotFound = errors.New("cache not found")

// Registry 按配置持有全部具名缓存，值以原始 JSON 保存，供管理接口使用。
type Registry struct {
	caches map[string]*Cache[json.RawMessage]
	names  []string
	logger *logrus.Logger

	watcher   *memory.Watcher
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewRegistry 依次打开配置中的缓存；任一缓存打开失败时关闭已打开的缓存并返回错误。
func NewRegistry(cfg *config.Config, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Registry{
		caches: make(map[string]*Cache[json.RawMessage], len(cfg.Caches)),
		logger: logger,
	}

	var pressure memory.PressureSource
	if cfg.Global.MemoryHighWater > 0 {
		r.watcher = memory.NewWatcher(
			cfg.Global.MemoryHighWater.Bytes(),
			cfg.Global.MemoryPollInterval.DurationValue(),
			logger,
		)
		pressure = r.watcher
	}

	for _, cc := range cfg.Caches {
		kind, err := ParseCacheType(cc.Type)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("cache %s: %w", cc.Name, err)
		}
		expiry := ExpireNever()
		if d := cc.DefaultExpiry.DurationValue(); d > 0 {
			expiry = ExpireAfter(d)
		}

		c, err := New[json.RawMessage](Options{
			Name:          cc.Name,
			BasePath:      cfg.Global.StoragePath,
			Capacity:      cfg.EffectiveCapacity(cc),
			Type:          kind,
			DefaultExpiry: expiry,
			Logger:        logger,
			Pressure:      pressure,
			QueueDepth:    cfg.Global.QueueDepth,
		})
		if err != nil {
			r.Close()
			return nil, err
		}
		r.caches[c.Name()] = c
		r.names = append(r.names, c.Name())

		logger.WithFields(logging.CacheFields("cache_open", c.Name(), string(kind), config.ByteSize(c.Disk().Capacity()).String())).
			Info("cache registered")
	}
	sort.Strings(r.names)

	if r.watcher != nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.stopWatch = cancel
		r.watchDone = make(chan struct{})
		go func() {
			defer close(r.watchDone)
			r.watcher.Run(ctx)
		}()
	}
	return r, nil
}

// Lookup 按名字查找缓存。
func (r *Registry) Lookup(name string) (*Cache[json.RawMessage], bool) {
	c, ok := r.caches[name]
	return c, ok
}

// Resolve 与 Lookup 相同，但以 ErrCacheNotFound 报告未知的缓存名。
func (r *Registry) Resolve(name string) (*Cache[json.RawMessage], error) {
	c, ok := r.caches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, name)
	}
	return c, nil
}

// Names 返回按字典序排列的缓存名。
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// List 返回全部缓存的统计快照。
func (r *Registry) List() []Stats {
	out := make([]Stats, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.caches[name].Stats())
	}
	return out
}

// Pressure 返回内存水位监视器，未配置 MemoryHighWater 时为 nil。
func (r *Registry) Pressure() *memory.Watcher {
	return r.watcher
}

// Close 停止水位监视并并行排空所有缓存的队列。
func (r *Registry) Close() error {
	if r.stopWatch != nil {
		r.stopWatch()
		<-r.watchDone
		r.stopWatch = nil
	}

	p := pool.New().WithErrors()
	for _, c := range r.caches {
		c := c
		p.Go(func() error {
			if err := c.Close(); err != nil {
				return fmt.Errorf("close cache %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	err := p.Wait()
	r.caches = map[string]*Cache[json.RawMessage]{}
	r.names = nil
	return err
}
