package memory

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// PressureSource 是通用的“内存紧张”事件源。Subscribe 返回取消订阅函数。
type PressureSource interface {
	Subscribe(handler func()) (cancel func())
}

// Signal 是手动触发的事件源，适合测试或由宿主应用转发系统通知。
type Signal struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func()
}

// NewSignal 创建没有订阅者的 Signal。
func NewSignal() *Signal {
	return &Signal{handlers: make(map[int]func())}
}

// Subscribe 注册 handler。
func (s *Signal) Subscribe(handler func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// Broadcast 同步调用当前所有订阅者。
func (s *Signal) Broadcast() {
	s.mu.Lock()
	handlers := make([]func(), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// Watcher 周期性读取运行时内存统计，堆占用从低于阈值变为超过阈值时广播一次。
type Watcher struct {
	*Signal

	highWater uint64
	interval  time.Duration
	logger    *logrus.Logger
	readHeap  func() uint64
}

// NewWatcher 构建 Watcher；interval <= 0 时使用 5s。
func NewWatcher(highWater uint64, interval time.Duration, logger *logrus.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{
		Signal:    NewSignal(),
		highWater: highWater,
		interval:  interval,
		logger:    logger,
		readHeap:  heapInUse,
	}
}

// Run 阻塞直到 ctx 结束。
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	above := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			above = w.check(above)
		}
	}
}

// check 返回本次采样后是否处于阈值之上。
func (w *Watcher) check(wasAbove bool) bool {
	inUse := w.readHeap()
	if inUse < w.highWater {
		return false
	}
	if !wasAbove {
		w.logger.WithFields(logrus.Fields{
			"action":     "memory_pressure",
			"heap_inuse": humanize.IBytes(inUse),
			"high_water": humanize.IBytes(w.highWater),
		}).Warn("memory high-water mark crossed")
		w.Broadcast()
	}
	return true
}

func heapInUse() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapInuse
}
