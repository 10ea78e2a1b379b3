package cache

import (
	"errors"
	"math"
	"time"
)

const (
	// Namespace 是所有磁盘缓存根目录的固定前缀目录名。
	Namespace = "io.spate.diskCache"
	// FileSuffix 是每个条目文件的扩展名。
	FileSuffix = ".cache"
	// DefaultCapacity 为未显式配置容量时的磁盘预算（10 MiB）。
	DefaultCapacity uint64 = 10 * 1024 * 1024
	// Unbounded 表示不限容量。
	Unbounded uint64 = math.MaxUint64
)

// Entry 是一次缓存写入的完整内容：不透明的值与绝对过期时间。
// ExpiresAt 为零值时表示永不过期。
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// NeverExpires 报告条目是否没有过期时间。
func (e Entry) NeverExpires() bool {
	return e.ExpiresAt.IsZero()
}

// HasExpired 以调用方提供的 now 判断条目是否过期，磁盘层自身从不解释过期。
func (e Entry) HasExpired(now time.Time) bool {
	return ExpiredAt(e.ExpiresAt, now)
}

// ExpiredAt 是过期判断的唯一定义：零值永不过期，到达 expiresAt 即视为过期。
func ExpiredAt(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

// EntryInfo 描述目录中的一个条目文件，用于淘汰排序与诊断输出。
type EntryInfo struct {
	Path       string    `json:"path"`
	Size       uint64    `json:"size_bytes"`
	LastAccess time.Time `json:"last_access"`
}

var (
	// ErrCorrupt 表示条目字节无法解码。
	ErrCorrupt = errors.New("cache entry corrupt")
	// ErrClosed 表示缓存已关闭，不再接受任务。
	ErrClosed = errors.New("disk cache closed")
)
