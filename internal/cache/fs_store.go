package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	atomicfile "github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// storeDirectory 负责根目录生命周期与字节数记账。size 只在写队列中修改，
// 其它 goroutine 只读。
type storeDirectory struct {
	root   string
	logger *logrus.Logger
	size   *atomic.Uint64
}

func newStoreDirectory(root string, logger *logrus.Logger) *storeDirectory {
	return &storeDirectory{
		root:   root,
		logger: logger,
		size:   atomic.NewUint64(0),
	}
}

// ensureRoot 创建根目录并确认可写，幂等。
func (d *storeDirectory) ensureRoot() error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}

	check, err := os.CreateTemp(d.root, ".writable-*")
	if err != nil {
		return fmt.Errorf("cache root not writable: %w", err)
	}
	name := check.Name()
	check.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("cache root not writable: %w", err)
	}
	return nil
}

// computeInitialSize 扫描一次根目录下的条目文件并汇总大小，顺带清理中断写入
// 遗留的临时文件。单个文件不可读时记录日志并跳过。
func (d *storeDirectory) computeInitialSize() uint64 {
	items, err := os.ReadDir(d.root)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"action": "compute_size",
			"root":   d.root,
		}).Warnf("read cache root failed: %v", err)
		d.size.Store(0)
		return 0
	}

	var total uint64
	for _, item := range items {
		name := item.Name()
		full := filepath.Join(d.root, name)

		if isStaleTemp(name) {
			if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
				d.logger.WithFields(logrus.Fields{
					"action": "sweep_temp",
					"path":   full,
				}).Warnf("remove stale temp file failed: %v", err)
			}
			continue
		}
		if !isEntryName(name) || item.IsDir() {
			continue
		}

		info, err := item.Info()
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"action": "compute_size",
				"path":   full,
			}).Warnf("stat cache entry failed: %v", err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		total += uint64(info.Size())
	}

	d.size.Store(total)
	return total
}

func (d *storeDirectory) pathFor(sanitizedKey string) string {
	return filepath.Join(d.root, sanitizedKey+FileSuffix)
}

// currentSize 可在任意 goroutine 调用。
func (d *storeDirectory) currentSize() uint64 {
	return d.size.Load()
}

// recordWrite 按写入前后的字节差调整总量，结果不会小于 0。
func (d *storeDirectory) recordWrite(path string, delta int64) {
	current := d.size.Load()
	if delta >= 0 {
		d.size.Store(current + uint64(delta))
		return
	}
	d.recordRemoval(path, uint64(-delta))
}

// recordRemoval 扣减已删除文件的字节数，出现不一致时钳制为 0。
func (d *storeDirectory) recordRemoval(path string, removed uint64) {
	current := d.size.Load()
	if removed > current {
		d.logger.WithFields(logrus.Fields{
			"action":  "size_clamp",
			"path":    path,
			"current": current,
			"removed": removed,
		}).Warn("size counter would go negative, clamping to zero")
		d.size.Store(0)
		return
	}
	d.size.Store(current - removed)
}

// fileSize 返回已存在条目文件的大小；不存在或不是普通文件时 ok 为 false。
func (d *storeDirectory) fileSize(path string) (uint64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return uint64(info.Size()), true
}

// writeFile 原子替换条目文件并将修改时间设为 modTime，返回写入的字节数。
func (d *storeDirectory) writeFile(path string, data []byte, modTime time.Time) (uint64, error) {
	if err := atomicfile.WriteFile(path, bytes.NewReader(data)); err != nil {
		return 0, err
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		d.logger.WithFields(logrus.Fields{
			"action": "chtimes",
			"path":   path,
		}).Warnf("set modification time failed: %v", err)
	}
	return uint64(len(data)), nil
}

// removeFile 删除条目文件并扣减大小；文件不存在时视为成功。
func (d *storeDirectory) removeFile(path string) error {
	size, ok := d.fileSize(path)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	d.recordRemoval(path, size)
	return nil
}

// listEntries 枚举根目录的直接子文件（不进入子目录），按最近访问时间从旧到新排序，
// 以文件修改时间作为访问时间。
func (d *storeDirectory) listEntries() ([]EntryInfo, error) {
	items, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}

	entries := make([]EntryInfo, 0, len(items))
	for _, item := range items {
		if item.IsDir() || !isEntryName(item.Name()) {
			continue
		}
		info, err := item.Info()
		if err != nil {
			// 可能已被并发删除
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, EntryInfo{
			Path:       filepath.Join(d.root, item.Name()),
			Size:       uint64(info.Size()),
			LastAccess: info.ModTime(),
		})
	}
	sortByLastAccess(entries)
	return entries, nil
}

func (d *storeDirectory) describe() logrus.Fields {
	return logrus.Fields{
		"root": d.root,
		"size": humanize.IBytes(d.currentSize()),
	}
}

func isEntryName(name string) bool {
	return strings.HasSuffix(name, FileSuffix) && len(name) >= len(FileSuffix)
}

// isStaleTemp 识别 atomic.WriteFile 生成的临时文件，形如 key.cache123456。
func isStaleTemp(name string) bool {
	idx := strings.LastIndex(name, FileSuffix)
	if idx < 0 {
		return false
	}
	rest := name[idx+len(FileSuffix):]
	if rest == "" {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return false
		}
	}
	return true
}
