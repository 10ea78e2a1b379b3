package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Options 控制 DiskCache 的根目录、容量与运行时依赖。
type Options struct {
	// BasePath 为空时使用 os.UserCacheDir()。
	BasePath string
	// Name 是缓存名，决定 <BasePath>/io.spate.diskCache/<Name> 根目录。
	Name string
	// Capacity 为 0 时使用 DefaultCapacity；Unbounded 表示不限。
	Capacity uint64
	Logger   *logrus.Logger
	// Now 用于刷新访问时间，默认 time.Now。
	Now func() time.Time
	// QueueDepth 是读写队列的缓冲长度。
	QueueDepth int
}

// DiskCache 是磁盘层的编排者：get/set/remove/touch 以及容量控制。
// 所有修改都在写队列中串行执行，读取在读队列中执行并同步返回结果。
type DiskCache struct {
	name     string
	dir      *storeDirectory
	capacity *atomic.Uint64
	logger   *logrus.Logger
	now      func() time.Time

	reads  *serialQueue
	writes *serialQueue

	// pending 记录已入队但尚未落盘的修改，Get 优先读取它，保证调用方能读到自己的写入。
	pendingMu  sync.Mutex
	pending    map[string]pendingWrite
	pendingSeq uint64
	// clearSeq 非零表示有一个 Clear 尚未执行完。
	clearSeq uint64
}

type pendingWrite struct {
	seq     uint64
	entry   Entry
	removed bool
}

// Open 创建（或复用）缓存根目录，统计现有条目大小，并在超出预算时安排一次淘汰。
// 根目录不可创建或不可写是唯一的致命错误。
func Open(opts Options) (*DiskCache, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, errors.New("cache name required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid cache name %q", opts.Name)
	}

	base := opts.BasePath
	if base == "" {
		userDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user cache dir: %w", err)
		}
		base = userDir
	}
	abs, err := filepath.Abs(filepath.Join(base, Namespace, name))
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	dir := newStoreDirectory(abs, logger)
	if err := dir.ensureRoot(); err != nil {
		return nil, err
	}

	d := &DiskCache{
		name:     name,
		dir:      dir,
		capacity: atomic.NewUint64(capacity),
		logger:   logger,
		now:      now,
		reads:    newSerialQueue(name+".read", opts.QueueDepth, logger),
		writes:   newSerialQueue(name+".write", opts.QueueDepth, logger),
		pending:  make(map[string]pendingWrite),
	}

	d.writes.Go(func() {
		size := d.dir.computeInitialSize()
		fields := d.fields("open")
		fields["size"] = humanize.IBytes(size)
		fields["capacity"] = formatCapacity(d.Capacity())
		d.logger.WithFields(fields).Info("disk cache ready")
		d.enforceCapacity()
	})

	return d, nil
}

// Name 返回缓存名。
func (d *DiskCache) Name() string {
	return d.name
}

// Root 返回缓存根目录的绝对路径。
func (d *DiskCache) Root() string {
	return d.dir.root
}

// Size 返回当前记录的磁盘占用字节数。
func (d *DiskCache) Size() uint64 {
	return d.dir.currentSize()
}

// Capacity 返回当前容量预算。
func (d *DiskCache) Capacity() uint64 {
	return d.capacity.Load()
}

// Get 在读队列中解析条目并同步返回。任何读取失败都视为未命中；
// 解码失败的文件会在写队列中被删除。过期判断由调用方负责。
func (d *DiskCache) Get(ctx context.Context, key string) (Entry, bool) {
	path := d.dir.pathFor(SanitizeKey(key))

	if entry, removed, ok := d.lookupPending(path); ok {
		if removed {
			return Entry{}, false
		}
		d.writes.Go(func() { d.touchPath(path) })
		return entry, true
	}

	var (
		entry Entry
		found bool
	)
	err := d.reads.Do(ctx, func() {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				d.logger.WithFields(d.keyFields("get", key)).Warnf("read cache entry failed: %v", err)
			}
			return
		}

		decoded, err := DecodeEntry(data)
		if err != nil {
			d.logger.WithFields(d.keyFields("get", key)).Warnf("discarding corrupt entry: %v", err)
			d.writes.Go(func() { d.removeIfCorrupt(path) })
			return
		}

		entry, found = decoded, true
		d.writes.Go(func() { d.touchPath(path) })
	})
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			d.logger.WithFields(d.keyFields("get", key)).Debugf("get abandoned: %v", err)
		}
		return Entry{}, false
	}
	return entry, found
}

// Set 异步写入条目；写入失败只记录日志。超出容量时在同一写任务内淘汰。
func (d *DiskCache) Set(key string, entry Entry) {
	path := d.dir.pathFor(SanitizeKey(key))
	data := EncodeEntry(entry)
	seq := d.beginPending(path, pendingWrite{
		entry: Entry{Value: append([]byte{}, entry.Value...), ExpiresAt: entry.ExpiresAt},
	})

	d.enqueuePending(path, seq, func() {
		oldSize, _ := d.dir.fileSize(path)
		written, err := d.dir.writeFile(path, data, d.now())
		if err != nil {
			d.logger.WithFields(d.keyFields("set", key)).Errorf("write cache entry failed: %v", err)
			return
		}
		d.dir.recordWrite(path, int64(written)-int64(oldSize))

		if d.dir.currentSize() > d.Capacity() {
			d.enforceCapacity()
		}
	})
}

// Remove 异步删除条目，删除不存在的 key 是空操作。
func (d *DiskCache) Remove(key string) {
	path := d.dir.pathFor(SanitizeKey(key))
	seq := d.beginPending(path, pendingWrite{removed: true})
	d.enqueuePending(path, seq, func() {
		if err := d.dir.removeFile(path); err != nil {
			d.logger.WithFields(d.keyFields("remove", key)).Errorf("remove cache entry failed: %v", err)
		}
	})
}

// Touch 异步刷新条目的访问时间，不修改内容。
func (d *DiskCache) Touch(key string) {
	path := d.dir.pathFor(SanitizeKey(key))
	d.writes.Go(func() { d.touchPath(path) })
}

// SetCapacity 更新容量预算并安排一次淘汰。
func (d *DiskCache) SetCapacity(capacity uint64) {
	d.capacity.Store(capacity)
	d.writes.Go(d.enforceCapacity)
}

// Clear 异步删除全部条目。
func (d *DiskCache) Clear() {
	d.pendingMu.Lock()
	d.pendingSeq++
	seq := d.pendingSeq
	d.clearSeq = seq
	d.pendingMu.Unlock()

	settle := func() {
		d.pendingMu.Lock()
		if d.clearSeq == seq {
			d.clearSeq = 0
		}
		d.pendingMu.Unlock()
	}
	if !d.writes.Go(func() {
		defer settle()
		entries, err := d.dir.listEntries()
		if err != nil {
			d.logger.WithFields(d.fields("clear")).Errorf("list cache entries failed: %v", err)
			return
		}
		for _, entry := range entries {
			if err := d.dir.removeFile(entry.Path); err != nil {
				d.logger.WithFields(d.fields("clear")).Errorf("remove %s failed: %v", entry.Path, err)
			}
		}
		d.logger.WithFields(d.fields("clear")).Infof("removed %d entries", len(entries))
	}) {
		settle()
	}
}

// Entries 返回当前条目快照，按最近访问时间从旧到新排列。
func (d *DiskCache) Entries(ctx context.Context) ([]EntryInfo, error) {
	var (
		entries []EntryInfo
		listErr error
	)
	if err := d.reads.Do(ctx, func() {
		entries, listErr = d.dir.listEntries()
	}); err != nil {
		return nil, err
	}
	return entries, listErr
}

// Flush 等待调用前已入队的写任务全部完成。
func (d *DiskCache) Flush(ctx context.Context) error {
	return d.writes.Do(ctx, func() {})
}

// Close 停止接收新任务并排空读写队列。
func (d *DiskCache) Close() error {
	d.reads.Close()
	d.writes.Close()
	return nil
}

// beginPending 登记一次待落盘的修改，返回它的序号。
func (d *DiskCache) beginPending(path string, op pendingWrite) uint64 {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pendingSeq++
	op.seq = d.pendingSeq
	d.pending[path] = op
	return op.seq
}

// enqueuePending 把写任务放入写队列，任务结束（或被丢弃）后撤销对应登记。
func (d *DiskCache) enqueuePending(path string, seq uint64, job func()) {
	settle := func() {
		d.pendingMu.Lock()
		if op, ok := d.pending[path]; ok && op.seq == seq {
			delete(d.pending, path)
		}
		d.pendingMu.Unlock()
	}
	if !d.writes.Go(func() {
		defer settle()
		job()
	}) {
		settle()
	}
}

// lookupPending 返回 path 上尚未落盘的最新修改。ok 为 false 时需要读磁盘。
func (d *DiskCache) lookupPending(path string) (entry Entry, removed, ok bool) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	op, found := d.pending[path]
	if found && op.seq > d.clearSeq {
		if op.removed {
			return Entry{}, true, true
		}
		return Entry{Value: append([]byte{}, op.entry.Value...), ExpiresAt: op.entry.ExpiresAt}, false, true
	}
	if d.clearSeq != 0 {
		return Entry{}, true, true
	}
	return Entry{}, false, false
}

// enforceCapacity 必须在写队列中调用，保证一次淘汰相对其它修改是原子的。
func (d *DiskCache) enforceCapacity() {
	capacity := d.Capacity()
	size := d.dir.currentSize()
	if size <= capacity {
		return
	}

	fields := d.fields("evict")
	fields["pass_id"] = uuid.NewString()

	entries, err := d.dir.listEntries()
	if err != nil {
		d.logger.WithFields(fields).Errorf("list cache entries failed: %v", err)
		return
	}

	victims := SelectForEviction(entries, size, capacity)
	removed := 0
	for _, path := range victims {
		if d.dir.currentSize() <= capacity {
			break
		}
		if err := d.dir.removeFile(path); err != nil {
			d.logger.WithFields(fields).Errorf("evict %s failed: %v", path, err)
			continue
		}
		removed++
	}

	fields["removed"] = removed
	fields["size"] = humanize.IBytes(d.dir.currentSize())
	fields["capacity"] = formatCapacity(capacity)
	d.logger.WithFields(fields).Info("eviction pass finished")
}

func (d *DiskCache) touchPath(path string) {
	if _, ok := d.dir.fileSize(path); !ok {
		return
	}
	now := d.now()
	if err := os.Chtimes(path, now, now); err != nil {
		d.logger.WithFields(logrus.Fields{
			"action": "touch",
			"cache":  d.name,
			"path":   path,
		}).Warnf("update modification time failed: %v", err)
	}
}

// removeIfCorrupt 重新读取文件确认仍无法解码后再删除，避免误删并发写入的新内容。
func (d *DiskCache) removeIfCorrupt(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if _, err := DecodeEntry(data); err == nil {
		return
	}
	if err := d.dir.removeFile(path); err != nil {
		d.logger.WithFields(logrus.Fields{
			"action": "remove_corrupt",
			"cache":  d.name,
			"path":   path,
		}).Errorf("remove corrupt entry failed: %v", err)
	}
}

func (d *DiskCache) fields(action string) logrus.Fields {
	fields := d.dir.describe()
	fields["action"] = action
	fields["cache"] = d.name
	return fields
}

func (d *DiskCache) keyFields(action, key string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"cache":  d.name,
		"key":    key,
	}
}

func formatCapacity(capacity uint64) string {
	if capacity == Unbounded {
		return "unbounded"
	}
	return humanize.IBytes(capacity)
}
