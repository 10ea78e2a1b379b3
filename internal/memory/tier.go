// Package memory 提供 spate 的内存前置层以及内存压力事件源。
package memory

import (
	"hash/maphash"
	"sync"
)

// genStripes 是写入代数的分片数，不同 key 可能共享同一分片。
const genStripes = 256

// Tier 是一个不限容量的并发安全 map，作为磁盘层之前的快速查找层。
// 每次 Set/Remove/Clear 都会推进对应分片的写入代数，Fill 据此拒绝过期的回填。
type Tier[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	seed  maphash.Seed
	gens  [genStripes]uint64
}

// NewTier 创建空的内存层。
func NewTier[V any]() *Tier[V] {
	return &Tier[V]{
		items: make(map[string]V),
		seed:  maphash.MakeSeed(),
	}
}

// Get 返回 key 对应的值。
func (t *Tier[V]) Get(key string) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	value, ok := t.items[key]
	return value, ok
}

// Set 写入或覆盖 key。
func (t *Tier[V]) Set(key string, value V) {
	t.mu.Lock()
	t.items[key] = value
	t.gens[t.stripe(key)]++
	t.mu.Unlock()
}

// Remove 删除 key，不存在时为空操作。
func (t *Tier[V]) Remove(key string) {
	t.mu.Lock()
	delete(t.items, key)
	t.gens[t.stripe(key)]++
	t.mu.Unlock()
}

// Clear 清空全部条目，返回被清除的数量。
func (t *Tier[V]) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.items)
	t.items = make(map[string]V)
	for i := range t.gens {
		t.gens[i]++
	}
	return n
}

// Generation 返回 key 所在分片当前的写入代数，在从慢速层读取之前获取。
func (t *Tier[V]) Generation(key string) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gens[t.stripe(key)]
}

// Fill 用慢速层读到的值回填 key：仅当 key 不存在且自 gen 之后没有写入时才生效。
// Fill 本身不推进代数。
func (t *Tier[V]) Fill(key string, value V, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gens[t.stripe(key)] != gen {
		return false
	}
	if _, exists := t.items[key]; exists {
		return false
	}
	t.items[key] = value
	return true
}

// Len 返回当前条目数。
func (t *Tier[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

func (t *Tier[V]) stripe(key string) int {
	return int(maphash.String(t.seed, key) % genStripes)
}
