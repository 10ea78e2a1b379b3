package cache

import (
	"sort"
)

// SelectForEviction 按最近访问时间从旧到新挑选需要删除的条目路径，直到
// currentSize 回落到 capacity 以内。时间相同的条目按路径字典序决定先后。
// 已在预算内时返回 nil。
func SelectForEviction(entries []EntryInfo, currentSize, capacity uint64) []string {
	if currentSize <= capacity || len(entries) == 0 {
		return nil
	}

	sorted := make([]EntryInfo, len(entries))
	copy(sorted, entries)
	sortByLastAccess(sorted)

	var (
		removed uint64
		paths   []string
	)
	for _, entry := range sorted {
		if currentSize-removed <= capacity {
			break
		}
		paths = append(paths, entry.Path)
		removed += entry.Size
		if removed >= currentSize {
			break
		}
	}
	return paths
}

func sortByLastAccess(entries []EntryInfo) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.Before(b.LastAccess)
		}
		return a.Path < b.Path
	})
}
