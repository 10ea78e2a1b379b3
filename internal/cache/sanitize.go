package cache

import "strings"

// SanitizeKey 将任意 key 映射为文件系统安全的名称：所有 [A-Za-z0-9_] 之外的
// 连续字符段折叠为单个下划线。对刻意构造的输入不保证单射。
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))

	inRun := false
	for i := 0; i < len(key); i++ {
		ch := key[i]
		if isKeyChar(ch) {
			b.WriteByte(ch)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	return b.String()
}

func isKeyChar(ch byte) bool {
	switch {
	case ch >= 'a' && ch <= 'z':
		return true
	case ch >= 'A' && ch <= 'Z':
		return true
	case ch >= '0' && ch <= '9':
		return true
	case ch == '_':
		return true
	}
	return false
}
