package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 提供缓存名、类型与容量字段，供启动与统计日志复用。
func CacheFields(action, name, cacheType, capacity string) logrus.Fields {
	return logrus.Fields{
		"action":   action,
		"cache":    name,
		"type":     cacheType,
		"capacity": capacity,
	}
}
