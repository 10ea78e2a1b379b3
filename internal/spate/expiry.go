package spate

import (
	"fmt"
	"strings"
	"time"
)

type expiryKind int

const (
	expiryNever expiryKind = iota
	expiryAfter
	expiryAt
)

// Expiry 描述条目的过期策略：永不过期、相对时长或绝对时间。零值为永不过期。
type Expiry struct {
	kind expiryKind
	ttl  time.Duration
	at   time.Time
}

// ExpireNever 永不过期。
func ExpireNever() Expiry {
	return Expiry{}
}

// ExpireAfter 在写入时刻之后 d 过期。
func ExpireAfter(d time.Duration) Expiry {
	return Expiry{kind: expiryAfter, ttl: d}
}

// ExpireAt 在绝对时间 t 过期。
func ExpireAt(t time.Time) Expiry {
	return Expiry{kind: expiryAt, at: t}
}

// IsNever 报告是否永不过期。
func (e Expiry) IsNever() bool {
	return e.kind == expiryNever || (e.kind == expiryAt && e.at.IsZero())
}

// Resolve 将策略换算为绝对过期时间，永不过期返回零值。
func (e Expiry) Resolve(now time.Time) time.Time {
	switch e.kind {
	case expiryAfter:
		return now.Add(e.ttl)
	case expiryAt:
		return e.at
	default:
		return time.Time{}
	}
}

func (e Expiry) String() string {
	switch {
	case e.IsNever():
		return "never"
	case e.kind == expiryAfter:
		return e.ttl.String()
	default:
		return e.at.Format(time.RFC3339Nano)
	}
}

// ParseExpiry 解析 "never"、Go duration（如 "30s"）或 RFC3339 时间。空串视为 never。
func ParseExpiry(raw string) (Expiry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "never") {
		return ExpireNever(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			return Expiry{}, fmt.Errorf("negative expiry: %s", raw)
		}
		return ExpireAfter(d), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ExpireAt(t), nil
	}
	return Expiry{}, fmt.Errorf("invalid expiry: %s", raw)
}
