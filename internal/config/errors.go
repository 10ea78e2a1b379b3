package config

import (
	"errors"
	"fmt"
)

// ErrInvalid 是所有语义校验失败的共同根因，调用方可用 errors.Is 判断。
var ErrInvalid = errors.New("invalid config")

// FieldError 携带出错字段的路径（如 Cache[images].Type）与原因。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

// Is 让 errors.Is(err, ErrInvalid) 对任意 FieldError 成立。
func (e FieldError) Is(target error) bool {
	return target == ErrInvalid
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

func cacheField(name, field string) string {
	if name == "" {
		name = "#"
	}
	return fmt.Sprintf("Cache[%s].%s", name, field)
}
