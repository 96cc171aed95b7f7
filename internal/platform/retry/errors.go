package retry

import (
	"errors"
	"fmt"
)

// TransientError 命中可重试签名但按策略重试耗尽后的失败。
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError 未命中任何可重试签名、不再重试的失败。
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s failed permanently: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient 报告 err 是否为重试耗尽的临时性失败。
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
