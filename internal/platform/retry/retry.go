// Package retry 为外部 AI/检索服务的易失败调用提供有界指数退避重试。
package retry

import (
	"context"
	"strings"
	"time"

	applog "linguaweave/internal/platform/log"
)

// Policy 重试策略（值对象，不持有状态）。
type Policy struct {
	Name              string
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// RetryableErrors 可重试错误签名（大小写不敏感的子串匹配）。
	RetryableErrors []string
}

var defaultSignatures = []string{
	"timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"service unavailable",
	"status 429",
	"status 502",
	"status 503",
	"rate limit",
	"overloaded",
}

// TranslationPolicy 语言检测/翻译调用：短退避、少尝试。
func TranslationPolicy() Policy {
	return Policy{
		Name:              "translation",
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2,
		RetryableErrors:   defaultSignatures,
	}
}

// GenerationPolicy 检索+生成调用：退避更长，尝试次数与翻译一致。
func GenerationPolicy() Policy {
	return Policy{
		Name:              "generation",
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          8 * time.Second,
		BackoffMultiplier: 2,
		RetryableErrors:   defaultSignatures,
	}
}

// ClassificationPolicy 意图/类目等轻量分类调用。
func ClassificationPolicy() Policy {
	return Policy{
		Name:              "classification",
		MaxAttempts:       2,
		InitialDelay:      150 * time.Millisecond,
		MaxDelay:          1 * time.Second,
		BackoffMultiplier: 2,
		RetryableErrors:   defaultSignatures,
	}
}

// sleep 可在测试中替换，用于观测退避行为。
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do 按策略执行 op，最多 p.MaxAttempts 次。
// 不可重试的错误立即以 *PermanentError 返回；
// 重试耗尽后最后一次错误以 *TransientError 返回。
// 最后一次尝试之后不再退避等待。
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.Retryable(err) {
			return zero, &PermanentError{Op: p.Name, Err: err}
		}
		if attempt == attempts {
			break
		}

		delay := p.delay(attempt)
		applog.Warn("[Retry] Attempt failed, backing off",
			"policy", p.Name,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay.String(),
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, &TransientError{Op: p.Name, Attempts: attempt, Err: lastErr}
		}
	}

	return zero, &TransientError{Op: p.Name, Attempts: attempts, Err: lastErr}
}

// Retryable 判断错误消息是否命中任一可重试签名。
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range p.RetryableErrors {
		if strings.Contains(msg, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}

// delay = min(initial * multiplier^(attempt-1), max)，无抖动。
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffMultiplier
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
