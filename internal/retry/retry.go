// internal/retry/retry.go
package retry

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Executor 以有界指数退避包装不可靠的远程调用。
// 退避序列为 baseDelay * 2^(attempt-1)，不加抖动。
type Executor struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep 可注入，测试时替换以免真实等待
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor 创建默认执行器：最多3次尝试，基础延迟1秒
func NewExecutor() *Executor {
	return &Executor{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		sleep:       sleepContext,
	}
}

// NewExecutorForTests 创建带可注入sleep的执行器
func NewExecutorForTests(maxAttempts int, baseDelay time.Duration, sleep func(ctx context.Context, d time.Duration) error) *Executor {
	return &Executor{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		sleep:       sleep,
	}
}

// Do 重复执行fn直到成功或尝试次数耗尽。
// 耗尽后返回带label的聚合错误并包装最后一次失败，
// 调用方无需逐个检查此前的失败。
// 各次尝试之间的半成品状态清理由operation自身负责。
func Do[T any](ctx context.Context, ex *Executor, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	maxAttempts := ex.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := ex.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			delay := ex.BaseDelay * (1 << (attempt - 1))
			log.Printf("%s 失败 (第 %d/%d 次): %v，%v 后重试", label, attempt, maxAttempts, err, delay)
			if sleepErr := sleep(ctx, delay); sleepErr != nil {
				return zero, sleepErr
			}
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", label, maxAttempts, lastErr)
}

// sleepContext 等待指定时长，上下文取消时提前返回
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
