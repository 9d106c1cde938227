// relay/executor.go
// 提交执行器：关键 chunk 带退避重试，后续 chunk 单次提交。
//
// 关键 chunk 策略（默认用于每条流水线的第一个 chunk）：
//   - 最多 MaxAttempts 次提交；
//   - 中继连续确定性拒绝 MaxConsecutiveErrors 次立即放弃——
//     内容性坏块（坏签名、坏负载）每次必被拒，没必要耗完预算；
//   - 传输层失败只消耗次数预算，不计入连续拒绝；
//   - 退避 = BaseDelay * 1.5^attempt * (1 ± JitterFactor)，上限 MaxDelay。
//
// 后续 chunk 策略：单次提交，提交前按 chunk 序号等比延迟；
// 失败由调用方记录，不在这里重试。
package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"solbundle/bundle"
	"solbundle/config"
	"solbundle/logs"
	"solbundle/stats"
)

// SendResult 一次成功提交的结果
type SendResult struct {
	RelayID  string
	Attempts int
	// Reused 为 true 表示该 chunk 内容近期已提交过，直接复用了原 relayID
	Reused bool
}

// ErrChunkInflight 同一 chunk 内容的提交仍在进行中
var ErrChunkInflight = errors.New("chunk submission already in flight")

// Executor 提交执行器
type Executor struct {
	client   Client
	registry *Registry
	cfg      config.RetryConfig
	stats    *stats.Stats
	Logger   logs.Logger
}

// NewExecutor 创建执行器；registry 可为 nil（关闭重复提交防护）
func NewExecutor(client Client, registry *Registry, cfg config.RetryConfig, st *stats.Stats, logger logs.Logger) *Executor {
	if logger == nil {
		logger = logs.Default()
	}
	return &Executor{
		client:   client,
		registry: registry,
		cfg:      cfg,
		stats:    st,
		Logger:   logger,
	}
}

// SendCritical 按关键 chunk 策略提交。
// 返回错误即为终态失败，调用方应中止流水线。
func (e *Executor) SendCritical(ctx context.Context, chunk bundle.Chunk) (*SendResult, error) {
	if len(chunk) == 0 {
		return nil, fmt.Errorf("empty chunk")
	}

	if res, err := e.beginGuarded(chunk); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}
	id := ChunkIdentity(chunk)
	defer e.registryEnd(id)

	maxAttempts := e.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	maxConsecutive := e.cfg.MaxConsecutiveErrors
	if maxConsecutive <= 0 {
		maxConsecutive = 1
	}

	var lastErr error
	consecutiveRejections := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		relayID, err := e.client.Submit(ctx, chunk)
		e.recordLatency("relay.submit", time.Since(start))

		if err == nil {
			e.recordEvent("chunk_submitted")
			e.registryMark(id, relayID)
			e.Logger.Info("[Executor] chunk %016x accepted on attempt %d/%d, relayId=%s",
				id, attempt, maxAttempts, relayID)
			return &SendResult{RelayID: relayID, Attempts: attempt}, nil
		}

		lastErr = err
		e.recordEvent("submit_error")

		var rejected *RejectedError
		if errors.As(err, &rejected) {
			consecutiveRejections++
			e.recordEvent("submit_rejected")
			if consecutiveRejections >= maxConsecutive {
				e.Logger.Error("[Executor] chunk %016x rejected %d times in a row, giving up: %v",
					id, consecutiveRejections, err)
				return nil, fmt.Errorf("aborted after %d consecutive rejections: %w", consecutiveRejections, err)
			}
		} else {
			// 传输层失败不构成"连续拒绝"
			consecutiveRejections = 0
		}

		if attempt == maxAttempts {
			break
		}

		backoff := e.backoffDelay(attempt)
		e.Logger.Debug("[Executor] chunk %016x attempt %d/%d failed, retry in %v (err=%v)",
			id, attempt, maxAttempts, backoff, err)
		e.recordEvent("submit_retry")
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
	}

	e.Logger.Error("[Executor] chunk %016x exhausted %d attempts: %v", id, maxAttempts, lastErr)
	return nil, fmt.Errorf("exhausted %d attempts: %w", maxAttempts, lastErr)
}

// SendFollowup 按后续 chunk 策略提交：先按序号等比延迟，再单次提交。
// index 从 1 开始计（0 号是关键 chunk）。
func (e *Executor) SendFollowup(ctx context.Context, chunk bundle.Chunk, index int) (*SendResult, error) {
	if len(chunk) == 0 {
		return nil, fmt.Errorf("empty chunk")
	}
	if index > 0 && e.cfg.InterChunkDelay > 0 {
		if err := sleepCtx(ctx, time.Duration(index)*e.cfg.InterChunkDelay); err != nil {
			return nil, err
		}
	}

	if res, err := e.beginGuarded(chunk); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}
	id := ChunkIdentity(chunk)
	defer e.registryEnd(id)

	start := time.Now()
	relayID, err := e.client.Submit(ctx, chunk)
	e.recordLatency("relay.submit", time.Since(start))
	if err != nil {
		e.recordEvent("submit_error")
		e.Logger.Warn("[Executor] follow-up chunk %d (%016x) failed: %v", index, id, err)
		return nil, err
	}

	e.recordEvent("chunk_submitted")
	e.registryMark(id, relayID)
	e.Logger.Info("[Executor] follow-up chunk %d (%016x) accepted, relayId=%s", index, id, relayID)
	return &SendResult{RelayID: relayID, Attempts: 1}, nil
}

// backoffDelay 第 attempt 次失败后的退避时长
func (e *Executor) backoffDelay(attempt int) time.Duration {
	base := e.cfg.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoff := time.Duration(float64(base) * math.Pow(1.5, float64(attempt)))

	// 限制最大退避时间
	if e.cfg.MaxDelay > 0 && backoff > e.cfg.MaxDelay {
		backoff = e.cfg.MaxDelay
	}

	// 添加随机抖动：±JitterFactor（例如 ±15%）
	jitterFactor := e.cfg.JitterFactor
	if jitterFactor <= 0 {
		jitterFactor = 0.15
	}
	jitterRange := float64(backoff) * jitterFactor
	jitter := time.Duration(jitterRange * (rand.Float64()*2 - 1))
	backoff += jitter

	if backoff < 0 {
		backoff = 0
	}
	return backoff
}

// beginGuarded 提交前过登记表：近期已提交的直接复用 relayID，
// 在途的拒绝并返回 ErrChunkInflight。两个返回值都为 nil 时才允许提交。
func (e *Executor) beginGuarded(chunk bundle.Chunk) (*SendResult, error) {
	if e.registry == nil {
		return nil, nil
	}
	if relayID, ok := e.registry.SubmittedRelayID(chunk); ok {
		e.recordEvent("chunk_dedup")
		e.Logger.Warn("[Executor] chunk %016x already submitted recently, reusing relayId=%s",
			ChunkIdentity(chunk), relayID)
		return &SendResult{RelayID: relayID, Attempts: 0, Reused: true}, nil
	}
	if _, ok := e.registry.Begin(chunk); !ok {
		return nil, ErrChunkInflight
	}
	return nil, nil
}

func (e *Executor) registryEnd(id uint64) {
	if e.registry != nil {
		e.registry.End(id)
	}
}

func (e *Executor) registryMark(id uint64, relayID string) {
	if e.registry != nil {
		e.registry.MarkSubmitted(id, relayID)
	}
}

func (e *Executor) recordEvent(name string) {
	if e.stats != nil {
		e.stats.RecordEvent(name)
	}
}

func (e *Executor) recordLatency(name string, d time.Duration) {
	if e.stats != nil {
		e.stats.RecordLatency(name, d.Nanoseconds())
	}
}

// sleepCtx 可取消的睡眠：重试退避、chunk 间隔等所有等待都走这里
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
