// relay/executor_test.go
package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbundle/bundle"
	"solbundle/config"
	"solbundle/logs"
	"solbundle/stats"
)

// fakeClient 函数字段桩，各测试按需覆盖
type fakeClient struct {
	submitFn func(ctx context.Context, chunk bundle.Chunk) (string, error)
	statusFn func(ctx context.Context, relayID string) (Status, error)
}

func (f *fakeClient) Submit(ctx context.Context, chunk bundle.Chunk) (string, error) {
	if f.submitFn == nil {
		return "", fmt.Errorf("submit not stubbed")
	}
	return f.submitFn(ctx, chunk)
}

func (f *fakeClient) Status(ctx context.Context, relayID string) (Status, error) {
	if f.statusFn == nil {
		return StatusPending, fmt.Errorf("status not stubbed")
	}
	return f.statusFn(ctx, relayID)
}

// 测试用的快速重试配置
func fastRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:          50,
		MaxConsecutiveErrors: 3,
		BaseDelay:            time.Millisecond,
		MaxDelay:             5 * time.Millisecond,
		JitterFactor:         0.15,
		InterChunkDelay:      time.Millisecond,
	}
}

func newTestExecutor(client Client, cfg config.RetryConfig) *Executor {
	return NewExecutor(client, NewRegistry(64), cfg, stats.NewStats(), logs.Nop{})
}

// TestSendCriticalSuccess 测试失败若干次后成功
func TestSendCriticalSuccess(t *testing.T) {
	calls := 0
	client := &fakeClient{
		submitFn: func(ctx context.Context, chunk bundle.Chunk) (string, error) {
			calls++
			if calls < 3 {
				return "", fmt.Errorf("connection refused")
			}
			return "relay-7", nil
		},
	}
	ex := newTestExecutor(client, fastRetryConfig())

	res, err := ex.SendCritical(context.Background(), bundle.Chunk{"tx1"})
	require.NoError(t, err)
	assert.Equal(t, "relay-7", res.RelayID)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, calls)
}

// TestSendCriticalConsecutiveRejections 测试连续确定性拒绝快速放弃
func TestSendCriticalConsecutiveRejections(t *testing.T) {
	calls := 0
	client := &fakeClient{
		submitFn: func(ctx context.Context, chunk bundle.Chunk) (string, error) {
			calls++
			return "", &RejectedError{Reason: "bad signature"}
		},
	}
	ex := newTestExecutor(client, fastRetryConfig())

	_, err := ex.SendCritical(context.Background(), bundle.Chunk{"tx1"})
	require.Error(t, err)
	// MaxAttempts 还远未耗尽，但 3 次连续拒绝就停
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "consecutive rejections")
}

// TestSendCriticalTransientResetsStreak 测试传输失败打断连续拒绝计数
func TestSendCriticalTransientResetsStreak(t *testing.T) {
	// 拒、拒、传输失败、拒、拒、成功：不会触发 3 连拒
	script := []error{
		&RejectedError{Reason: "busy"},
		&RejectedError{Reason: "busy"},
		fmt.Errorf("timeout"),
		&RejectedError{Reason: "busy"},
		&RejectedError{Reason: "busy"},
		nil,
	}
	calls := 0
	client := &fakeClient{
		submitFn: func(ctx context.Context, chunk bundle.Chunk) (string, error) {
			err := script[calls]
			calls++
			if err != nil {
				return "", err
			}
			return "relay-ok", nil
		},
	}
	ex := newTestExecutor(client, fastRetryConfig())

	res, err := ex.SendCritical(context.Background(), bundle.Chunk{"tx1"})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Attempts)
}

// TestSendCriticalAttemptBudget 测试总次数预算上限
func TestSendCriticalAttemptBudget(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.MaxAttempts = 5

	calls := 0
	client := &fakeClient{
		submitFn: func(ctx context.Context, chunk bundle.Chunk) (string, error) {
			calls++
			return "", fmt.Errorf("connection refused") // 一直是传输失败
		},
	}
	ex := newTestExecutor(client, cfg)

	_, err := ex.SendCritical(context.Background(), bundle.Chunk{"tx1"})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Contains(t, err.Error(), "exhausted 5 attempts")
}

// TestSendCriticalContextCancel 测试退避期间可取消
func TestSendCriticalContextCancel(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.BaseDelay = 200 * time.Millisecond
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{
		submitFn: func(ctx context.Context, chunk bundle.Chunk) (string, error) {
			cancel() // 第一次失败后立刻取消
			return "", fmt.Errorf("unreachable")
		},
	}
	ex := newTestExecutor(client, cfg)

	start := time.Now()
	_, err := ex.SendCritical(ctx, bundle.Chunk{"tx1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	// 不应等满一个完整退避周期
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

// TestSendFollowupSingleAttempt 测试后续 chunk 只提交一次
func TestSendFollowupSingleAttempt(t *testing.T) {
	calls := 0
	client := &fakeClient{
		submitFn: func(ctx context.Context, chunk bundle.Chunk) (string, error) {
			calls++
			return "", fmt.Errorf("connection refused")
		},
	}
	ex := newTestExecutor(client, fastRetryConfig())

	_, err := ex.SendFollowup(context.Background(), bundle.Chunk{"tx2"}, 1)
	require.Error(t, err)
	assert.Equal(t, 1, calls, "follow-up chunks must not retry")
}

// TestSendFollowupIndexDelay 测试按序号等比延迟
func TestSendFollowupIndexDelay(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.InterChunkDelay = 30 * time.Millisecond

	client := &fakeClient{
		submitFn: func(ctx context.Context, chunk bundle.Chunk) (string, error) {
			return "relay-x", nil
		},
	}
	ex := newTestExecutor(client, cfg)

	start := time.Now()
	_, err := ex.SendFollowup(context.Background(), bundle.Chunk{"tx3"}, 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

// TestExecutorDeduplicates 测试同一内容的重复提交直接复用 relayID
func TestExecutorDeduplicates(t *testing.T) {
	calls := 0
	client := &fakeClient{
		submitFn: func(ctx context.Context, chunk bundle.Chunk) (string, error) {
			calls++
			return "relay-first", nil
		},
	}
	ex := newTestExecutor(client, fastRetryConfig())
	chunk := bundle.Chunk{"tx-same"}

	res1, err := ex.SendCritical(context.Background(), chunk)
	require.NoError(t, err)
	assert.False(t, res1.Reused)

	res2, err := ex.SendCritical(context.Background(), chunk)
	require.NoError(t, err)
	assert.True(t, res2.Reused)
	assert.Equal(t, "relay-first", res2.RelayID)
	assert.Equal(t, 1, calls, "second send must not hit the relay")
}

// TestBackoffDelayBounds 测试退避公式的范围
func TestBackoffDelayBounds(t *testing.T) {
	cfg := config.RetryConfig{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		JitterFactor: 0.15,
	}
	ex := NewExecutor(&fakeClient{}, nil, cfg, nil, logs.Nop{})

	for attempt := 1; attempt <= 20; attempt++ {
		d := ex.backoffDelay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		// 上限 = MaxDelay * (1 + JitterFactor)
		assert.LessOrEqual(t, d, time.Duration(float64(cfg.MaxDelay)*1.15)+time.Millisecond)
	}

	// 第 1 次退避约为 base*1.5 ± 15%
	d := ex.backoffDelay(1)
	assert.GreaterOrEqual(t, d, time.Duration(float64(150*time.Millisecond)*0.84))
	assert.LessOrEqual(t, d, time.Duration(float64(150*time.Millisecond)*1.16))
}
