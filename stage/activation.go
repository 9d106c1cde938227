// stage/activation.go
// 地址查找表激活等待策略。
// 新建的查找表要过一段时间才能被后续交易引用；客户端无法廉价地
// 验证激活，默认用固定等待，严格模式轮询链上账户可见性。
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"solbundle/config"
	"solbundle/logs"
)

// ActivationWaiter 激活等待策略
type ActivationWaiter interface {
	// WaitActive 阻塞到查找表可用（或策略认为可用）为止
	WaitActive(ctx context.Context, lookupTable string) error
}

// FixedDelayWaiter 固定等待：不验证，睡满配置时长
type FixedDelayWaiter struct {
	Delay  time.Duration
	Logger logs.Logger
}

func (w *FixedDelayWaiter) WaitActive(ctx context.Context, lookupTable string) error {
	delay := w.Delay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	if w.Logger != nil {
		w.Logger.Info("[Activation] waiting fixed %v for lookup table %s", delay, lookupTable)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accountReader RPC 读账户的最小面，测试可替换
type accountReader interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// RPCWaiter 轮询等待：查询查找表账户直到可见。
// 账户可见不等于完全激活，但比纯粹睡觉严格得多。
type RPCWaiter struct {
	client   accountReader
	interval time.Duration
	timeout  time.Duration
	Logger   logs.Logger
}

// NewRPCWaiter 创建 RPC 轮询等待器
func NewRPCWaiter(endpoint string, interval, timeout time.Duration, logger logs.Logger) *RPCWaiter {
	if logger == nil {
		logger = logs.Default()
	}
	return &RPCWaiter{
		client:   rpc.New(endpoint),
		interval: interval,
		timeout:  timeout,
		Logger:   logger,
	}
}

func (w *RPCWaiter) WaitActive(ctx context.Context, lookupTable string) error {
	if lookupTable == "" {
		return fmt.Errorf("no lookup table address to verify")
	}
	pub, err := solana.PublicKeyFromBase58(lookupTable)
	if err != nil {
		return fmt.Errorf("bad lookup table address %q: %w", lookupTable, err)
	}

	interval := w.interval
	if interval <= 0 {
		interval = time.Second
	}
	timeout := w.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	start := time.Now()
	for {
		out, err := w.client.GetAccountInfo(ctx, pub)
		if err == nil && out != nil && out.Value != nil {
			w.Logger.Info("[Activation] lookup table %s visible after %v", lookupTable, time.Since(start))
			return nil
		}
		if err != nil && !errors.Is(err, rpc.ErrNotFound) {
			w.Logger.Debug("[Activation] rpc error for %s: %v", lookupTable, err)
		}

		if time.Since(start)+interval > timeout {
			return fmt.Errorf("lookup table %s not visible within %v", lookupTable, timeout)
		}
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
}

// NewActivationWaiter 按配置装配激活策略
func NewActivationWaiter(cfg config.StageConfig, logger logs.Logger) ActivationWaiter {
	if cfg.ActivationMode == "rpc" {
		return NewRPCWaiter(cfg.RPCEndpoint, cfg.ActivationPollInterval, cfg.ActivationPollTimeout, logger)
	}
	return &FixedDelayWaiter{Delay: cfg.ActivationWait, Logger: logger}
}
