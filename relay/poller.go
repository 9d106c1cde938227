// relay/poller.go
// 落地确认轮询：按固定间隔查状态直到超时。
// 三种结局：Landed（显式确认）、Failed（显式失败）、Unknown（超时仍无定论）。
// Unknown 是否当作已落地由 Confirm.TreatUnknownAsLanded 决定，调用方查询 TreatAsLanded。
package relay

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"solbundle/config"
	"solbundle/logs"
	"solbundle/stats"
)

// Outcome 一次确认轮询的结局
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeLanded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLanded:
		return "landed"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Poller 确认轮询器
type Poller struct {
	client Client
	cfg    config.ConfirmConfig
	landed *lru.Cache // relayID -> struct{}，已确认落地的缓存
	stats  *stats.Stats
	Logger logs.Logger
}

// NewPoller 创建确认轮询器
func NewPoller(client Client, cfg config.ConfirmConfig, st *stats.Stats, logger logs.Logger) *Poller {
	if logger == nil {
		logger = logs.Default()
	}
	size := cfg.LandedCacheSize
	if size <= 0 {
		size = 1024
	}
	landed, _ := lru.New(size)
	return &Poller{
		client: client,
		cfg:    cfg,
		landed: landed,
		stats:  st,
		Logger: logger,
	}
}

// Await 轮询 relayID 直到落地、失败或超时。
// 状态端点的瞬态错误不终止轮询，只记录；显式 failed 或错误载荷立即返回 Failed。
// 超时返回 Unknown，由调用方结合 TreatAsLanded 决定风险取舍。
func (p *Poller) Await(ctx context.Context, relayID string) (Outcome, error) {
	if relayID == "" {
		return OutcomeFailed, fmt.Errorf("empty relay id")
	}
	if p.landed.Contains(relayID) {
		return OutcomeLanded, nil
	}

	interval := p.cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	start := time.Now()
	polls := 0
	for {
		polls++
		status, err := p.client.Status(ctx, relayID)
		if err != nil {
			// 状态端点不可靠是常态，瞬态错误继续轮询
			p.recordEvent("status_error")
			p.Logger.Debug("[Poller] status %s poll %d error: %v", relayID, polls, err)
		} else {
			switch status {
			case StatusLanded:
				p.landed.Add(relayID, struct{}{})
				p.recordEvent("chunk_landed")
				p.recordLatency("relay.confirm", time.Since(start))
				p.Logger.Info("[Poller] %s landed after %v (%d polls)", relayID, time.Since(start), polls)
				return OutcomeLanded, nil
			case StatusFailed:
				p.recordEvent("chunk_failed")
				p.Logger.Warn("[Poller] %s reported failed after %v (%d polls)", relayID, time.Since(start), polls)
				return OutcomeFailed, nil
			}
		}

		if time.Since(start)+interval > timeout {
			break
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return OutcomeUnknown, err
		}
	}

	p.recordEvent("confirm_timeout")
	p.Logger.Warn("[Poller] %s still unconfirmed after %v (%d polls)", relayID, time.Since(start), polls)
	return OutcomeUnknown, nil
}

// TreatAsLanded 按配置解释结局：Landed 恒为真，
// Unknown 在 TreatUnknownAsLanded 打开时当作已落地（历史默认行为）。
func (p *Poller) TreatAsLanded(o Outcome) bool {
	switch o {
	case OutcomeLanded:
		return true
	case OutcomeUnknown:
		return p.cfg.TreatUnknownAsLanded
	default:
		return false
	}
}

func (p *Poller) recordEvent(name string) {
	if p.stats != nil {
		p.stats.RecordEvent(name)
	}
}

func (p *Poller) recordLatency(name string, d time.Duration) {
	if p.stats != nil {
		p.stats.RecordLatency(name, d.Nanoseconds())
	}
}
