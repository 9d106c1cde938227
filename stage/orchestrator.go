// stage/orchestrator.go
// 分阶段执行状态机。
//
// 每个阶段：Pending → Signing → Sending → (Confirming) → (Activating) → Done，
// Signing/Sending/Confirming 可进入终态 Failed。任一阶段失败立即停止，
// 返回的结果列表长度恒等于已尝试的阶段数，便于事后复盘部分完成的运行。
package stage

import (
	"context"
	"fmt"
	"time"

	"solbundle/bundle"
	"solbundle/config"
	"solbundle/envelope"
	"solbundle/logs"
	"solbundle/preparer"
	"solbundle/relay"
	"solbundle/stats"
	"solbundle/wallet"
)

// State 阶段状态
type State int

const (
	StatePending State = iota
	StateSigning
	StateSending
	StateConfirming
	StateActivating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateSigning:
		return "Signing"
	case StateSending:
		return "Sending"
	case StateConfirming:
		return "Confirming"
	case StateActivating:
		return "Activating"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result 单个阶段的执行记录（只追加，不回改）
type Result struct {
	Index   int    `json:"index"`
	Stage   string `json:"stage"`
	Success bool   `json:"success"`
	RelayID string `json:"relayId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChunkSender 提交面（relay.Executor 满足）
type ChunkSender interface {
	SendCritical(ctx context.Context, chunk bundle.Chunk) (*relay.SendResult, error)
}

// Confirmer 确认面（relay.Poller 满足）
type Confirmer interface {
	Await(ctx context.Context, relayID string) (relay.Outcome, error)
	TreatAsLanded(o relay.Outcome) bool
}

// Orchestrator 顺序执行 preparer 给出的阶段列表。
// 无内部并行：阶段 N+1 依赖阶段 N 创建的链上状态。
type Orchestrator struct {
	sender     ChunkSender
	confirmer  Confirmer
	activation ActivationWaiter
	cfg        config.StageConfig
	maxChunk   int
	stats      *stats.Stats
	Logger     logs.Logger
}

// NewOrchestrator 创建阶段编排器
func NewOrchestrator(
	sender ChunkSender,
	confirmer Confirmer,
	activation ActivationWaiter,
	stageCfg config.StageConfig,
	bundleCfg config.BundleConfig,
	st *stats.Stats,
	logger logs.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logs.Default()
	}
	maxChunk := bundleCfg.MaxEnvelopesPerChunk
	if maxChunk <= 0 {
		maxChunk = bundle.DefaultMaxPerChunk
	}
	return &Orchestrator{
		sender:     sender,
		confirmer:  confirmer,
		activation: activation,
		cfg:        stageCfg,
		maxChunk:   maxChunk,
		stats:      st,
		Logger:     logger,
	}
}

// Run 依序执行全部阶段。
// 返回的结果数等于已尝试的阶段数；失败时附带非 nil 错误，
// 已完成阶段的结果保留给调用方复盘。
func (o *Orchestrator) Run(ctx context.Context, stages []preparer.Stage, keys *wallet.KeySet, lookupTable string) ([]Result, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages to run")
	}

	results := make([]Result, 0, len(stages))
	for i, st := range stages {
		start := time.Now()
		res, err := o.runStage(ctx, i, st, keys, lookupTable)
		results = append(results, res)
		o.recordLatency("stage.run", time.Since(start))

		if err != nil {
			o.recordEvent("stage_failed")
			o.Logger.Error("[Orchestrator] stage %d/%d (%s) failed: %v", i+1, len(stages), st.Name, err)
			return results, fmt.Errorf("stage %d (%s): %w", i+1, st.Name, err)
		}
		o.recordEvent("stage_done")
		o.Logger.Info("[Orchestrator] stage %d/%d (%s) done in %v", i+1, len(stages), st.Name, time.Since(start))

		// 阶段间隔，最后一个阶段后不等
		if i < len(stages)-1 && o.cfg.InterStageDelay > 0 {
			if err := sleepCtx(ctx, o.cfg.InterStageDelay); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// runStage 单个阶段的状态机
func (o *Orchestrator) runStage(ctx context.Context, idx int, st preparer.Stage, keys *wallet.KeySet, lookupTable string) (Result, error) {
	res := Result{Index: idx, Stage: st.Name}

	// 流水线首个信封的预签付费方例外：第 0 阶段，
	// 或 preparer 命名为 Deployment 的阶段（其第一笔历来由临时付费方预签）
	firstInPipeline := idx == 0 || st.Name == "Deployment"

	state := StatePending
	var signed []string
	var relayIDs []string

	fail := func(err error) (Result, error) {
		o.logTransition(idx, st.Name, state, StateFailed)
		res.Success = false
		res.Error = err.Error()
		return res, err
	}

	for {
		switch state {
		case StatePending:
			o.logTransition(idx, st.Name, state, StateSigning)
			state = StateSigning

		case StateSigning:
			out, err := envelope.CompleteAll(st.Transactions, keys, firstInPipeline)
			if err != nil {
				return fail(fmt.Errorf("signing: %w", err))
			}
			signed = out
			o.logTransition(idx, st.Name, state, StateSending)
			state = StateSending

		case StateSending:
			chunks := bundle.SplitFlat(signed, o.maxChunk)
			if len(chunks) > 1 {
				o.Logger.Warn("[Orchestrator] stage %d (%s) oversized: %d envelopes split into %d chunks",
					idx, st.Name, len(signed), len(chunks))
			}
			for _, chunk := range chunks {
				sent, err := o.sender.SendCritical(ctx, chunk)
				if err != nil {
					return fail(fmt.Errorf("sending: %w", err))
				}
				relayIDs = append(relayIDs, sent.RelayID)
			}
			res.RelayID = relayIDs[0]

			if st.RequiresConfirmation {
				o.logTransition(idx, st.Name, state, StateConfirming)
				state = StateConfirming
			} else {
				o.logTransition(idx, st.Name, state, StateDone)
				state = StateDone
			}

		case StateConfirming:
			for _, relayID := range relayIDs {
				outcome, err := o.confirmer.Await(ctx, relayID)
				if err != nil {
					return fail(fmt.Errorf("confirming %s: %w", relayID, err))
				}
				if outcome == relay.OutcomeFailed {
					return fail(fmt.Errorf("confirming %s: relay reported failure", relayID))
				}
				if !o.confirmer.TreatAsLanded(outcome) {
					return fail(fmt.Errorf("confirming %s: outcome %s not accepted", relayID, outcome))
				}
			}
			if st.WaitForActivation {
				o.logTransition(idx, st.Name, state, StateActivating)
				state = StateActivating
			} else {
				o.logTransition(idx, st.Name, state, StateDone)
				state = StateDone
			}

		case StateActivating:
			if err := o.activation.WaitActive(ctx, lookupTable); err != nil {
				if ctx.Err() != nil {
					return fail(err)
				}
				// 激活验证失败不算阶段失败：后续阶段若真引用不了，
				// 会在各自的提交路径上暴露
				o.Logger.Warn("[Orchestrator] stage %d (%s) activation wait: %v", idx, st.Name, err)
			}
			o.logTransition(idx, st.Name, state, StateDone)
			state = StateDone

		case StateDone:
			res.Success = true
			return res, nil
		}
	}
}

func (o *Orchestrator) logTransition(idx int, name string, from, to State) {
	o.Logger.Debug("[Orchestrator] stage %d (%s): %s -> %s", idx, name, from, to)
}

func (o *Orchestrator) recordEvent(name string) {
	if o.stats != nil {
		o.stats.RecordEvent(name)
	}
}

func (o *Orchestrator) recordLatency(name string, d time.Duration) {
	if o.stats != nil {
		o.stats.RecordLatency(name, d.Nanoseconds())
	}
}

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
