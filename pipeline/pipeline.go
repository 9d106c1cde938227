// pipeline/pipeline.go
// 操作级门面：distribute / mix / create 三个入口组合下层组件，
// 对外只返回结构化结果，错误带类别。
//
// 一次调用内严格串行：批次、chunk、阶段彼此依赖前者创建的链上状态，
// 不做内部并行。多次独立调用之间无共享可变状态。
package pipeline

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
	"solbundle/stage"
	"solbundle/stats"
	"solbundle/wallet"
)

// Preparer 交易构造面（preparer.Client 满足）
type Preparer interface {
	Prepare(ctx context.Context, req *preparer.Request) (*preparer.Plan, error)
}

// ChunkSender 提交面（relay.Executor 满足）
type ChunkSender interface {
	SendCritical(ctx context.Context, chunk bundle.Chunk) (*relay.SendResult, error)
	SendFollowup(ctx context.Context, chunk bundle.Chunk, index int) (*relay.SendResult, error)
}

// Confirmer 确认面（relay.Poller 满足）
type Confirmer interface {
	Await(ctx context.Context, relayID string) (relay.Outcome, error)
	TreatAsLanded(o relay.Outcome) bool
}

// StageRunner 分阶段执行面（stage.Orchestrator 满足）
type StageRunner interface {
	Run(ctx context.Context, stages []preparer.Stage, keys *wallet.KeySet, lookupTable string) ([]stage.Result, error)
}

// Recorder 运行记录面（journal.Journal 满足），可为 nil。
// 记录失败只告警不影响流水线。
type Recorder interface {
	StartRun(operation string) (string, error)
	FinishRun(runID string, success bool, errMsg string) error
	RecordChunk(runID string, index int, relayID string, landed bool, errMsg string) error
	RecordStage(runID string, index int, name string, success bool, relayID string, errMsg string) error
}

// Pipeline 操作门面
type Pipeline struct {
	preparer  Preparer
	sender    ChunkSender
	confirmer Confirmer
	stages    StageRunner
	recorder  Recorder
	cfg       config.PipelineConfig
	maxChunk  int
	stats     *stats.Stats
	Logger    logs.Logger
}

// New 创建流水线门面。recorder 与 st 允许为 nil。
func New(
	prep Preparer,
	sender ChunkSender,
	confirmer Confirmer,
	stages StageRunner,
	recorder Recorder,
	cfg config.PipelineConfig,
	bundleCfg config.BundleConfig,
	st *stats.Stats,
	logger logs.Logger,
) *Pipeline {
	if logger == nil {
		logger = logs.Default()
	}
	maxChunk := bundleCfg.MaxEnvelopesPerChunk
	if maxChunk <= 0 {
		maxChunk = bundle.DefaultMaxPerChunk
	}
	return &Pipeline{
		preparer:  prep,
		sender:    sender,
		confirmer: confirmer,
		stages:    stages,
		recorder:  recorder,
		cfg:       cfg,
		maxChunk:  maxChunk,
		stats:     st,
		Logger:    logger,
	}
}

// sendChunks 补签并依序提交一组 chunk。
// 第 0 个 chunk 走关键路径：带重试提交，然后等待确认，失败终止整组；
// 其余 chunk 单次提交，失败只记录不终止（部分成功由结果计数体现）。
// 返回的结果覆盖所有已尝试的 chunk；baseIndex 是本组首个 chunk 的全局序号。
func (p *Pipeline) sendChunks(
	ctx context.Context,
	runID string,
	batch int,
	baseIndex int,
	chunks []bundle.Chunk,
	keys *wallet.KeySet,
	firstInPipeline bool,
) ([]ChunkResult, error) {
	// 先补签全部：任一信封缺私钥则整组失败，一笔都不发
	signed := make([]bundle.Chunk, 0, len(chunks))
	for i, chunk := range chunks {
		out, err := envelope.CompleteAll([]string(chunk), keys, firstInPipeline && i == 0)
		if err != nil {
			return nil, &Error{Kind: KindSigning, Err: fmt.Errorf("chunk %d: %w", baseIndex+i, err)}
		}
		signed = append(signed, bundle.Chunk(out))
	}
	signed = bundle.Split(signed, p.maxChunk)

	results := make([]ChunkResult, 0, len(signed))
	for i, chunk := range signed {
		res := ChunkResult{Index: baseIndex + i, Batch: batch}

		if i == 0 {
			sent, err := p.sender.SendCritical(ctx, chunk)
			if err != nil {
				res.Error = err.Error()
				results = append(results, res)
				p.recordChunk(runID, res)
				return results, &Error{Kind: KindRelay, Err: err}
			}
			res.RelayID = sent.RelayID

			outcome, err := p.confirmer.Await(ctx, sent.RelayID)
			if err != nil {
				res.Error = err.Error()
				results = append(results, res)
				p.recordChunk(runID, res)
				return results, &Error{Kind: KindConfirmation, Err: err}
			}
			if outcome == relay.OutcomeFailed || !p.confirmer.TreatAsLanded(outcome) {
				err := fmt.Errorf("chunk %d (%s) not confirmed: %s", res.Index, sent.RelayID, outcome)
				res.Error = err.Error()
				results = append(results, res)
				p.recordChunk(runID, res)
				return results, &Error{Kind: KindConfirmation, Err: err}
			}
			res.Success = true
			results = append(results, res)
			p.recordChunk(runID, res)
			continue
		}

		sent, err := p.sender.SendFollowup(ctx, chunk, i)
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			p.recordChunk(runID, res)
			p.recordEvent("followup_failed")
			p.Logger.Warn("[Pipeline] followup chunk %d failed: %v", res.Index, err)
			if ctx.Err() != nil {
				return results, &Error{Kind: KindRelay, Err: ctx.Err()}
			}
			continue
		}
		res.Success = true
		res.RelayID = sent.RelayID
		results = append(results, res)
		p.recordChunk(runID, res)
	}
	return results, nil
}

// fail 统一失败出口：补齐结果字段、落日志与运行记录
func (p *Pipeline) fail(res *Result, err error) (*Result, error) {
	res.Success = false
	res.Error = err.Error()
	p.finishRun(res.RunID, false, res.Error)
	p.recordEvent("pipeline_failed")
	p.Logger.Error("[Pipeline] %s failed: %v", res.Operation, err)
	return res, err
}

func (p *Pipeline) succeed(res *Result) (*Result, error) {
	res.Success = true
	p.finishRun(res.RunID, true, "")
	p.recordEvent("pipeline_done")
	return res, nil
}

func (p *Pipeline) startRun(res *Result) {
	if p.recorder == nil {
		return
	}
	id, err := p.recorder.StartRun(string(res.Operation))
	if err != nil {
		p.Logger.Warn("[Pipeline] journal start run: %v", err)
		return
	}
	res.RunID = id
}

func (p *Pipeline) finishRun(runID string, success bool, errMsg string) {
	if p.recorder == nil || runID == "" {
		return
	}
	if err := p.recorder.FinishRun(runID, success, errMsg); err != nil {
		p.Logger.Warn("[Pipeline] journal finish run %s: %v", runID, err)
	}
}

func (p *Pipeline) recordChunk(runID string, res ChunkResult) {
	if p.recorder == nil || runID == "" {
		return
	}
	if err := p.recorder.RecordChunk(runID, res.Index, res.RelayID, res.Success, res.Error); err != nil {
		p.Logger.Warn("[Pipeline] journal chunk %d: %v", res.Index, err)
	}
}

func (p *Pipeline) recordStages(runID string, results []stage.Result) {
	if p.recorder == nil || runID == "" {
		return
	}
	for _, sr := range results {
		if err := p.recorder.RecordStage(runID, sr.Index, sr.Stage, sr.Success, sr.RelayID, sr.Error); err != nil {
			p.Logger.Warn("[Pipeline] journal stage %d: %v", sr.Index, err)
		}
	}
}

func (p *Pipeline) recordEvent(name string) {
	if p.stats != nil {
		p.stats.RecordEvent(name)
	}
}

func (p *Pipeline) recordLatency(name string, d time.Duration) {
	if p.stats != nil {
		p.stats.RecordLatency(name, d.Nanoseconds())
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
