// pipeline/pipeline_test.go
// 三个门面共用的测试桩与构造辅助
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"solbundle/bundle"
	"solbundle/config"
	"solbundle/logs"
	"solbundle/preparer"
	"solbundle/relay"
	"solbundle/stage"
	"solbundle/stats"
	"solbundle/wallet"
)

// buildEnvelope 构造 preparer 风格的未签名交易（签名槽位全零）
func buildEnvelope(t *testing.T, signers ...solana.PrivateKey) string {
	t.Helper()
	require.NotEmpty(t, signers)

	blockhashSeed, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	metas := make(solana.AccountMetaSlice, 0, len(signers)+1)
	for _, s := range signers {
		metas = append(metas, &solana.AccountMeta{PublicKey: s.PublicKey(), IsSigner: true, IsWritable: true})
	}
	receiver, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	metas = append(metas, &solana.AccountMeta{PublicKey: receiver.PublicKey(), IsSigner: false, IsWritable: true})

	inst := solana.NewInstruction(
		solana.SystemProgramID,
		metas,
		[]byte{2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
	)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{inst},
		solana.Hash(blockhashSeed.PublicKey()),
		solana.TransactionPayer(signers[0].PublicKey()),
	)
	require.NoError(t, err)

	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

// fakePreparer 按调用序返回预排的计划
type fakePreparer struct {
	mu    sync.Mutex
	reqs  []*preparer.Request
	plans []*preparer.Plan // 依次返回；用尽后报错
	errAt int              // 第 N 次调用返回错误（1 起计，0 不注错）
}

func (f *fakePreparer) Prepare(ctx context.Context, req *preparer.Request) (*preparer.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	if f.errAt > 0 && n == f.errAt {
		return nil, fmt.Errorf("prepare call %d refused", n)
	}
	if n > len(f.plans) {
		return nil, fmt.Errorf("no plan scripted for call %d", n)
	}
	return f.plans[n-1], nil
}

// fakeChunkSender 记录提交并可按序注错
type fakeChunkSender struct {
	mu            sync.Mutex
	critical      []bundle.Chunk
	followups     []bundle.Chunk
	criticalErrAt int // 第 N 次关键提交失败（1 起计）
	followupErrAt int // 第 N 次后续提交失败（1 起计）
}

func (f *fakeChunkSender) SendCritical(ctx context.Context, chunk bundle.Chunk) (*relay.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.critical = append(f.critical, chunk)
	n := len(f.critical)
	if f.criticalErrAt > 0 && n == f.criticalErrAt {
		return nil, fmt.Errorf("critical submit %d refused", n)
	}
	return &relay.SendResult{RelayID: fmt.Sprintf("crit-%d", n), Attempts: 1}, nil
}

func (f *fakeChunkSender) SendFollowup(ctx context.Context, chunk bundle.Chunk, index int) (*relay.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, chunk)
	n := len(f.followups)
	if f.followupErrAt > 0 && n == f.followupErrAt {
		return nil, fmt.Errorf("followup submit %d refused", n)
	}
	return &relay.SendResult{RelayID: fmt.Sprintf("follow-%d", n), Attempts: 1}, nil
}

// fakeConfirmer 固定结局的确认桩
type fakeConfirmer struct {
	mu       sync.Mutex
	awaited  []string
	outcome  relay.Outcome
	optimist bool
}

func (f *fakeConfirmer) Await(ctx context.Context, relayID string) (relay.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaited = append(f.awaited, relayID)
	return f.outcome, nil
}

func (f *fakeConfirmer) TreatAsLanded(o relay.Outcome) bool {
	if o == relay.OutcomeLanded {
		return true
	}
	return o == relay.OutcomeUnknown && f.optimist
}

// fakeStageRunner 记录入参并返回预排结果
type fakeStageRunner struct {
	stages      []preparer.Stage
	keys        *wallet.KeySet
	lookupTable string
	results     []stage.Result
	err         error
}

func (f *fakeStageRunner) Run(ctx context.Context, stages []preparer.Stage, keys *wallet.KeySet, lookupTable string) ([]stage.Result, error) {
	f.stages = stages
	f.keys = keys
	f.lookupTable = lookupTable
	return f.results, f.err
}

// fakeRecorder 记录运行日志调用
type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	finished map[string]bool
	chunks   []ChunkResult
	stages   []stage.Result
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{finished: make(map[string]bool)}
}

func (f *fakeRecorder) StartRun(operation string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, operation)
	return fmt.Sprintf("run-%d", len(f.started)), nil
}

func (f *fakeRecorder) FinishRun(runID string, success bool, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[runID] = success
	return nil
}

func (f *fakeRecorder) RecordChunk(runID string, index int, relayID string, landed bool, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, ChunkResult{Index: index, RelayID: relayID, Success: landed, Error: errMsg})
	return nil
}

func (f *fakeRecorder) RecordStage(runID string, index int, name string, success bool, relayID string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage.Result{Index: index, Stage: name, Success: success, RelayID: relayID, Error: errMsg})
	return nil
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxRecipientsPerBatch:  3,
		InterBatchDelay:        time.Millisecond,
		PlatformWalletCeilings: map[string]int{"pump": 20, "bonk": 15},
		DefaultWalletCeiling:   20,
	}
}

type testRig struct {
	preparer  *fakePreparer
	sender    *fakeChunkSender
	confirmer *fakeConfirmer
	stages    *fakeStageRunner
	recorder  *fakeRecorder
	pipeline  *Pipeline
}

func newTestRig(plans ...*preparer.Plan) *testRig {
	rig := &testRig{
		preparer:  &fakePreparer{plans: plans},
		sender:    &fakeChunkSender{},
		confirmer: &fakeConfirmer{outcome: relay.OutcomeLanded},
		stages:    &fakeStageRunner{},
		recorder:  newFakeRecorder(),
	}
	rig.pipeline = New(
		rig.preparer, rig.sender, rig.confirmer, rig.stages, rig.recorder,
		testPipelineConfig(),
		config.BundleConfig{MaxEnvelopesPerChunk: 5},
		stats.NewStats(),
		logs.Nop{},
	)
	return rig
}

func chunksPlan(chunks ...bundle.Chunk) *preparer.Plan {
	return &preparer.Plan{Mode: preparer.ModeChunks, Chunks: chunks}
}

func mustKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}
