// pipeline/create_test.go
package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbundle/bundle"
	"solbundle/preparer"
	"solbundle/stage"
)

func createReq(t *testing.T, walletCount int) *CreateRequest {
	t.Helper()
	secrets := make([]string, 0, walletCount)
	for i := 0; i < walletCount; i++ {
		secrets = append(secrets, mustKey(t).String())
	}
	return &CreateRequest{
		DeployerSecret: mustKey(t).String(),
		Token:          preparer.TokenMetadata{Name: "Test Token", Symbol: "TST"},
		WalletSecrets:  secrets,
		Platform:       "pump",
	}
}

// TestCreateSimpleMode 测试平铺计划走普通提交路径
func TestCreateSimpleMode(t *testing.T) {
	deployer := mustKey(t)
	plan := chunksPlan(bundle.Chunk{buildEnvelope(t, deployer)})
	plan.Mint = "Mint111"
	plan.PoolID = "Pool111"
	rig := newTestRig(plan)

	req := &CreateRequest{
		DeployerSecret: deployer.String(),
		Token:          preparer.TokenMetadata{Name: "Test Token", Symbol: "TST"},
	}
	res, err := rig.pipeline.ExecuteCreate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Mint111", res.Mint)
	assert.Equal(t, "Pool111", res.PoolID)
	require.Len(t, res.Chunks, 1)
	assert.Empty(t, res.Stages)
}

// TestCreateStagedMode 测试分阶段计划交给编排器，mint 私钥加入签名集合
func TestCreateStagedMode(t *testing.T) {
	deployer := mustKey(t)
	mintKey := mustKey(t)

	plan := &preparer.Plan{
		Mode: preparer.ModeStages,
		Stages: []preparer.Stage{
			{Name: "Deployment", Transactions: []string{buildEnvelope(t, deployer)}},
			{Name: "Buys", Transactions: []string{buildEnvelope(t, deployer)}},
		},
		Mint:               "Mint111",
		LookupTableAddress: "Lut111",
		MintPrivateKey:     mintKey.String(),
	}
	rig := newTestRig(plan)
	rig.stages.results = []stage.Result{
		{Index: 0, Stage: "Deployment", Success: true, RelayID: "r1"},
		{Index: 1, Stage: "Buys", Success: true, RelayID: "r2"},
	}

	req := &CreateRequest{
		DeployerSecret: deployer.String(),
		Token:          preparer.TokenMetadata{Name: "Test Token", Symbol: "TST"},
	}
	res, err := rig.pipeline.ExecuteCreate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Stages, 2)
	assert.Empty(t, res.Chunks)

	// 编排器收到的查找表地址与阶段列表
	assert.Equal(t, "Lut111", rig.stages.lookupTable)
	assert.Len(t, rig.stages.stages, 2)

	// mint 私钥已加入签名集合
	require.NotNil(t, rig.stages.keys)
	assert.True(t, rig.stages.keys.Has(mintKey.PublicKey()))
	assert.True(t, rig.stages.keys.Has(deployer.PublicKey()))

	// 阶段结果进了运行记录
	assert.Len(t, rig.recorder.stages, 2)
}

// TestCreateStagedFailure 测试阶段失败带回部分结果
func TestCreateStagedFailure(t *testing.T) {
	deployer := mustKey(t)
	plan := &preparer.Plan{
		Mode: preparer.ModeStages,
		Stages: []preparer.Stage{
			{Name: "Deployment", Transactions: []string{buildEnvelope(t, deployer)}},
			{Name: "Buys", Transactions: []string{buildEnvelope(t, deployer)}},
		},
	}
	rig := newTestRig(plan)
	rig.stages.results = []stage.Result{
		{Index: 0, Stage: "Deployment", Success: true, RelayID: "r1"},
		{Index: 1, Stage: "Buys", Success: false, Error: "sending: relay unreachable"},
	}
	rig.stages.err = fmt.Errorf("stage 2 (Buys): sending: relay unreachable")

	req := &CreateRequest{
		DeployerSecret: deployer.String(),
		Token:          preparer.TokenMetadata{Name: "Test Token", Symbol: "TST"},
	}
	res, err := rig.pipeline.ExecuteCreate(context.Background(), req)
	require.Error(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Stages, 2, "partial stage results must be kept")

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindRelay, kind)
}

// TestCreatePreparerError 测试构造服务错误致命不重试
func TestCreatePreparerError(t *testing.T) {
	rig := newTestRig()
	rig.preparer.errAt = 1

	req := &CreateRequest{
		DeployerSecret: mustKey(t).String(),
		Token:          preparer.TokenMetadata{Name: "Test Token", Symbol: "TST"},
	}
	res, err := rig.pipeline.ExecuteCreate(context.Background(), req)
	require.Error(t, err)
	assert.False(t, res.Success)

	kind, _ := KindOf(err)
	assert.Equal(t, KindPreparer, kind)
	assert.Len(t, rig.preparer.reqs, 1)
}

// TestCreateBadMintKey 测试畸形 mint 私钥按 preparer 错误处理
func TestCreateBadMintKey(t *testing.T) {
	deployer := mustKey(t)
	plan := chunksPlan(bundle.Chunk{buildEnvelope(t, deployer)})
	plan.MintPrivateKey = "not-a-key"
	rig := newTestRig(plan)

	req := &CreateRequest{
		DeployerSecret: deployer.String(),
		Token:          preparer.TokenMetadata{Name: "Test Token", Symbol: "TST"},
	}
	_, err := rig.pipeline.ExecuteCreate(context.Background(), req)
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindPreparer, kind)
}

// TestCreateWalletCeilings 测试每平台钱包数上限
func TestCreateWalletCeilings(t *testing.T) {
	rig := newTestRig()

	t.Run("PumpAllows20", func(t *testing.T) {
		req := createReq(t, 20)
		req.Platform = "pump"
		assert.NoError(t, rig.pipeline.ValidateCreateInputs(req))
	})

	t.Run("PumpRejects21", func(t *testing.T) {
		req := createReq(t, 21)
		req.Platform = "pump"
		err := rig.pipeline.ValidateCreateInputs(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at most 20")
	})

	t.Run("BonkRejects16", func(t *testing.T) {
		req := createReq(t, 16)
		req.Platform = "bonk"
		err := rig.pipeline.ValidateCreateInputs(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at most 15")
	})

	t.Run("PlatformNameCaseInsensitive", func(t *testing.T) {
		req := createReq(t, 16)
		req.Platform = "BONK"
		assert.Error(t, rig.pipeline.ValidateCreateInputs(req))
	})

	t.Run("UnknownPlatformUsesDefault", func(t *testing.T) {
		req := createReq(t, 20)
		req.Platform = "somewhere"
		assert.NoError(t, rig.pipeline.ValidateCreateInputs(req))

		req = createReq(t, 21)
		req.Platform = "somewhere"
		assert.Error(t, rig.pipeline.ValidateCreateInputs(req))
	})
}

// TestCreateValidation 测试创建输入校验
func TestCreateValidation(t *testing.T) {
	rig := newTestRig()

	t.Run("MissingTokenName", func(t *testing.T) {
		req := createReq(t, 1)
		req.Token.Name = ""
		assert.Error(t, rig.pipeline.ValidateCreateInputs(req))
	})

	t.Run("MissingSymbol", func(t *testing.T) {
		req := createReq(t, 1)
		req.Token.Symbol = ""
		assert.Error(t, rig.pipeline.ValidateCreateInputs(req))
	})

	t.Run("AmountCountMismatch", func(t *testing.T) {
		req := createReq(t, 2)
		req.BuyAmounts = []decimal.Decimal{decimal.New(1, 0)}
		err := rig.pipeline.ValidateCreateInputs(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("NegativeDevBuy", func(t *testing.T) {
		req := createReq(t, 1)
		req.DevBuy = decimal.RequireFromString("-1")
		assert.Error(t, rig.pipeline.ValidateCreateInputs(req))
	})

	t.Run("ValidRequest", func(t *testing.T) {
		req := createReq(t, 2)
		req.BuyAmounts = []decimal.Decimal{decimal.New(1, 0), decimal.New(2, 0)}
		req.DevBuy = decimal.RequireFromString("0.5")
		assert.NoError(t, rig.pipeline.ValidateCreateInputs(req))
	})
}
