// pipeline/create.go
// 代币创建/部署：简单模式（平铺 chunk）或高级模式（分阶段），
// 形态由 preparer 决定；每平台的钱包数上限在校验阶段把关。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"solbundle/envelope"
	"solbundle/preparer"
	"solbundle/wallet"
)

// ExecuteCreate 执行代币创建。
// preparer 返回 stages 时走阶段编排，返回平铺交易时走普通提交路径；
// 响应附带的 mint 私钥会加入本次运行的签名集合。
func (p *Pipeline) ExecuteCreate(ctx context.Context, req *CreateRequest) (*Result, error) {
	res := &Result{Operation: preparer.OpCreate}
	start := time.Now()

	if err := p.ValidateCreateInputs(req); err != nil {
		res.Error = err.Error()
		return res, err
	}

	deployer, err := wallet.ParsePrivateKey(req.DeployerSecret)
	if err != nil {
		verr := validationError("deployer secret: %v", err)
		res.Error = verr.Error()
		return res, verr
	}
	keys := wallet.NewKeySet()
	if err := keys.Add(deployer); err != nil {
		verr := validationError("deployer secret: %v", err)
		res.Error = verr.Error()
		return res, verr
	}

	walletPubs := make([]string, 0, len(req.WalletSecrets))
	for i, secret := range req.WalletSecrets {
		k, err := wallet.ParsePrivateKey(secret)
		if err != nil {
			verr := validationError("wallet %d secret: %v", i, err)
			res.Error = verr.Error()
			return res, verr
		}
		if err := keys.Add(k); err != nil {
			verr := validationError("wallet %d secret: %v", i, err)
			res.Error = verr.Error()
			return res, verr
		}
		walletPubs = append(walletPubs, k.PublicKey().String())
	}

	amounts := make([]string, 0, len(req.BuyAmounts))
	for _, a := range req.BuyAmounts {
		amounts = append(amounts, a.String())
	}

	p.startRun(res)
	p.Logger.Info("[Pipeline] create %q (%s) on %s: %d buying wallets",
		req.Token.Name, req.Token.Symbol, platformName(req.Platform), len(req.WalletSecrets))

	plan, err := p.preparer.Prepare(ctx, &preparer.Request{
		Operation: preparer.OpCreate,
		Sender:    deployer.PublicKey().String(),
		Token:     &req.Token,
		Wallets:   walletPubs,
		Amounts:   amounts,
		Platform:  req.Platform,
		DevBuy:    req.DevBuy,
	})
	if err != nil {
		return p.fail(res, &Error{Kind: KindPreparer, Err: err})
	}
	res.Mint = plan.Mint
	res.PoolID = plan.PoolID

	// preparer 新造的 mint 身份也要参与签名
	if plan.MintPrivateKey != "" {
		if err := keys.AddEncoded(plan.MintPrivateKey); err != nil {
			return p.fail(res, &Error{Kind: KindPreparer, Err: fmt.Errorf("mint private key: %w", err)})
		}
	}

	if plan.Mode == preparer.ModeStages {
		p.Logger.Info("[Pipeline] create: staged plan, %d stages, lookup table %q",
			len(plan.Stages), plan.LookupTableAddress)
		stageResults, err := p.stages.Run(ctx, plan.Stages, keys, plan.LookupTableAddress)
		res.Stages = stageResults
		p.recordStages(res.RunID, stageResults)
		if err != nil {
			return p.fail(res, &Error{Kind: stageErrorKind(err), Err: err})
		}
		p.recordLatency("pipeline.create", time.Since(start))
		return p.succeed(res)
	}

	chunkResults, err := p.sendChunks(ctx, res.RunID, 0, 0, plan.Chunks, keys, true)
	res.Chunks = chunkResults
	if err != nil {
		return p.fail(res, err)
	}
	p.recordLatency("pipeline.create", time.Since(start))
	return p.succeed(res)
}

// ValidateCreateInputs 创建输入的纯前置校验，含每平台钱包数上限
func (p *Pipeline) ValidateCreateInputs(req *CreateRequest) error {
	if req == nil {
		return validationError("request is nil")
	}
	if req.DeployerSecret == "" {
		return validationError("deployer secret is required")
	}
	if _, err := wallet.ParsePrivateKey(req.DeployerSecret); err != nil {
		return validationError("deployer secret: %v", err)
	}
	if req.Token.Name == "" {
		return validationError("token name is required")
	}
	if req.Token.Symbol == "" {
		return validationError("token symbol is required")
	}

	limit := p.walletCeiling(req.Platform)
	if len(req.WalletSecrets) > limit {
		return validationError("platform %s allows at most %d wallets, got %d",
			platformName(req.Platform), limit, len(req.WalletSecrets))
	}
	for i, secret := range req.WalletSecrets {
		if _, err := wallet.ParsePrivateKey(secret); err != nil {
			return validationError("wallet %d secret: %v", i, err)
		}
	}

	if len(req.BuyAmounts) > 0 && len(req.BuyAmounts) != len(req.WalletSecrets) {
		return validationError("buy amounts count %d does not match wallet count %d",
			len(req.BuyAmounts), len(req.WalletSecrets))
	}
	for i, a := range req.BuyAmounts {
		if !a.IsPositive() {
			return validationError("buy amount %d must be positive, got %s", i, a)
		}
	}
	if req.DevBuy.IsNegative() {
		return validationError("dev buy must not be negative, got %s", req.DevBuy)
	}
	return nil
}

// walletCeiling 平台钱包数上限，未配置的平台用默认值
func (p *Pipeline) walletCeiling(platform string) int {
	if limit, ok := p.cfg.PlatformWalletCeilings[strings.ToLower(platform)]; ok && limit > 0 {
		return limit
	}
	if p.cfg.DefaultWalletCeiling > 0 {
		return p.cfg.DefaultWalletCeiling
	}
	return 20
}

func platformName(platform string) string {
	if platform == "" {
		return "default"
	}
	return strings.ToLower(platform)
}

// stageErrorKind 把阶段编排错误映射到流水线类别。
// 缺私钥是唯一需要区分的致命类别，其余按中继失败处理。
func stageErrorKind(err error) Kind {
	var missing *envelope.MissingSignerError
	if errors.As(err, &missing) {
		return KindSigning
	}
	return KindRelay
}
