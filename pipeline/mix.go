// pipeline/mix.go
// 混币：不论目标多少，每次 preparer 调用只带一个接收方。
// 混币交易对的签名契约是位置固定的（交易 0 发送方签、交易 1 接收方签），
// 不能推广到一次多个接收方。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solbundle/bundle"
	"solbundle/envelope"
	"solbundle/preparer"
	"solbundle/wallet"
)

// ExecuteMix 执行混币。目标逐个处理，首个失败终止并保留已完成部分。
func (p *Pipeline) ExecuteMix(ctx context.Context, req *MixRequest) (*Result, error) {
	res := &Result{Operation: preparer.OpMix}
	start := time.Now()

	if err := p.ValidateMixInputs(req); err != nil {
		res.Error = err.Error()
		return res, err
	}

	senderKey, err := wallet.ParsePrivateKey(req.SenderSecret)
	if err != nil {
		verr := validationError("sender secret: %v", err)
		res.Error = verr.Error()
		return res, verr
	}
	senderPub := senderKey.PublicKey()

	p.startRun(res)
	p.Logger.Info("[Pipeline] mix: %d targets (sender %s)", len(req.Targets), senderPub)

	nextIndex := 0
	for i, target := range req.Targets {
		if i > 0 {
			if err := sleepCtx(ctx, p.cfg.InterBatchDelay); err != nil {
				return p.fail(res, batchError(i+1, err))
			}
		}

		targetKey, err := wallet.ParsePrivateKey(target.Secret)
		if err != nil {
			return p.fail(res, batchError(i+1, validationError("target secret: %v", err)))
		}
		targetPub := targetKey.PublicKey()

		// 签名集合按调用隔离：只有发送方和当前接收方
		keys := wallet.NewKeySet()
		if err := keys.Add(senderKey); err != nil {
			return p.fail(res, batchError(i+1, validationError("sender secret: %v", err)))
		}
		if err := keys.Add(targetKey); err != nil {
			return p.fail(res, batchError(i+1, validationError("target secret: %v", err)))
		}

		plan, err := p.preparer.Prepare(ctx, &preparer.Request{
			Operation: preparer.OpMix,
			Sender:    senderPub.String(),
			Recipients: []preparer.Recipient{
				{Address: targetPub.String(), Amount: target.Amount},
			},
		})
		if err != nil {
			return p.fail(res, batchError(i+1, &Error{Kind: KindPreparer, Err: err}))
		}
		if plan.Mode != preparer.ModeChunks {
			return p.fail(res, batchError(i+1, &Error{
				Kind: KindPreparer,
				Err:  fmt.Errorf("unexpected %s plan for a single mix target", plan.Mode),
			}))
		}
		if err := checkMixPair(plan.Chunks, senderPub, targetPub); err != nil {
			return p.fail(res, batchError(i+1, &Error{Kind: KindPreparer, Err: err}))
		}

		chunkResults, err := p.sendChunks(ctx, res.RunID, i+1, nextIndex, plan.Chunks, keys, true)
		res.Chunks = append(res.Chunks, chunkResults...)
		nextIndex += len(chunkResults)
		if err != nil {
			return p.fail(res, batchError(i+1, err))
		}
		p.Logger.Info("[Pipeline] mix target %d/%d done (%s)", i+1, len(req.Targets), targetPub)
	}

	p.recordLatency("pipeline.mix", time.Since(start))
	return p.succeed(res)
}

// ValidateMixInputs 混币输入的纯前置校验
func (p *Pipeline) ValidateMixInputs(req *MixRequest) error {
	if req == nil {
		return validationError("request is nil")
	}
	if req.SenderSecret == "" {
		return validationError("sender secret is required")
	}
	if _, err := wallet.ParsePrivateKey(req.SenderSecret); err != nil {
		return validationError("sender secret: %v", err)
	}
	if len(req.Targets) == 0 {
		return validationError("at least one mix target is required")
	}

	total := decimal.Zero
	for i, target := range req.Targets {
		if _, err := wallet.ParsePrivateKey(target.Secret); err != nil {
			return validationError("target %d secret: %v", i, err)
		}
		if !target.Amount.IsPositive() {
			return validationError("target %d amount must be positive, got %s", i, target.Amount)
		}
		total = total.Add(target.Amount)
	}
	if total.GreaterThan(req.SenderBalance) {
		return validationError("targets total %s exceeds sender balance %s", total, req.SenderBalance)
	}
	return nil
}

// checkMixPair 校验混币计划符合位置固定的签名契约：
// 第一个 chunk 至少两笔交易，交易 0 必签名单含发送方，交易 1 必签名单含接收方
func checkMixPair(chunks []bundle.Chunk, sender, target solana.PublicKey) error {
	if len(chunks) == 0 || len(chunks[0]) < 2 {
		got := 0
		if len(chunks) > 0 {
			got = len(chunks[0])
		}
		return fmt.Errorf("mix plan must carry a transaction pair, got %d envelopes", got)
	}
	pair := chunks[0]
	if err := requireSigner(pair[0], sender); err != nil {
		return fmt.Errorf("mix transaction 0: %w", err)
	}
	if err := requireSigner(pair[1], target); err != nil {
		return fmt.Errorf("mix transaction 1: %w", err)
	}
	return nil
}

func requireSigner(encoded string, want solana.PublicKey) error {
	env, err := envelope.Parse(encoded)
	if err != nil {
		return err
	}
	for _, pub := range env.RequiredSigners() {
		if pub.Equals(want) {
			return nil
		}
	}
	return fmt.Errorf("required signers do not include %s", want)
}
