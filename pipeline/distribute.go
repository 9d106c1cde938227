// pipeline/distribute.go
// 资金分发：接收方按批（≤3 个）调用 preparer，批间隔固定延迟，
// 首个失败批次终止整次运行并保留已完成部分。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solbundle/preparer"
	"solbundle/wallet"
)

// ExecuteDistribute 执行资金分发。
// 返回的 Result 总是非 nil；失败时 error 携带类别，Result 带已完成部分。
func (p *Pipeline) ExecuteDistribute(ctx context.Context, req *DistributeRequest) (*Result, error) {
	res := &Result{Operation: preparer.OpDistribute}
	start := time.Now()

	if err := p.ValidateDistributionInputs(req); err != nil {
		res.Error = err.Error()
		return res, err
	}

	senderKey, err := wallet.ParsePrivateKey(req.SenderSecret)
	if err != nil {
		verr := validationError("sender secret: %v", err)
		res.Error = verr.Error()
		return res, verr
	}
	keys := wallet.NewKeySet()
	if err := keys.Add(senderKey); err != nil {
		verr := validationError("sender secret: %v", err)
		res.Error = verr.Error()
		return res, verr
	}
	senderPub := senderKey.PublicKey().String()

	p.startRun(res)
	batches := batchRecipients(req.Recipients, p.cfg.MaxRecipientsPerBatch)
	p.Logger.Info("[Pipeline] distribute: %d recipients in %d batches (sender %s)",
		len(req.Recipients), len(batches), senderPub)

	nextIndex := 0
	for b, batch := range batches {
		if b > 0 {
			if err := sleepCtx(ctx, p.cfg.InterBatchDelay); err != nil {
				return p.fail(res, batchError(b+1, err))
			}
		}

		plan, err := p.preparer.Prepare(ctx, &preparer.Request{
			Operation:  preparer.OpDistribute,
			Sender:     senderPub,
			Recipients: batch,
		})
		if err != nil {
			return p.fail(res, batchError(b+1, &Error{Kind: KindPreparer, Err: err}))
		}
		if plan.Mode != preparer.ModeChunks {
			return p.fail(res, batchError(b+1, &Error{
				Kind: KindPreparer,
				Err:  fmt.Errorf("unexpected %s plan for a %d-recipient batch", plan.Mode, len(batch)),
			}))
		}

		// 每个批次是独立的 preparer 调用，首个 chunk 都按关键路径处理
		chunkResults, err := p.sendChunks(ctx, res.RunID, b+1, nextIndex, plan.Chunks, keys, b == 0)
		res.Chunks = append(res.Chunks, chunkResults...)
		nextIndex += len(chunkResults)
		if err != nil {
			return p.fail(res, batchError(b+1, err))
		}
		p.Logger.Info("[Pipeline] distribute batch %d/%d done: %d recipients, %d chunks",
			b+1, len(batches), len(batch), len(chunkResults))
	}

	p.recordLatency("pipeline.distribute", time.Since(start))
	return p.succeed(res)
}

// ValidateDistributionInputs 分发输入的纯前置校验。
// 余额校验只比较接收方总额，不考虑手续费（由调用方自行留出）。
func (p *Pipeline) ValidateDistributionInputs(req *DistributeRequest) error {
	if req == nil {
		return validationError("request is nil")
	}
	if req.SenderSecret == "" {
		return validationError("sender secret is required")
	}
	if _, err := wallet.ParsePrivateKey(req.SenderSecret); err != nil {
		return validationError("sender secret: %v", err)
	}
	if len(req.Recipients) == 0 {
		return validationError("at least one recipient is required")
	}

	total := decimal.Zero
	for i, r := range req.Recipients {
		if _, err := solana.PublicKeyFromBase58(r.Address); err != nil {
			return validationError("recipient %d address %q: %v", i, r.Address, err)
		}
		if !r.Amount.IsPositive() {
			return validationError("recipient %d amount must be positive, got %s", i, r.Amount)
		}
		total = total.Add(r.Amount)
	}
	if total.GreaterThan(req.SenderBalance) {
		return validationError("recipients total %s exceeds sender balance %s", total, req.SenderBalance)
	}
	return nil
}

// batchRecipients 按上限切批，保持顺序
func batchRecipients(recipients []preparer.Recipient, max int) [][]preparer.Recipient {
	if max <= 0 {
		max = 3
	}
	out := make([][]preparer.Recipient, 0, (len(recipients)+max-1)/max)
	for start := 0; start < len(recipients); start += max {
		end := start + max
		if end > len(recipients) {
			end = len(recipients)
		}
		out = append(out, recipients[start:end])
	}
	return out
}
