// pipeline/types.go
package pipeline

import (
	"github.com/shopspring/decimal"

	"solbundle/preparer"
	"solbundle/stage"
)

// DistributeRequest 资金分发请求。
// SenderBalance 由调用方提供（链上余额查询不属于本子系统），
// 校验只比较接收方总额与它的大小，不估算手续费。
type DistributeRequest struct {
	SenderSecret  string               `json:"senderSecret"`
	SenderBalance decimal.Decimal      `json:"senderBalance"`
	Recipients    []preparer.Recipient `json:"recipients"`
}

// MixTarget 混币目标。
// 混币交易对需要接收方签名，所以这里是私钥而非地址。
type MixTarget struct {
	Secret string          `json:"secret"`
	Amount decimal.Decimal `json:"amount"`
}

// MixRequest 混币请求
type MixRequest struct {
	SenderSecret  string          `json:"senderSecret"`
	SenderBalance decimal.Decimal `json:"senderBalance"`
	Targets       []MixTarget     `json:"targets"`
}

// CreateRequest 代币创建/部署请求
type CreateRequest struct {
	DeployerSecret string                 `json:"deployerSecret"`
	Token          preparer.TokenMetadata `json:"token"`
	WalletSecrets  []string               `json:"walletSecrets,omitempty"`
	BuyAmounts     []decimal.Decimal      `json:"buyAmounts,omitempty"`
	Platform       string                 `json:"platform,omitempty"`
	DevBuy         decimal.Decimal        `json:"devBuy,omitempty"`
}

// ChunkResult 单个 chunk 的提交记录（只追加）。
// Index 在一次运行内全局递增，Batch 标记它来自第几个批次（从 1 起，
// 不分批的操作为 0）。
type ChunkResult struct {
	Index   int    `json:"index"`
	Batch   int    `json:"batch,omitempty"`
	Success bool   `json:"success"`
	RelayID string `json:"relayId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result 一次流水线运行的聚合结果。
// 失败时仍携带已完成部分（Chunks/Stages），供调用方复盘。
type Result struct {
	RunID     string             `json:"runId,omitempty"`
	Operation preparer.Operation `json:"operation"`
	Success   bool               `json:"success"`
	Chunks    []ChunkResult      `json:"chunks,omitempty"`
	Stages    []stage.Result     `json:"stages,omitempty"`
	Mint      string             `json:"mint,omitempty"`
	PoolID    string             `json:"poolId,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// LandedChunks 运行中成功提交的 chunk 数
func (r *Result) LandedChunks() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Success {
			n++
		}
	}
	return n
}
