// preparer/types.go
// preparer 响应的规范化：三种互斥形态（transactions / bundles / stages）
// 在边界处一次性判别，下游只消费统一的 Plan
package preparer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"solbundle/bundle"
)

// Operation 操作类型
type Operation string

const (
	OpDistribute Operation = "distribute"
	OpMix        Operation = "mix"
	OpCreate     Operation = "create"
)

// Mode Plan 的形态
type Mode int

const (
	ModeChunks Mode = iota // 简单模式：平铺交易或已分组的 bundles
	ModeStages             // 高级模式：分阶段执行
)

func (m Mode) String() string {
	switch m {
	case ModeChunks:
		return "chunks"
	case ModeStages:
		return "stages"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Recipient 接收方
type Recipient struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// TokenMetadata 代币元数据（create 操作用）
type TokenMetadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Request 构造请求
type Request struct {
	Operation  Operation       `json:"operation"`
	Sender     string          `json:"sender"`
	Recipients []Recipient     `json:"recipients,omitempty"`
	Token      *TokenMetadata  `json:"token,omitempty"`
	Wallets    []string        `json:"wallets,omitempty"`
	Amounts    []string        `json:"amounts,omitempty"`
	Platform   string          `json:"platform,omitempty"`
	DevBuy     decimal.Decimal `json:"devBuy,omitempty"`
}

// Stage 一个部署阶段，由 preparer 产出，编排器消费，不再修改
type Stage struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Transactions         []string `json:"transactions"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
	WaitForActivation    bool     `json:"waitForActivation"`
}

// rawResponse preparer 的原始线格式。
// transactions / bundles / stages 三者必须恰好出现一个，其余为可选附加字段。
type rawResponse struct {
	Transactions []string   `json:"transactions,omitempty"`
	Bundles      [][]string `json:"bundles,omitempty"`
	Stages       []Stage    `json:"stages,omitempty"`

	Mint               string `json:"mint,omitempty"`
	PoolID             string `json:"poolId,omitempty"`
	LookupTableAddress string `json:"lookupTableAddress,omitempty"`
	MintPrivateKey     string `json:"mintPrivateKey,omitempty"`

	Error string `json:"error,omitempty"`
}

// Plan 判别后的统一构造结果
type Plan struct {
	Mode   Mode
	Chunks []bundle.Chunk // ModeChunks 时有效
	Stages []Stage        // ModeStages 时有效

	Mint               string
	PoolID             string
	LookupTableAddress string
	MintPrivateKey     string
}

// EnvelopeCount 计划中的信封总数
func (p *Plan) EnvelopeCount() int {
	if p == nil {
		return 0
	}
	if p.Mode == ModeStages {
		total := 0
		for _, st := range p.Stages {
			total += len(st.Transactions)
		}
		return total
	}
	return bundle.TotalEnvelopes(p.Chunks)
}

// normalize 把原始响应判别为 Plan。
// 形态不明（一个都没有，或同时出现多个）按致命的 preparer 错误处理，
// 不做逐字段嗅探回退。
func normalize(raw *rawResponse) (*Plan, error) {
	if raw.Error != "" {
		return nil, fmt.Errorf("preparer rejected request: %s", raw.Error)
	}

	shapes := 0
	if len(raw.Transactions) > 0 {
		shapes++
	}
	if len(raw.Bundles) > 0 {
		shapes++
	}
	if len(raw.Stages) > 0 {
		shapes++
	}
	if shapes == 0 {
		return nil, fmt.Errorf("preparer response carries no transactions, bundles or stages")
	}
	if shapes > 1 {
		return nil, fmt.Errorf("preparer response is ambiguous: %d shapes present, want exactly 1", shapes)
	}

	plan := &Plan{
		Mint:               raw.Mint,
		PoolID:             raw.PoolID,
		LookupTableAddress: raw.LookupTableAddress,
		MintPrivateKey:     raw.MintPrivateKey,
	}

	switch {
	case len(raw.Stages) > 0:
		for i, st := range raw.Stages {
			if st.Name == "" {
				return nil, fmt.Errorf("stage %d has no name", i)
			}
			if len(st.Transactions) == 0 {
				return nil, fmt.Errorf("stage %d (%s) carries no transactions", i, st.Name)
			}
			for j, env := range st.Transactions {
				if env == "" {
					return nil, fmt.Errorf("stage %d (%s) transaction %d is empty", i, st.Name, j)
				}
			}
		}
		plan.Mode = ModeStages
		plan.Stages = raw.Stages

	case len(raw.Bundles) > 0:
		chunks := make([]bundle.Chunk, 0, len(raw.Bundles))
		for i, group := range raw.Bundles {
			if len(group) == 0 {
				return nil, fmt.Errorf("bundle %d is empty", i)
			}
			for j, env := range group {
				if env == "" {
					return nil, fmt.Errorf("bundle %d transaction %d is empty", i, j)
				}
			}
			chunks = append(chunks, bundle.Chunk(group))
		}
		plan.Mode = ModeChunks
		plan.Chunks = chunks

	default:
		for i, env := range raw.Transactions {
			if env == "" {
				return nil, fmt.Errorf("transaction %d is empty", i)
			}
		}
		plan.Mode = ModeChunks
		plan.Chunks = []bundle.Chunk{bundle.Chunk(raw.Transactions)}
	}

	return plan, nil
}
