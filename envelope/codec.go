// envelope/codec.go
// 交易信封编解码：主编码 base64，历史上 preparer 混用过 base58，解码时做回退
package envelope

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Encoding 信封编码格式
type Encoding int

const (
	EncodingBase64 Encoding = iota // 主编码
	EncodingBase58                 // 兼容编码
)

func (e Encoding) String() string {
	switch e {
	case EncodingBase64:
		return "base64"
	case EncodingBase58:
		return "base58"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

var (
	ErrEmptyEnvelope = fmt.Errorf("empty envelope payload")
	ErrUndecodable   = fmt.Errorf("envelope payload is neither base64 nor base58 transaction")
)

// DecodeTransaction 解码信封字符串为交易。
// 先按 base64 解，失败后回退 base58；两者都失败返回 ErrUndecodable。
func DecodeTransaction(encoded string) (*solana.Transaction, Encoding, error) {
	if encoded == "" {
		return nil, EncodingBase64, ErrEmptyEnvelope
	}

	if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		if tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw)); err == nil {
			return tx, EncodingBase64, nil
		}
	}

	if raw, err := base58.Decode(encoded); err == nil {
		if tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw)); err == nil {
			return tx, EncodingBase58, nil
		}
	}

	return nil, EncodingBase64, fmt.Errorf("%w (len=%d)", ErrUndecodable, len(encoded))
}

// EncodeTransaction 按指定编码序列化交易
func EncodeTransaction(tx *solana.Transaction, enc Encoding) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}
	switch enc {
	case EncodingBase58:
		return base58.Encode(raw), nil
	default:
		return base64.StdEncoding.EncodeToString(raw), nil
	}
}
