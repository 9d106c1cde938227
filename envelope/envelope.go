// envelope/envelope.go
// 信封补签：对照可用私钥集合，把交易中尚未填充的必签槽位补齐
package envelope

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"solbundle/logs"
	"solbundle/wallet"
)

// Envelope 一笔已编码、可能部分签名的交易。
// 从字符串解码而来，补签后重新编码，原字符串不受影响。
type Envelope struct {
	tx  *solana.Transaction
	enc Encoding
}

// Parse 解码信封字符串
func Parse(encoded string) (*Envelope, error) {
	tx, enc, err := DecodeTransaction(encoded)
	if err != nil {
		return nil, err
	}
	return &Envelope{tx: tx, enc: enc}, nil
}

// Transaction 返回内部交易（调用方不应在补签后修改）
func (e *Envelope) Transaction() *solana.Transaction {
	return e.tx
}

// Encoding 返回信封原始编码
func (e *Envelope) Encoding() Encoding {
	return e.enc
}

// RequiredSigners 返回必签公钥列表：header 声明的前 N 个静态账户
func (e *Envelope) RequiredSigners() []solana.PublicKey {
	required := int(e.tx.Message.Header.NumRequiredSignatures)
	if required > len(e.tx.Message.AccountKeys) {
		required = len(e.tx.Message.AccountKeys)
	}
	signers := make([]solana.PublicKey, required)
	copy(signers, e.tx.Message.AccountKeys[:required])
	return signers
}

// IsComplete 判断所有必签槽位是否都已填充
func (e *Envelope) IsComplete() bool {
	required := int(e.tx.Message.Header.NumRequiredSignatures)
	if len(e.tx.Signatures) < required {
		return false
	}
	for i := 0; i < required; i++ {
		if e.tx.Signatures[i].IsZero() {
			return false
		}
	}
	return true
}

// PreSignedFeePayer 槽位 0 是否已被 preparer 预签（例如临时付费方）
func (e *Envelope) PreSignedFeePayer() bool {
	return len(e.tx.Signatures) > 0 && !e.tx.Signatures[0].IsZero()
}

// Encode 按原编码重新序列化
func (e *Envelope) Encode() (string, error) {
	return EncodeTransaction(e.tx, e.enc)
}

// MissingSignerError 补签后仍有槽位找不到对应私钥
type MissingSignerError struct {
	Missing []solana.PublicKey
}

func (e *MissingSignerError) Error() string {
	keys := make([]string, len(e.Missing))
	for i, pub := range e.Missing {
		keys[i] = pub.String()
	}
	return fmt.Sprintf("no private key for required signer(s): %s", strings.Join(keys, ", "))
}

// Complete 补齐所有空的必签槽位。
// 规则：
//  1. 只有 header 声明的前 N 个静态账户是签名槽位；
//  2. 已填充的槽位永远不重签（preparer 可能已用临时付费方预签槽位 0）；
//  3. 补完仍有空位说明缺少对应私钥，返回 MissingSignerError，由调用方按致命错误处理。
func (e *Envelope) Complete(keys *wallet.KeySet) error {
	tx := e.tx
	required := int(tx.Message.Header.NumRequiredSignatures)
	if required > len(tx.Message.AccountKeys) {
		return fmt.Errorf("header requires %d signatures but message has %d account keys",
			required, len(tx.Message.AccountKeys))
	}

	// 签名槽位数组对齐到必签数量
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}

	// 所有签名者对同一份消息签名，序列化一次
	var messageBytes []byte
	var missing []solana.PublicKey
	for i := 0; i < required; i++ {
		if !tx.Signatures[i].IsZero() {
			continue
		}
		slotKey := tx.Message.AccountKeys[i]
		signer, ok := keys.FindSigner(slotKey)
		if !ok {
			missing = append(missing, slotKey)
			continue
		}
		if messageBytes == nil {
			raw, err := tx.Message.MarshalBinary()
			if err != nil {
				return fmt.Errorf("marshal message: %w", err)
			}
			messageBytes = raw
		}
		sig, err := signer.Sign(messageBytes)
		if err != nil {
			return fmt.Errorf("sign slot %d (%s): %w", i, slotKey, err)
		}
		tx.Signatures[i] = sig
	}

	if len(missing) > 0 {
		return &MissingSignerError{Missing: missing}
	}
	return nil
}

// CompleteEncoded 解码、补签、重编码一步完成。
// firstInPipeline 标记流水线首个信封：它的槽位 0 被预签属于预期情况。
// 输入字符串不变，返回新的编码串。
func CompleteEncoded(encoded string, keys *wallet.KeySet, firstInPipeline bool) (string, error) {
	env, err := Parse(encoded)
	if err != nil {
		return "", err
	}
	if firstInPipeline && env.PreSignedFeePayer() {
		logs.Debug("envelope slot 0 pre-signed by preparer, completing remaining slots only")
	}
	if err := env.Complete(keys); err != nil {
		return "", err
	}
	return env.Encode()
}

// CompleteAll 依序补签一组信封；第 0 个信封按 firstInPipeline 处理。
// 任一信封失败立即返回（该错误对整个 chunk 是致命的）。
func CompleteAll(encoded []string, keys *wallet.KeySet, firstInPipeline bool) ([]string, error) {
	out := make([]string, 0, len(encoded))
	for i, raw := range encoded {
		first := firstInPipeline && i == 0
		signed, err := CompleteEncoded(raw, keys, first)
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", i, err)
		}
		out = append(out, signed)
	}
	return out, nil
}
