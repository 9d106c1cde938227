// wallet/keyset.go
// 签名私钥集合：一次流水线调用内可用的全部私钥
package wallet

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// 私钥解析相关错误
var (
	ErrEmptySecret   = fmt.Errorf("empty secret material")
	ErrBadKeyLength  = fmt.Errorf("private key must be 64 bytes")
	ErrUnknownFormat = fmt.Errorf("unrecognized private key encoding")
)

// KeySet 保存本次调用可用的签名私钥，并按公钥建立索引。
// 只读使用：加入后不修改，不落盘。
type KeySet struct {
	keys  []solana.PrivateKey
	index map[solana.PublicKey]int
}

// NewKeySet 创建空集合
func NewKeySet() *KeySet {
	return &KeySet{
		index: make(map[solana.PublicKey]int),
	}
}

// NewKeySetFromSecrets 批量解析编码私钥并建集合，任一解析失败即返回错误
func NewKeySetFromSecrets(secrets []string) (*KeySet, error) {
	ks := NewKeySet()
	for i, secret := range secrets {
		key, err := ParsePrivateKey(secret)
		if err != nil {
			return nil, fmt.Errorf("parse key %d: %w", i, err)
		}
		ks.Add(key)
	}
	return ks, nil
}

// Add 加入一个私钥；长度非法的拒绝，公钥重复的忽略
func (s *KeySet) Add(key solana.PrivateKey) error {
	if len(key) != 64 {
		return fmt.Errorf("%w, got %d", ErrBadKeyLength, len(key))
	}
	pub := key.PublicKey()
	if _, exists := s.index[pub]; exists {
		return nil
	}
	s.index[pub] = len(s.keys)
	s.keys = append(s.keys, key)
	return nil
}

// AddEncoded 解析编码私钥后加入（preparer 返回的 mintPrivateKey 走这里）
func (s *KeySet) AddEncoded(secret string) error {
	key, err := ParsePrivateKey(secret)
	if err != nil {
		return err
	}
	return s.Add(key)
}

// FindSigner 按公钥查找私钥
func (s *KeySet) FindSigner(pub solana.PublicKey) (solana.PrivateKey, bool) {
	idx, ok := s.index[pub]
	if !ok {
		return nil, false
	}
	return s.keys[idx], true
}

// Has 判断公钥是否有对应私钥
func (s *KeySet) Has(pub solana.PublicKey) bool {
	_, ok := s.index[pub]
	return ok
}

// Primary 返回第一个加入的私钥（约定为发送方/付费方）
func (s *KeySet) Primary() (solana.PrivateKey, bool) {
	if len(s.keys) == 0 {
		return nil, false
	}
	return s.keys[0], true
}

// Len 集合内私钥数量
func (s *KeySet) Len() int {
	return len(s.keys)
}

// PublicKeys 返回全部公钥（加入顺序）
func (s *KeySet) PublicKeys() []solana.PublicKey {
	pubs := make([]solana.PublicKey, 0, len(s.keys))
	for _, key := range s.keys {
		pubs = append(pubs, key.PublicKey())
	}
	return pubs
}

// ParsePrivateKey 解析编码私钥，无 I/O。
// 依次尝试三种历史上出现过的编码：
//  1. JSON 字节数组，如 "[12,34,...]"（64 个字节）
//  2. 128 位十六进制字符串
//  3. base58 字符串（标准钱包导出格式）
func ParsePrivateKey(secret string) (solana.PrivateKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}

	// JSON 数组格式
	if strings.HasPrefix(secret, "[") {
		var raw []int
		if err := json.Unmarshal([]byte(secret), &raw); err != nil {
			return nil, fmt.Errorf("%w: bad json array: %v", ErrUnknownFormat, err)
		}
		if len(raw) != 64 {
			return nil, fmt.Errorf("%w, got %d", ErrBadKeyLength, len(raw))
		}
		key := make(solana.PrivateKey, 64)
		for i, b := range raw {
			if b < 0 || b > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrUnknownFormat, i)
			}
			key[i] = byte(b)
		}
		return key, nil
	}

	// 十六进制格式（64 字节 = 128 个 hex 字符）
	if len(secret) == 128 && isHex(secret) {
		raw, err := hex.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex: %v", ErrUnknownFormat, err)
		}
		return solana.PrivateKey(raw), nil
	}

	// base58 格式
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("%w, got %d", ErrBadKeyLength, len(key))
	}
	return key, nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
