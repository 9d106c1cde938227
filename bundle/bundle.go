// bundle/bundle.go
// Chunk 切分：把超出 relay 尺寸上限的信封组按原顺序切成子组
package bundle

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// DefaultMaxPerChunk relay 侧允许的单个 chunk 最大信封数
const DefaultMaxPerChunk = 5

// Chunk 一次提交给 relay 的有序信封组（编码后的交易字符串）
type Chunk []string

// Fingerprint 内容指纹（murmur3 64 位），用于日志与运行记录。
// 每个信封带长度前缀，避免拼接歧义。
func (c Chunk) Fingerprint() uint64 {
	h := murmur3.New64()
	var lenBuf [8]byte
	for _, env := range c {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(env)))
		h.Write(lenBuf[:])
		h.Write([]byte(env))
	}
	return h.Sum64()
}

// Split 对每个超过上限的 chunk 按原顺序切成 ceil(n/max) 个子 chunk，
// 界内的原样通过，空 chunk 丢弃。信封总数与相对顺序在调用前后不变。
func Split(chunks []Chunk, maxPerChunk int) []Chunk {
	if maxPerChunk <= 0 {
		maxPerChunk = DefaultMaxPerChunk
	}
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		if len(c) <= maxPerChunk {
			out = append(out, c)
			continue
		}
		for start := 0; start < len(c); start += maxPerChunk {
			end := start + maxPerChunk
			if end > len(c) {
				end = len(c)
			}
			out = append(out, c[start:end])
		}
	}
	return out
}

// SplitFlat 把一组信封切成尺寸合规的 chunk 列表
func SplitFlat(envelopes []string, maxPerChunk int) []Chunk {
	return Split([]Chunk{Chunk(envelopes)}, maxPerChunk)
}

// TotalEnvelopes 统计 chunk 列表中的信封总数
func TotalEnvelopes(chunks []Chunk) int {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	return total
}
