// relay/registry.go
// 重复提交防护：已提交但尚未确认的 chunk 不允许再次盲目提交。
// chunk 身份用带密钥的 SipHash 计算，in-flight 集合 + 近期已提交 LRU 双重拦截。
package relay

import (
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"
	lru "github.com/hashicorp/golang-lru"

	"solbundle/bundle"
)

// SipHash 密钥常量，chunk 身份只在本进程内比较
const (
	identityKey0 = 0x736f6c62756e646c // "solbundl"
	identityKey1 = 0x652d6368756e6b73 // "e-chunks"
)

// ChunkIdentity 计算 chunk 的提交身份。
// 每个信封带长度前缀，避免拼接歧义。
func ChunkIdentity(chunk bundle.Chunk) uint64 {
	h := siphash.New(identityKeyBytes())
	var lenBuf [8]byte
	for _, env := range chunk {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(env)))
		h.Write(lenBuf[:])
		h.Write([]byte(env))
	}
	return h.Sum64()
}

func identityKeyBytes() []byte {
	key := make([]byte, 16)
	binary.LittleEndian.PutUint64(key[:8], identityKey0)
	binary.LittleEndian.PutUint64(key[8:], identityKey1)
	return key
}

// Registry 在途/已提交 chunk 登记表
type Registry struct {
	mu       sync.Mutex
	inflight map[uint64]struct{}
	recent   *lru.Cache // identity -> relayID，近期已成功提交的 chunk
}

// NewRegistry 创建登记表；recentSize 是已提交身份缓存容量
func NewRegistry(recentSize int) *Registry {
	if recentSize <= 0 {
		recentSize = 4096
	}
	recent, _ := lru.New(recentSize)
	return &Registry{
		inflight: make(map[uint64]struct{}),
		recent:   recent,
	}
}

// Begin 登记一次提交尝试。
// 返回 chunk 身份；同一身份已在途时返回 false，调用方不得再次提交。
func (r *Registry) Begin(chunk bundle.Chunk) (uint64, bool) {
	id := ChunkIdentity(chunk)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.inflight[id]; exists {
		return id, false
	}
	r.inflight[id] = struct{}{}
	return id, true
}

// End 结束一次提交尝试（无论成败都要调用）
func (r *Registry) End(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

// MarkSubmitted 记录身份已被中继受理，后续重复内容直接复用 relayID
func (r *Registry) MarkSubmitted(id uint64, relayID string) {
	r.recent.Add(id, relayID)
}

// SubmittedRelayID 查询 chunk 内容是否近期已提交过
func (r *Registry) SubmittedRelayID(chunk bundle.Chunk) (string, bool) {
	v, ok := r.recent.Get(ChunkIdentity(chunk))
	if !ok {
		return "", false
	}
	relayID, ok := v.(string)
	return relayID, ok
}

// InflightCount 在途提交数（监控用）
func (r *Registry) InflightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
