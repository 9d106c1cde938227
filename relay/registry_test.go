// relay/registry_test.go
package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbundle/bundle"
)

// TestChunkIdentity 测试 chunk 身份的稳定性与区分度
func TestChunkIdentity(t *testing.T) {
	a := bundle.Chunk{"tx-1", "tx-2"}
	b := bundle.Chunk{"tx-1", "tx-2"}
	c := bundle.Chunk{"tx-2", "tx-1"}

	assert.Equal(t, ChunkIdentity(a), ChunkIdentity(b))
	assert.NotEqual(t, ChunkIdentity(a), ChunkIdentity(c))

	// 长度前缀避免拼接歧义
	x := bundle.Chunk{"ab", "c"}
	y := bundle.Chunk{"a", "bc"}
	assert.NotEqual(t, ChunkIdentity(x), ChunkIdentity(y))
}

// TestRegistryInflight 测试在途拦截
func TestRegistryInflight(t *testing.T) {
	r := NewRegistry(16)
	chunk := bundle.Chunk{"tx-1"}

	id, ok := r.Begin(chunk)
	require.True(t, ok)
	assert.Equal(t, 1, r.InflightCount())

	// 同一内容的第二次 Begin 被拒
	id2, ok := r.Begin(chunk)
	assert.False(t, ok)
	assert.Equal(t, id, id2)

	// 结束后可以重新开始
	r.End(id)
	assert.Equal(t, 0, r.InflightCount())
	_, ok = r.Begin(chunk)
	assert.True(t, ok)
}

// TestRegistrySubmitted 测试近期已提交缓存
func TestRegistrySubmitted(t *testing.T) {
	r := NewRegistry(16)
	chunk := bundle.Chunk{"tx-1", "tx-2"}

	_, found := r.SubmittedRelayID(chunk)
	assert.False(t, found)

	id, ok := r.Begin(chunk)
	require.True(t, ok)
	r.MarkSubmitted(id, "relay-42")
	r.End(id)

	got, found := r.SubmittedRelayID(chunk)
	require.True(t, found)
	assert.Equal(t, "relay-42", got)

	// 不同内容不命中
	_, found = r.SubmittedRelayID(bundle.Chunk{"tx-3"})
	assert.False(t, found)
}
