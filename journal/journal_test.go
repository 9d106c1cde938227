// journal/journal_test.go
package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbundle/config"
	"solbundle/logs"
)

func openTestJournal(t *testing.T, dir string) *Journal {
	t.Helper()
	j, err := Open(config.JournalConfig{Dir: dir}, logs.Nop{})
	require.NoError(t, err)
	return j
}

// TestRunLifecycle 测试运行从登记到收尾的元数据变化
func TestRunLifecycle(t *testing.T) {
	j := openTestJournal(t, t.TempDir())
	defer j.Close()

	id, err := j.StartRun("distribute")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	view, err := j.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, "distribute", view.Run.Operation)
	assert.False(t, view.Run.Done)
	assert.False(t, view.Run.StartedAt.IsZero())

	require.NoError(t, j.FinishRun(id, true, ""))

	view, err = j.GetRun(id)
	require.NoError(t, err)
	assert.True(t, view.Run.Done)
	assert.True(t, view.Run.Success)
	assert.False(t, view.Run.FinishedAt.IsZero())
}

// TestChunkRecords 测试 chunk 记录与已落地位图
func TestChunkRecords(t *testing.T) {
	j := openTestJournal(t, t.TempDir())
	defer j.Close()

	id, err := j.StartRun("distribute")
	require.NoError(t, err)

	require.NoError(t, j.RecordChunk(id, 0, "relay-0", true, ""))
	require.NoError(t, j.RecordChunk(id, 1, "", false, "relay unreachable"))
	require.NoError(t, j.RecordChunk(id, 2, "relay-2", true, ""))

	assert.Equal(t, []uint32{0, 2}, j.LandedChunks(id))

	view, err := j.GetRun(id)
	require.NoError(t, err)
	require.Len(t, view.Chunks, 3)
	assert.Equal(t, 0, view.Chunks[0].Index)
	assert.Equal(t, 1, view.Chunks[1].Index)
	assert.False(t, view.Chunks[1].Landed)
	assert.Equal(t, "relay unreachable", view.Chunks[1].Error)
	assert.Equal(t, "relay-2", view.Chunks[2].RelayID)

	// 序号不能为负
	assert.Error(t, j.RecordChunk(id, -1, "", true, ""))
}

// TestStageRecords 测试阶段记录
func TestStageRecords(t *testing.T) {
	j := openTestJournal(t, t.TempDir())
	defer j.Close()

	id, err := j.StartRun("create")
	require.NoError(t, err)

	require.NoError(t, j.RecordStage(id, 0, "Deployment", true, "r1", ""))
	require.NoError(t, j.RecordStage(id, 1, "Buys", false, "", "sending: refused"))

	view, err := j.GetRun(id)
	require.NoError(t, err)
	require.Len(t, view.Stages, 2)
	assert.Equal(t, "Deployment", view.Stages[0].Name)
	assert.True(t, view.Stages[0].Success)
	assert.Equal(t, "Buys", view.Stages[1].Name)
	assert.False(t, view.Stages[1].Success)
}

// TestRebuildOnReopen 测试重开库后位图从记录重建
func TestRebuildOnReopen(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, dir)

	id, err := j.StartRun("distribute")
	require.NoError(t, err)
	require.NoError(t, j.RecordChunk(id, 0, "relay-0", true, ""))
	require.NoError(t, j.RecordChunk(id, 1, "", false, "boom"))
	require.NoError(t, j.RecordChunk(id, 5, "relay-5", true, ""))
	require.NoError(t, j.Close())

	j = openTestJournal(t, dir)
	defer j.Close()

	assert.Equal(t, []uint32{0, 5}, j.LandedChunks(id))

	runs, err := j.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
}

// TestListRunsOrder 测试运行列表按时间倒序并遵守上限
func TestListRunsOrder(t *testing.T) {
	j := openTestJournal(t, t.TempDir())
	defer j.Close()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := j.StartRun("mix")
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := j.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID, "latest run first")
	assert.Equal(t, ids[0], runs[2].ID)

	limited, err := j.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[2], limited[0].ID)
}

// TestRunNotFound 测试未知运行的错误
func TestRunNotFound(t *testing.T) {
	j := openTestJournal(t, t.TempDir())
	defer j.Close()

	_, err := j.GetRun("no-such-run")
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.ErrorIs(t, j.FinishRun("no-such-run", true, ""), ErrRunNotFound)
}

// TestLandedSetIsCopy 测试返回的位图是副本
func TestLandedSetIsCopy(t *testing.T) {
	j := openTestJournal(t, t.TempDir())
	defer j.Close()

	id, err := j.StartRun("distribute")
	require.NoError(t, err)
	require.NoError(t, j.RecordChunk(id, 3, "r", true, ""))

	set := j.LandedSet(id)
	set.Add(99)
	assert.Equal(t, []uint32{3}, j.LandedChunks(id))
}

// TestKeyNaming 测试 Key 带版本前缀且按序号排序
func TestKeyNaming(t *testing.T) {
	assert.Equal(t, "v1_runmeta_abc", KeyRunMeta("abc"))
	assert.Equal(t, "v1_runchunk_abc_00007", KeyRunChunk("abc", 7))
	assert.Equal(t, "v1_runstage_abc_00000", KeyRunStage("abc", 0))
	assert.Less(t, KeyRunChunk("abc", 9), KeyRunChunk("abc", 10), "zero padding keeps lexicographic order")
}
