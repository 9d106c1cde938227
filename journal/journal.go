// journal/journal.go
// 运行日志持久化：每次流水线运行的元数据、chunk 与阶段记录写入 badger，
// 每个运行维护一张已落地 chunk 的 RoaringBitmap（启动时扫描重建），
// 重跑时可据此跳过已落地的 chunk。
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/dgraph-io/badger/v2"

	"solbundle/config"
	"solbundle/logs"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("run not found")

// RunRecord 一次流水线运行的元数据
type RunRecord struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Done       bool      `json:"done"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// ChunkRecord 单个 chunk 的提交记录
type ChunkRecord struct {
	RunID   string    `json:"runId"`
	Index   int       `json:"index"`
	RelayID string    `json:"relayId,omitempty"`
	Landed  bool      `json:"landed"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// StageRecord 单个阶段的执行记录
type StageRecord struct {
	RunID   string    `json:"runId"`
	Index   int       `json:"index"`
	Name    string    `json:"name"`
	Success bool      `json:"success"`
	RelayID string    `json:"relayId,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// RunView 运行元数据加全部明细
type RunView struct {
	Run    RunRecord     `json:"run"`
	Chunks []ChunkRecord `json:"chunks,omitempty"`
	Stages []StageRecord `json:"stages,omitempty"`
}

// Journal 运行日志。写入即落盘（SyncWrites 由配置决定），
// 已落地位图常驻内存，Open 时从 chunk 记录重建。
type Journal struct {
	db     *badger.DB
	mu     sync.RWMutex
	landed map[string]*roaring.Bitmap
	Logger logs.Logger
}

// Open 打开（或创建）运行日志库并重建位图
func Open(cfg config.JournalConfig, logger logs.Logger) (*Journal, error) {
	if logger == nil {
		logger = logs.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("journal dir is required")
	}
	// badger v2 不自动创建父目录
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	// 运行记录都是小条目，用不着默认的大文件
	opts.ValueLogFileSize = 64 << 20
	opts.MaxTableSize = 16 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	j := &Journal{
		db:     db,
		landed: make(map[string]*roaring.Bitmap),
		Logger: logger,
	}
	if err := j.rebuildLanded(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// rebuildLanded 一次迭代扫描所有 chunk 记录，恢复每个运行的已落地位图
func (j *Journal) rebuildLanded() error {
	prefix := []byte(PrefixRunChunkAll())
	rebuilt := make(map[string]*roaring.Bitmap)
	count := 0

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec ChunkRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			if !rec.Landed || rec.Index < 0 {
				continue
			}
			bm := rebuilt[rec.RunID]
			if bm == nil {
				bm = roaring.New()
				rebuilt[rec.RunID] = bm
			}
			bm.Add(uint32(rec.Index))
			count++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild landed bitmaps: %w", err)
	}

	j.mu.Lock()
	j.landed = rebuilt
	j.mu.Unlock()
	j.Logger.Info("[Journal] rebuilt landed bitmaps: %d chunks across %d runs", count, len(rebuilt))
	return nil
}

// StartRun 登记一次新的运行，返回运行 ID（时间有序）
func (j *Journal) StartRun(operation string) (string, error) {
	id := newRunID()
	rec := RunRecord{
		ID:        id,
		Operation: operation,
		StartedAt: time.Now(),
	}
	if err := j.putJSON(KeyRunMeta(id), &rec); err != nil {
		return "", err
	}
	j.Logger.Debug("[Journal] run %s started (%s)", id, operation)
	return id, nil
}

// FinishRun 收尾一次运行
func (j *Journal) FinishRun(runID string, success bool, errMsg string) error {
	key := KeyRunMeta(runID)
	var rec RunRecord
	if err := j.getJSON(key, &rec); err != nil {
		return err
	}
	rec.Done = true
	rec.Success = success
	rec.Error = errMsg
	rec.FinishedAt = time.Now()
	return j.putJSON(key, &rec)
}

// RecordChunk 记录一个 chunk 的提交结果；落地的同时更新位图
func (j *Journal) RecordChunk(runID string, index int, relayID string, landed bool, errMsg string) error {
	if index < 0 {
		return fmt.Errorf("chunk index must not be negative, got %d", index)
	}
	rec := ChunkRecord{
		RunID:   runID,
		Index:   index,
		RelayID: relayID,
		Landed:  landed,
		Error:   errMsg,
		At:      time.Now(),
	}
	if err := j.putJSON(KeyRunChunk(runID, index), &rec); err != nil {
		return err
	}
	if landed {
		j.mu.Lock()
		bm := j.landed[runID]
		if bm == nil {
			bm = roaring.New()
			j.landed[runID] = bm
		}
		bm.Add(uint32(index))
		j.mu.Unlock()
	}
	return nil
}

// RecordStage 记录一个阶段的执行结果
func (j *Journal) RecordStage(runID string, index int, name string, success bool, relayID string, errMsg string) error {
	if index < 0 {
		return fmt.Errorf("stage index must not be negative, got %d", index)
	}
	rec := StageRecord{
		RunID:   runID,
		Index:   index,
		Name:    name,
		Success: success,
		RelayID: relayID,
		Error:   errMsg,
		At:      time.Now(),
	}
	return j.putJSON(KeyRunStage(runID, index), &rec)
}

// LandedSet 返回运行中已落地 chunk 序号位图的副本
func (j *Journal) LandedSet(runID string) *roaring.Bitmap {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if bm, ok := j.landed[runID]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// LandedChunks 已落地 chunk 的序号列表（升序）
func (j *Journal) LandedChunks(runID string) []uint32 {
	return j.LandedSet(runID).ToArray()
}

// GetRun 读取运行元数据及全部明细
func (j *Journal) GetRun(runID string) (*RunView, error) {
	view := &RunView{}
	if err := j.getJSON(KeyRunMeta(runID), &view.Run); err != nil {
		return nil, err
	}

	err := j.db.View(func(txn *badger.Txn) error {
		chunkPrefix := []byte(PrefixRunChunks(runID))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = chunkPrefix
		it := txn.NewIterator(opts)
		for it.Seek(chunkPrefix); it.ValidForPrefix(chunkPrefix); it.Next() {
			var rec ChunkRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			view.Chunks = append(view.Chunks, rec)
		}
		it.Close()

		stagePrefix := []byte(PrefixRunStages(runID))
		opts = badger.DefaultIteratorOptions
		opts.Prefix = stagePrefix
		it = txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(stagePrefix); it.ValidForPrefix(stagePrefix); it.Next() {
			var rec StageRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			view.Stages = append(view.Stages, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListRuns 按运行 ID 倒序（即开始时间倒序）返回最近的运行
func (j *Journal) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	prefix := []byte(PrefixRunMeta())
	out := make([]RunRecord, 0, limit)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// 反向迭代要 Seek 到前缀区间的上界
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var rec RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (j *Journal) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (j *Journal) getJSON(key string, v interface{}) error {
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrRunNotFound
	}
	return err
}

// newRunID 时间有序的运行 ID：十六进制纳秒时间戳加随机后缀
func newRunID() string {
	return fmt.Sprintf("%016x-%04x", time.Now().UnixNano(), rand.Uint32()&0xFFFF)
}
