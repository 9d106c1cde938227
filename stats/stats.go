package stats

import (
	"sync"
)

// Stats 流水线运行统计：计数器 + 延迟分位
type Stats struct {
	statsLock   sync.RWMutex
	eventCounts map[string]uint64
	latency     *LatencyRecorder
}

func NewStats() *Stats {
	return &Stats{
		eventCounts: make(map[string]uint64),
		latency:     NewLatencyRecorder(0),
	}
}

// 记录一次事件（chunk_sent / chunk_landed / retry 等）
func (s *Stats) RecordEvent(name string) {
	s.AddEvent(name, 1)
}

// 按增量记录事件
func (s *Stats) AddEvent(name string, delta uint64) {
	if s == nil || name == "" {
		return
	}
	s.statsLock.Lock()
	defer s.statsLock.Unlock()

	if s.eventCounts == nil {
		s.eventCounts = make(map[string]uint64)
	}
	s.eventCounts[name] += delta
}

// 记录一次延迟样本（submit / confirm / stage 等耗时）
func (s *Stats) RecordLatency(name string, d int64) {
	if s == nil {
		return
	}
	s.latency.RecordNanos(name, d)
}

// 获取事件计数统计
func (s *Stats) GetEventCounts() map[string]uint64 {
	s.statsLock.RLock()
	defer s.statsLock.RUnlock()

	// 复制统计数据
	counts := make(map[string]uint64)
	for name, count := range s.eventCounts {
		counts[name] = count
	}
	return counts
}

// Snapshot 汇总快照；reset=true 时清空延迟样本（计数器保留）
type Snapshot struct {
	Events  map[string]uint64         `json:"events"`
	Latency map[string]LatencySummary `json:"latency"`
}

func (s *Stats) Snapshot(reset bool) Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		Events:  s.GetEventCounts(),
		Latency: s.latency.Snapshot(reset),
	}
}

// Latency 返回内部延迟记录器，便于直接注入
func (s *Stats) Latency() *LatencyRecorder {
	if s == nil {
		return nil
	}
	return s.latency
}
