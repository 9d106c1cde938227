// journal/keys.go
// 运行日志的统一 Key 定义
package journal

import "fmt"

// KeyVersion 全局 Key 版本前缀（"v1" → 产出 "v1_<key>"）。
// 改动记录格式时递增版本即可与旧数据并存。
const KeyVersion = "v1"

// withVer 把版本号拼到最前面（保持下划线风格：v1_<...>）
func withVer(s string) string {
	if KeyVersion == "" {
		return s
	}
	return KeyVersion + "_" + s
}

// KeyRunMeta 运行元数据
// 例：v1_runmeta_<runID>
func KeyRunMeta(runID string) string {
	return withVer(fmt.Sprintf("runmeta_%s", runID))
}

// PrefixRunMeta 运行元数据的扫描前缀
func PrefixRunMeta() string {
	return withVer("runmeta_")
}

// KeyRunChunk 单个 chunk 的提交记录
// 例：v1_runchunk_<runID>_00042
func KeyRunChunk(runID string, index int) string {
	return withVer(fmt.Sprintf("runchunk_%s_%05d", runID, index))
}

// PrefixRunChunks 某次运行全部 chunk 记录的扫描前缀
func PrefixRunChunks(runID string) string {
	return withVer(fmt.Sprintf("runchunk_%s_", runID))
}

// PrefixRunChunkAll 所有运行的 chunk 记录前缀（启动重建位图用）
func PrefixRunChunkAll() string {
	return withVer("runchunk_")
}

// KeyRunStage 单个阶段的执行记录
// 例：v1_runstage_<runID>_00003
func KeyRunStage(runID string, index int) string {
	return withVer(fmt.Sprintf("runstage_%s_%05d", runID, index))
}

// PrefixRunStages 某次运行全部阶段记录的扫描前缀
func PrefixRunStages(runID string) string {
	return withVer(fmt.Sprintf("runstage_%s_", runID))
}
