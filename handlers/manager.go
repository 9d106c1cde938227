package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"solbundle/journal"
	"solbundle/logs"
	"solbundle/pipeline"
	"solbundle/stats"
)

// Ops 控制台可触发的流水线操作
type Ops interface {
	ExecuteDistribute(ctx context.Context, req *pipeline.DistributeRequest) (*pipeline.Result, error)
	ExecuteMix(ctx context.Context, req *pipeline.MixRequest) (*pipeline.Result, error)
	ExecuteCreate(ctx context.Context, req *pipeline.CreateRequest) (*pipeline.Result, error)
	ValidateDistributionInputs(req *pipeline.DistributeRequest) error
	ValidateMixInputs(req *pipeline.MixRequest) error
	ValidateCreateInputs(req *pipeline.CreateRequest) error
}

// RunStore 运行记录查询。journal 关闭时为 nil，相关接口返回 503。
type RunStore interface {
	GetRun(runID string) (*journal.RunView, error)
	ListRuns(limit int) ([]journal.RunRecord, error)
}

// Manager 管理所有HTTP处理器及其依赖
type Manager struct {
	ops  Ops
	runs RunStore

	// 统计相关字段
	Stats  *stats.Stats
	Logger logs.Logger
}

// NewManager 创建新的处理器管理器
func NewManager(ops Ops, runs RunStore, st *stats.Stats, logger logs.Logger) *Manager {
	if st == nil {
		st = stats.NewStats()
	}
	if logger == nil {
		logger = logs.Nop{}
	}
	return &Manager{
		ops:    ops,
		runs:   runs,
		Stats:  st,
		Logger: logger,
	}
}

// RegisterRoutes 注册所有路由
func (m *Manager) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	// 流水线操作
	api.POST("/distribute", m.HandleDistribute)
	api.POST("/mix", m.HandleMix)
	api.POST("/create", m.HandleCreate)
	// 只做校验，不触发执行（前端提交前预检）
	api.POST("/validate/distribute", m.HandleValidateDistribute)
	api.POST("/validate/mix", m.HandleValidateMix)
	api.POST("/validate/create", m.HandleValidateCreate)
	// 运行记录
	api.GET("/runs", m.HandleListRuns)
	api.GET("/runs/:id", m.HandleGetRun)
	// 运行统计
	api.GET("/stats", m.HandleStats)
	api.GET("/health", m.HandleHealth)
}

// respondResult 统一返回流水线结果。
// 校验类错误是调用方的问题，返回 400；执行类失败返回 200 + 完整 Result，
// 控制台需要 per-chunk 的落块明细而不是一个裸错误串。
func (m *Manager) respondResult(c *gin.Context, res *pipeline.Result, err error) {
	if err != nil {
		if kind, ok := pipeline.KindOf(err); ok && kind == pipeline.KindValidation {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		m.Logger.Warn("[Handlers] %s run failed: %v", res.Operation, err)
	}
	c.JSON(http.StatusOK, res)
}
