package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"solbundle/pipeline"
)

// HandleDistribute 处理资金分发请求
func (m *Manager) HandleDistribute(c *gin.Context) {
	m.Stats.RecordEvent("api_distribute")

	var req pipeline.DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	m.Logger.Info("[Handlers] distribute: %d recipients", len(req.Recipients))
	res, err := m.ops.ExecuteDistribute(c.Request.Context(), &req)
	m.respondResult(c, res, err)
}
