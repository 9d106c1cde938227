package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"solbundle/pipeline"
)

// HandleMix 处理混币请求
func (m *Manager) HandleMix(c *gin.Context) {
	m.Stats.RecordEvent("api_mix")

	var req pipeline.MixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	m.Logger.Info("[Handlers] mix: %d targets", len(req.Targets))
	res, err := m.ops.ExecuteMix(c.Request.Context(), &req)
	m.respondResult(c, res, err)
}
