package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"solbundle/pipeline"
)

// HandleCreate 处理代币创建/发射请求
func (m *Manager) HandleCreate(c *gin.Context) {
	m.Stats.RecordEvent("api_create")

	var req pipeline.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	m.Logger.Info("[Handlers] create: token %s (%s) on %s, %d wallets",
		req.Token.Name, req.Token.Symbol, req.Platform, len(req.WalletSecrets))
	res, err := m.ops.ExecuteCreate(c.Request.Context(), &req)
	m.respondResult(c, res, err)
}
