package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleStats 返回事件计数与延迟分位快照。?reset=true 时清空延迟样本。
func (m *Manager) HandleStats(c *gin.Context) {
	reset := c.Query("reset") == "true"
	c.JSON(http.StatusOK, m.Stats.Snapshot(reset))
}

// HandleHealth 健康检查
func (m *Manager) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
