package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"solbundle/journal"
)

// HandleListRuns 返回最近的运行记录，最新在前。?limit=N 控制条数。
func (m *Manager) HandleListRuns(c *gin.Context) {
	m.Stats.RecordEvent("api_runs")
	if m.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := m.runs.ListRuns(limit)
	if err != nil {
		m.Logger.Error("[Handlers] list runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// HandleGetRun 返回单次运行的完整视图：run 元信息 + 逐 chunk / 逐 stage 结果
func (m *Manager) HandleGetRun(c *gin.Context) {
	m.Stats.RecordEvent("api_runs")
	if m.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}

	runID := c.Param("id")
	view, err := m.runs.GetRun(runID)
	if err != nil {
		if errors.Is(err, journal.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		m.Logger.Error("[Handlers] get run %s: %v", runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, view)
}
