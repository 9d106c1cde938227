package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"solbundle/pipeline"
)

// 三个预检接口：只跑输入校验，不碰 preparer/relay。
// 前端在用户填完表单后调用，提交前就能把明显的错误拦下来。

// HandleValidateDistribute 校验分发输入
func (m *Manager) HandleValidateDistribute(c *gin.Context) {
	m.Stats.RecordEvent("api_validate")

	var req pipeline.DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	m.respondValidation(c, m.ops.ValidateDistributionInputs(&req))
}

// HandleValidateMix 校验混币输入
func (m *Manager) HandleValidateMix(c *gin.Context) {
	m.Stats.RecordEvent("api_validate")

	var req pipeline.MixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	m.respondValidation(c, m.ops.ValidateMixInputs(&req))
}

// HandleValidateCreate 校验创建输入
func (m *Manager) HandleValidateCreate(c *gin.Context) {
	m.Stats.RecordEvent("api_validate")

	var req pipeline.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	m.respondValidation(c, m.ops.ValidateCreateInputs(&req))
}

func (m *Manager) respondValidation(c *gin.Context, err error) {
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}
