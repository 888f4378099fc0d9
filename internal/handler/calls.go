package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/code-100-precent/TrunkEcho/internal/models"
	"github.com/code-100-precent/TrunkEcho/pkg/cache"
	"github.com/code-100-precent/TrunkEcho/pkg/call"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"github.com/code-100-precent/TrunkEcho/pkg/response"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
)

// HealthCheck health check endpoint
func (h *Handlers) HealthCheck(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleActiveCalls 返回所有活动通话快照
func (h *Handlers) handleActiveCalls(c *gin.Context) {
	response.Success(c, "success", gin.H{
		"calls": h.dispatcher.ActiveCalls(),
	})
}

type startCallRequest struct {
	Party     string `json:"party" binding:"required"`
	PartyType string `json:"partyType"` // subscriber / group / dispatcher / mobile
	Class     string `json:"class" binding:"required"`
	Priority  int    `json:"priority"`
	Duplex    bool   `json:"duplex"`
}

// handleStartCall 发起呼叫
func (h *Handlers) handleStartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request: "+err.Error(), nil)
		return
	}

	class, ok := call.ParseClass(req.Class)
	if !ok {
		response.Fail(c, "unknown call class: "+req.Class, nil)
		return
	}

	party := signaling.Party{ID: req.Party, Type: parsePartyType(req.PartyType)}
	id, err := h.dispatcher.StartCall(party, class, req.Priority, req.Duplex)
	if err != nil {
		if errors.Is(err, call.ErrAdmissionDenied) {
			response.Fail(c, "maximum concurrent calls reached", nil)
			return
		}
		response.Fail(c, err.Error(), nil)
		return
	}
	response.Success(c, "call started", gin.H{"id": id})
}

type listenRequest struct {
	Party     string `json:"party" binding:"required"`
	PartyType string `json:"partyType"`
}

// handleListen 对目标发起环境侦听；端到端加密通话拒绝侦听
func (h *Handlers) handleListen(c *gin.Context) {
	var req listenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request: "+err.Error(), nil)
		return
	}

	party := signaling.Party{ID: req.Party, Type: parsePartyType(req.PartyType)}
	if err := h.dispatcher.Listen(party); err != nil {
		if errors.Is(err, signaling.ErrRejected) {
			response.Fail(c, "target call is end-to-end encrypted", nil)
			return
		}
		response.Fail(c, err.Error(), nil)
		return
	}
	response.Success(c, "listen requested", nil)
}

func parsePartyType(s string) signaling.PartyType {
	switch s {
	case "group":
		return signaling.PartyGroup
	case "dispatcher":
		return signaling.PartyDispatcher
	case "mobile":
		return signaling.PartyMobile
	default:
		return signaling.PartySubscriber
	}
}

func (h *Handlers) sessionID(c *gin.Context) (uint64, bool) {
	id := cast.ToUint64(c.Param("id"))
	if id == 0 {
		response.Fail(c, "invalid session id", nil)
		return 0, false
	}
	return id, true
}

// handleAnswer 接听等待中的来话
func (h *Handlers) handleAnswer(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.dispatcher.Answer(id); err != nil {
		response.Fail(c, err.Error(), nil)
		return
	}
	response.Success(c, "answered", nil)
}

// handleHangup 挂断；keepWindow=true 时窗口保留用于重拨
func (h *Handlers) handleHangup(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	keepWindow := cast.ToBool(c.Query("keepWindow"))
	if err := h.dispatcher.Hangup(id, keepWindow); err != nil {
		response.Fail(c, err.Error(), nil)
		return
	}
	response.Success(c, "released", nil)
}

// handlePTTPress 按下话权键
func (h *Handlers) handlePTTPress(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.dispatcher.PTTPress(id); err != nil {
		response.Fail(c, err.Error(), nil)
		return
	}
	response.Success(c, "pressed", nil)
}

// handlePTTRelease 释放话权键
func (h *Handlers) handlePTTRelease(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.dispatcher.PTTRelease(id); err != nil {
		response.Fail(c, err.Error(), nil)
		return
	}
	response.Success(c, "released", nil)
}

// handleCallHistory 分页查询通话历史
func (h *Handlers) handleCallHistory(c *gin.Context) {
	filter := models.CallHistoryFilter{
		Party:  c.Query("party"),
		Class:  c.Query("class"),
		Limit:  cast.ToInt(c.DefaultQuery("size", "50")),
		Offset: cast.ToInt(c.Query("offset")),
	}
	if f := c.Query("failure"); f != "" {
		failure := models.CallFailure(f)
		filter.Failure = &failure
	}
	layout := time.RFC3339
	if s := c.Query("since"); s != "" {
		if ts, err := time.Parse(layout, s); err == nil {
			filter.Since = &ts
		}
	}
	if s := c.Query("until"); s != "" {
		if ts, err := time.Parse(layout, s); err == nil {
			filter.Until = &ts
		}
	}

	records, total, err := models.QueryCallHistories(h.db, filter)
	if err != nil {
		response.AbortWithStatusJSON(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, "success", gin.H{
		"list":  records,
		"total": total,
	})
}

// handleCallHistoryDetail 单条历史详情（含传输段）
// 历史记录落库后不再变更，适合缓存；清理任务删除的旧记录最多滞留一个过期周期
func (h *Handlers) handleCallHistoryDetail(c *gin.Context) {
	id := cast.ToUint(c.Param("id"))
	if id == 0 {
		response.Fail(c, "invalid history id", nil)
		return
	}

	ctx := c.Request.Context()
	key := fmt.Sprintf("history:detail:%d", id)
	if v, ok := cache.Get(ctx, key); ok {
		response.Success(c, "success", v)
		return
	}

	record, err := models.GetCallHistory(h.db, id)
	if err != nil {
		response.Fail(c, "record not found", nil)
		return
	}
	if err := cache.Set(ctx, key, record, 10*time.Minute); err != nil {
		logger.Warn("cache history detail failed", zap.Error(err))
	}
	response.Success(c, "success", record)
}
