package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/code-100-precent/TrunkEcho/pkg/call"
	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/metrics"
)

// Handlers 控制台 HTTP/WebSocket 接口集合
type Handlers struct {
	db         *gorm.DB
	dispatcher *call.Dispatcher
	bus        *events.Bus
	transfers  *call.Transfers
}

// NewHandlers creates the handler set. Attachment uploads are stored under
// attachmentDir.
func NewHandlers(db *gorm.DB, dispatcher *call.Dispatcher, bus *events.Bus, attachmentDir string) *Handlers {
	return &Handlers{
		db:         db,
		dispatcher: dispatcher,
		bus:        bus,
		transfers:  call.NewTransfers(dispatcher, attachmentDir),
	}
}

// RegisterRoutes mounts the console API under prefix and the monitoring
// endpoints under monitorPrefix.
func (h *Handlers) RegisterRoutes(r *gin.Engine, prefix, monitorPrefix string) {
	api := r.Group(prefix)
	{
		api.GET("/healthz", h.HealthCheck)

		api.GET("/calls", h.handleActiveCalls)
		api.POST("/calls", h.handleStartCall)
		api.POST("/calls/listen", h.handleListen)
		api.POST("/calls/:id/answer", h.handleAnswer)
		api.POST("/calls/:id/hangup", h.handleHangup)
		api.POST("/calls/:id/ptt/press", h.handlePTTPress)
		api.POST("/calls/:id/ptt/release", h.handlePTTRelease)

		api.POST("/calls/:id/attachments", h.handleUploadAttachment)
		api.GET("/attachments/:jobId", h.handleAttachmentStatus)

		api.GET("/history", h.handleCallHistory)
		api.GET("/history/:id", h.handleCallHistoryDetail)

		api.GET("/notifications/ws", h.HandleNotificationSocket)
	}

	mon := r.Group(monitorPrefix)
	{
		mon.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
}
