package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"go.uber.org/zap"
)

var notifyUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // 控制台与服务端同机部署
	},
}

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// HandleNotificationSocket 将呼叫核心的通知推送给控制台前端。
// 每个连接独立订阅事件总线；总线回调不阻塞事件循环，
// 通过带缓冲的通道切换到连接自己的写 goroutine。
func (h *Handlers) HandleNotificationSocket(c *gin.Context) {
	conn, err := notifyUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("notification socket upgrade failed", zap.Error(err))
		return
	}

	out := make(chan events.Event, 64)
	unsubscribe := h.bus.Subscribe("*", func(ev events.Event) {
		select {
		case out <- ev:
		default:
			// 慢消费者丢弃而不是阻塞呼叫核心
		}
	})
	// 连接关闭后必须退订，否则总线持有的闭包和缓冲通道泄漏
	defer unsubscribe()

	go h.writeLoop(conn, out)
	h.readLoop(conn)
}

func (h *Handlers) writeLoop(conn *websocket.Conn, out <-chan events.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-out:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("notification write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(1024)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
