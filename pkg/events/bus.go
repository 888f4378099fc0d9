package events

import (
	"sync"
	"time"

	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"go.uber.org/zap"
)

// Well-known notification types published by the call core.
const (
	TypeCallIncoming      = "call.incoming"      // new inbound call awaiting answer
	TypeCallDenied        = "call.denied"        // admission rejected, user-visible
	TypeCallFailed        = "call.failed"        // setup timeout / rejected request
	TypeCallReleased      = "call.released"      // normal release
	TypeCallPartyBusy     = "call.party_busy"    // party moved into another call
	TypeFloorLost         = "call.floor_lost"    // another session took the microphone
	TypePTTDenied         = "call.ptt_denied"    // transmit demand rejected, button back to idle
	TypeOwnershipChange   = "call.ownership"     // group/broadcast display identity changed
	TypeCallTick          = "call.tick"          // periodic duration update for the console
	TypeTransferDone      = "call.transfer_done" // attachment transfer completed
	TypeServerUnavailable = "server.unavailable" // transport/VOIP failure, blocking dialog
)

// Event 系统事件
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source"`
}

// Handler 事件处理器
type Handler func(event Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus 进程内通知总线。呼叫核心发布用户可见通知，
// websocket 网关和测试订阅消费。
type Bus struct {
	handlers map[string][]subscription
	nextID   uint64
	mu       sync.RWMutex
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]subscription)}
}

var (
	globalBus  *Bus
	globalOnce sync.Once
)

// GetBus 获取全局通知总线实例
func GetBus() *Bus {
	globalOnce.Do(func() {
		globalBus = NewBus()
	})
	return globalBus
}

// Subscribe 订阅事件，eventType 为 "*" 时接收全部。
// 返回的函数取消本次订阅；连接断开后必须调用，否则处理器泄漏。
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, fn: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[eventType]
		for i, sub := range subs {
			if sub.id == id {
				b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish 发布事件，处理器同步执行。核心在单事件循环上发布，
// 处理器不得阻塞；需要异步的订阅方自行切换 goroutine。
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := append([]subscription{}, b.handlers[event.Type]...)
	subs = append(subs, b.handlers["*"]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		logger.Debug("no handlers for notification", zap.String("eventType", event.Type))
		return
	}

	for _, sub := range subs {
		callHandler(sub.fn, event)
	}
}

func callHandler(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notification handler panic",
				zap.String("eventType", event.Type),
				zap.Any("error", r))
		}
	}()
	h(event)
}

// PublishEvent 便捷方法：发布事件到全局总线
func PublishEvent(eventType string, data map[string]interface{}, source string) {
	GetBus().Publish(Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
	})
}
