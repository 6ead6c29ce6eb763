package sink

import (
	"sync/atomic"

	"github.com/google/uuid"

	"netpulse/pkg/model"
)

// Channel 把事件投递到带缓冲的通道，通道满时丢弃并计数
type Channel struct {
	events    chan model.Event
	sessionID string
	dropped   atomic.Int64
}

// NewChannel 创建通道 Sink，size 小于 1 时按 1 处理
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{
		events:    make(chan model.Event, size),
		sessionID: uuid.NewString(),
	}
}

// Handle 非阻塞发送
func (c *Channel) Handle(ev model.Event) {
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

// CurrentSessionID 会话 ID
func (c *Channel) CurrentSessionID() string { return c.sessionID }

// Events 只读事件通道
func (c *Channel) Events() <-chan model.Event { return c.events }

// Dropped 因通道已满丢弃的事件数
func (c *Channel) Dropped() int64 { return c.dropped.Load() }
