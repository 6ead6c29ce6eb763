package sink

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/google/uuid"

	"netpulse/internal/logger"
	"netpulse/pkg/model"
)

// JSONLines 每个事件写为一行 {"type":...,"event":...}
type JSONLines struct {
	mu        sync.Mutex
	enc       *json.Encoder
	sessionID string
	log       logger.Logger
	written   int64
}

// NewJSONLines 创建写入 w 的 Sink，log 为空时不记录写入失败
func NewJSONLines(w io.Writer, log logger.Logger) *JSONLines {
	if log == nil {
		log = logger.NewNop()
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLines{
		enc:       enc,
		sessionID: uuid.NewString(),
		log:       log,
	}
}

// Handle 编码并写入一行
func (j *JSONLines) Handle(ev model.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(model.Wrap(ev)); err != nil {
		j.log.Err(err, "写入事件失败", "type", string(ev.Type()))
		return
	}
	j.written++
}

// CurrentSessionID 会话 ID
func (j *JSONLines) CurrentSessionID() string { return j.sessionID }

// Written 成功写入的事件数
func (j *JSONLines) Written() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written
}
