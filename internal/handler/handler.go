package handler

import (
	"bytes"
	"io"
	"time"

	"netpulse/internal/logger"
	"netpulse/internal/redact"
	"netpulse/internal/rules"
	"netpulse/internal/session"
	"netpulse/pkg/model"
	"netpulse/pkg/traffic"
)

// Sink 事件的外部接收方
type Sink interface {
	Handle(ev model.Event)
	CurrentSessionID() string
}

// Handler 事件组装器：驱动任务生命周期，构建事件并经过滤、转换后发送给 Sink
type Handler struct {
	registry        *session.Registry
	sink            Sink
	filter          *rules.Filter
	redactor        *redact.Redactor
	waitForDecoding bool
	willHandleEvent func(model.Event) model.Event
	now             func() time.Time
	log             logger.Logger
}

// Config 配置选项
type Config struct {
	Sink            Sink
	Filter          *rules.Filter
	Redactor        *redact.Redactor
	WaitForDecoding bool
	// WillHandleEvent 在过滤之后、发送之前调用，返回 nil 表示丢弃
	WillHandleEvent func(model.Event) model.Event
	Logger          logger.Logger
	Now             func() time.Time
}

// New 创建事件组装器
func New(cfg Config) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &Handler{
		registry:        session.NewRegistry(cfg.Now),
		sink:            cfg.Sink,
		filter:          cfg.Filter,
		redactor:        cfg.Redactor,
		waitForDecoding: cfg.WaitForDecoding,
		willHandleEvent: cfg.WillHandleEvent,
		now:             cfg.Now,
		log:             cfg.Logger,
	}
	if h.log == nil {
		h.log = logger.NewNop()
	}
	return h
}

// TaskCreated 登记新任务并立即发送创建事件
func (h *Handler) TaskCreated(kind model.TaskType, req *traffic.Request) session.Token {
	tok := h.registry.Issue()
	c := h.registry.GetOrCreate(tok, kind, req)
	if req == nil {
		return tok
	}

	h.send(model.TaskCreated{
		TaskID:          c.TaskID,
		TaskType:        kind,
		CreatedAt:       c.CreatedAt,
		OriginalRequest: *req.Clone(),
		CurrentRequest:  req.Clone(),
		SessionID:       h.sessionID(),
	})
	return tok
}

// RequestRedirected 更新当前请求
func (h *Handler) RequestRedirected(tok session.Token, req *traffic.Request) {
	if !h.registry.UpdateRequest(tok, req) {
		h.ignoreLate(tok, "redirect")
	}
}

// ResponseReceived 记录响应快照
func (h *Handler) ResponseReceived(tok session.Token, resp *traffic.Response) {
	if !h.registry.SetResponse(tok, resp) {
		h.ignoreLate(tok, "response")
	}
}

// DataReceived 追加响应体数据
func (h *Handler) DataReceived(tok session.Token, data []byte) {
	if !h.registry.AppendBody(tok, data) {
		h.ignoreLate(tok, "data")
	}
}

// ProgressUpdated 发送进度事件，不影响任务状态
func (h *Handler) ProgressUpdated(tok session.Token, completed, total int64) {
	snap, ok := h.registry.Lookup(tok)
	if !ok {
		h.ignoreLate(tok, "progress")
		return
	}
	h.send(model.TaskProgress{
		TaskID:     snap.TaskID,
		RequestURL: snap.URL,
		Completed:  completed,
		Total:      total,
	})
}

// MetricsCollected 记录统计信息
func (h *Handler) MetricsCollected(tok session.Token, m *model.Metrics) {
	if !h.registry.SetMetrics(tok, m) {
		h.ignoreLate(tok, "metrics")
	}
}

// Completed 任务结束。等待解码模式下成功的任务推迟到 DecodingCompleted，
// 出错的任务立即结束。
func (h *Handler) Completed(tok session.Token, err error) {
	if h.waitForDecoding && err == nil {
		if !h.registry.MarkAwaitingDecoding(tok) {
			h.ignoreLate(tok, "completed")
		}
		return
	}
	h.finish(tok, err)
}

// DecodingCompleted 解码结束，仅在等待解码模式下生效
func (h *Handler) DecodingCompleted(tok session.Token, err error) {
	if !h.waitForDecoding {
		h.log.Debug("未开启等待解码，忽略解码回调", "token", uint64(tok))
		return
	}
	h.finish(tok, err)
}

// Pending 返回尚未结束的任务数
func (h *Handler) Pending() int {
	return h.registry.Len()
}

func (h *Handler) finish(tok session.Token, err error) {
	c := h.registry.Remove(tok)
	if c == nil {
		h.ignoreLate(tok, "terminal")
		return
	}
	if c.OriginalRequest == nil {
		h.log.Debug("缺少原始请求，丢弃完成事件", "taskId", c.TaskID)
		return
	}
	h.send(h.buildCompleted(c, err))
}

// buildCompleted 在锁外根据已移除的上下文构建完成事件
func (h *Handler) buildCompleted(c *session.Context, err error) model.TaskCompleted {
	ev := model.TaskCompleted{
		TaskID:          c.TaskID,
		TaskType:        c.TaskType,
		CreatedAt:       c.CreatedAt,
		Duration:        h.now().Sub(c.CreatedAt),
		OriginalRequest: *c.OriginalRequest.Clone(),
		CurrentRequest:  c.CurrentRequest.Clone(),
		Response:        c.Response.Clone(),
		Error:           model.NewTaskError(err),
		RequestBody:     h.requestBody(c),
		Metrics:         c.Metrics.Clone(),
		SessionID:       h.sessionID(),
	}
	if len(c.Body) > 0 {
		ev.ResponseBody = bytes.Clone(c.Body)
	}
	return ev
}

// requestBody 优先使用缓冲的请求体，否则通过 GetBody 重建
func (h *Handler) requestBody(c *session.Context) []byte {
	req := c.OriginalRequest
	if req.Body != nil {
		return bytes.Clone(req.Body)
	}
	if req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		h.log.Err(err, "重建请求体失败", "taskId", c.TaskID)
		return nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		h.log.Err(err, "读取请求体失败", "taskId", c.TaskID)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// send 过滤 → 脱敏 → 转换 → 发送。过滤基于未脱敏的原始 URL。
func (h *Handler) send(ev model.Event) {
	if !h.filter.KeepEvent(ev) {
		return
	}
	ev = h.redact(ev)
	if h.willHandleEvent != nil {
		ev = h.willHandleEvent(ev)
		if ev == nil {
			return
		}
	}
	if h.sink == nil {
		return
	}
	h.sink.Handle(ev)
}

// redact 对事件中的 URL、头部和 JSON 数据脱敏
func (h *Handler) redact(ev model.Event) model.Event {
	if h.redactor == nil {
		return ev
	}
	switch e := ev.(type) {
	case model.TaskCreated:
		e.OriginalRequest = *h.redactor.Request(&e.OriginalRequest)
		e.CurrentRequest = h.redactor.Request(e.CurrentRequest)
		return e
	case model.TaskProgress:
		e.RequestURL = h.redactor.URL(e.RequestURL)
		return e
	case model.TaskCompleted:
		e.OriginalRequest = *h.redactor.Request(&e.OriginalRequest)
		e.CurrentRequest = h.redactor.Request(e.CurrentRequest)
		e.Response = h.redactor.Response(e.Response)
		e.RequestBody = h.redactor.Body(e.RequestBody)
		e.ResponseBody = h.redactor.Body(e.ResponseBody)
		return e
	}
	return ev
}

func (h *Handler) sessionID() string {
	if h.sink == nil {
		return ""
	}
	return h.sink.CurrentSessionID()
}

func (h *Handler) ignoreLate(tok session.Token, stage string) {
	h.log.Debug("任务上下文不存在，忽略回调", "token", uint64(tok), "stage", stage)
}
