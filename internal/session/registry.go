package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"netpulse/pkg/model"
	"netpulse/pkg/traffic"
)

// Token 任务句柄，由 Registry 发放，任务存续期间唯一且不复用
type Token uint64

// Context 单个任务的可变状态
type Context struct {
	TaskID           string
	TaskType         model.TaskType
	CreatedAt        time.Time
	OriginalRequest  *traffic.Request
	CurrentRequest   *traffic.Request
	Response         *traffic.Response
	Body             []byte
	Metrics          *model.Metrics
	AwaitingDecoding bool
}

// Snapshot 任务的只读摘要
type Snapshot struct {
	TaskID string
	URL    string
}

// Registry 任务上下文注册表。所有操作由同一把互斥锁串行化，
// 临界区内只做 map 读写。
type Registry struct {
	next  atomic.Uint64
	mu    sync.Mutex
	tasks map[Token]*Context
	now   func() time.Time
}

// NewRegistry 创建注册表，now 为空时使用 time.Now
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		tasks: make(map[Token]*Context),
		now:   now,
	}
}

// Issue 发放新的任务句柄
func (r *Registry) Issue() Token {
	return Token(r.next.Add(1))
}

// GetOrCreate 获取或创建任务上下文；req 非空时更新当前请求，
// 首次记录的请求同时作为原始请求
func (r *Registry) GetOrCreate(tok Token, kind model.TaskType, req *traffic.Request) *Context {
	r.mu.Lock()
	c, ok := r.tasks[tok]
	if !ok {
		// 生成 id 和读取时钟不占用锁，重新加锁后再确认一次
		r.mu.Unlock()
		id, now := uuid.NewString(), r.now()
		r.mu.Lock()
		if c, ok = r.tasks[tok]; !ok {
			c = &Context{TaskID: id, TaskType: kind, CreatedAt: now}
			r.tasks[tok] = c
		}
	}
	defer r.mu.Unlock()

	if req != nil {
		if c.OriginalRequest == nil {
			c.OriginalRequest = req
		}
		c.CurrentRequest = req
	}
	return c
}

// UpdateRequest 更新当前请求（例如重定向）
func (r *Registry) UpdateRequest(tok Token, req *traffic.Request) bool {
	return r.update(tok, func(c *Context) { c.CurrentRequest = req })
}

// SetResponse 记录响应快照
func (r *Registry) SetResponse(tok Token, resp *traffic.Response) bool {
	return r.update(tok, func(c *Context) { c.Response = resp })
}

// AppendBody 追加响应体数据
func (r *Registry) AppendBody(tok Token, data []byte) bool {
	return r.update(tok, func(c *Context) { c.Body = append(c.Body, data...) })
}

// SetMetrics 记录统计信息
func (r *Registry) SetMetrics(tok Token, m *model.Metrics) bool {
	return r.update(tok, func(c *Context) { c.Metrics = m })
}

// MarkAwaitingDecoding 标记任务等待解码完成
func (r *Registry) MarkAwaitingDecoding(tok Token) bool {
	return r.update(tok, func(c *Context) { c.AwaitingDecoding = true })
}

// update 仅修改已存在的上下文，未知句柄返回 false
func (r *Registry) update(tok Token, fn func(c *Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.tasks[tok]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// Lookup 读取任务摘要
func (r *Registry) Lookup(tok Token) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.tasks[tok]
	if !ok {
		return Snapshot{}, false
	}
	s := Snapshot{TaskID: c.TaskID}
	if c.CurrentRequest != nil {
		s.URL = c.CurrentRequest.URL
	} else if c.OriginalRequest != nil {
		s.URL = c.OriginalRequest.URL
	}
	return s, true
}

// Remove 取出并删除任务上下文，每个任务只应在终止回调时调用一次
func (r *Registry) Remove(tok Token) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.tasks[tok]
	if !ok {
		return nil
	}
	delete(r.tasks, tok)
	return c
}

// Len 返回存活任务数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
