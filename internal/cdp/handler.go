package cdp

import (
	"context"
	"encoding/base64"
	"strconv"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/network"

	adapter "netpulse/internal/adapter/cdp"
)

// streams Network 域的事件订阅
type streams struct {
	sent     network.RequestWillBeSentClient
	response network.ResponseReceivedClient
	data     network.DataReceivedClient
	finished network.LoadingFinishedClient
	failed   network.LoadingFailedClient
}

// subscribe 订阅事件并同步各事件流，保证按浏览器发送顺序接收
func subscribe(ctx context.Context, c *cdp.Client) (*streams, error) {
	s := &streams{}
	var err error
	if s.sent, err = c.Network.RequestWillBeSent(ctx); err != nil {
		return nil, err
	}
	if s.response, err = c.Network.ResponseReceived(ctx); err != nil {
		s.close()
		return nil, err
	}
	if s.data, err = c.Network.DataReceived(ctx); err != nil {
		s.close()
		return nil, err
	}
	if s.finished, err = c.Network.LoadingFinished(ctx); err != nil {
		s.close()
		return nil, err
	}
	if s.failed, err = c.Network.LoadingFailed(ctx); err != nil {
		s.close()
		return nil, err
	}
	if err = cdp.Sync(s.sent, s.response, s.data, s.finished, s.failed); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *streams) close() {
	if s.sent != nil {
		s.sent.Close()
	}
	if s.response != nil {
		s.response.Close()
	}
	if s.data != nil {
		s.data.Close()
	}
	if s.finished != nil {
		s.finished.Close()
	}
	if s.failed != nil {
		s.failed.Close()
	}
}

// consume 持续接收网络事件，结束阶段在独立 goroutine 中获取响应体
func (m *Manager) consume(ctx context.Context, s *streams) {
	var wg sync.WaitGroup
	defer func() {
		s.close()
		wg.Wait()
		close(m.done)
	}()

	m.log.Info("开始消费网络事件流")
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-s.sent.Ready():
			var ev *network.RequestWillBeSentReply
			if ev, err = s.sent.Recv(); err == nil {
				m.onRequestWillBeSent(ev)
			}
		case <-s.response.Ready():
			var ev *network.ResponseReceivedReply
			if ev, err = s.response.Recv(); err == nil {
				m.onResponseReceived(ev)
			}
		case <-s.data.Ready():
			var ev *network.DataReceivedReply
			if ev, err = s.data.Recv(); err == nil {
				m.onDataReceived(ev)
			}
		case <-s.finished.Ready():
			var ev *network.LoadingFinishedReply
			if ev, err = s.finished.Recv(); err == nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					m.onLoadingFinished(ctx, ev)
				}()
			}
		case <-s.failed.Ready():
			var ev *network.LoadingFailedReply
			if ev, err = s.failed.Recv(); err == nil {
				m.onLoadingFailed(ev)
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				m.err = err
				m.log.Err(err, "接收网络事件失败")
			}
			return
		}
	}
}

// onRequestWillBeSent 新请求创建任务，重定向更新当前请求
func (m *Manager) onRequestWillBeSent(ev *network.RequestWillBeSentReply) {
	req := adapter.ToNeutralRequest(ev.Request, ev.Type)

	m.mu.Lock()
	t, ok := m.requests[ev.RequestID]
	if ok && ev.RedirectResponse != nil {
		t.redirects++
		t.response = nil
		t.received = 0
		t.total = -1
	}
	m.mu.Unlock()

	if ok {
		if ev.RedirectResponse == nil {
			m.log.Debug("重复的请求事件", "requestId", string(ev.RequestID))
			return
		}
		m.rec.RequestRedirected(t.tok, req)
		return
	}

	tok := m.rec.TaskCreated(adapter.TaskType(ev.Type, req), req)
	m.mu.Lock()
	m.requests[ev.RequestID] = &tracked{tok: tok, startedAt: m.now(), total: -1}
	m.mu.Unlock()
}

// onResponseReceived 记录响应头部
func (m *Manager) onResponseReceived(ev *network.ResponseReceivedReply) {
	raw := ev.Response
	resp := adapter.ToNeutralResponse(raw)
	m.mu.Lock()
	t, ok := m.requests[ev.RequestID]
	if ok {
		t.response = &raw
		if n, err := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64); err == nil {
			t.total = n
		}
	}
	m.mu.Unlock()
	if !ok {
		m.ignore(ev.RequestID, "response")
		return
	}
	m.rec.ResponseReceived(t.tok, resp)
}

// onDataReceived 累计接收字节数，按需上报进度
func (m *Manager) onDataReceived(ev *network.DataReceivedReply) {
	m.mu.Lock()
	t, ok := m.requests[ev.RequestID]
	var received, total int64
	if ok {
		t.received += int64(ev.DataLength)
		received, total = t.received, t.total
	}
	m.mu.Unlock()
	if !ok {
		m.ignore(ev.RequestID, "data")
		return
	}
	if m.opts.Progress {
		m.rec.ProgressUpdated(t.tok, received, total)
	}
}

// onLoadingFinished 获取响应体并结束任务
func (m *Manager) onLoadingFinished(ctx context.Context, ev *network.LoadingFinishedReply) {
	t := m.take(ev.RequestID)
	if t == nil {
		m.ignore(ev.RequestID, "finished")
		return
	}

	received := t.received
	if m.fetchBody != nil {
		bctx, cancel := context.WithTimeout(ctx, m.opts.BodyTimeout)
		body, err := m.fetchBody(bctx, ev.RequestID)
		cancel()
		if err != nil {
			m.log.Debug("获取响应体失败", "requestId", string(ev.RequestID), "error", err.Error())
		} else if len(body) > 0 {
			m.rec.DataReceived(t.tok, body)
			if received == 0 {
				received = int64(len(body))
			}
		}
	}

	m.rec.MetricsCollected(t.tok, adapter.ToMetrics(adapter.MetricsInput{
		Response:      t.response,
		StartedAt:     t.startedAt,
		FinishedAt:    m.now(),
		Received:      received,
		RedirectCount: t.redirects,
	}))
	m.rec.Completed(t.tok, nil)
}

// onLoadingFailed 以映射后的错误结束任务
func (m *Manager) onLoadingFailed(ev *network.LoadingFailedReply) {
	t := m.take(ev.RequestID)
	if t == nil {
		m.ignore(ev.RequestID, "failed")
		return
	}
	canceled := ev.Canceled != nil && *ev.Canceled
	m.rec.MetricsCollected(t.tok, adapter.ToMetrics(adapter.MetricsInput{
		Response:      t.response,
		StartedAt:     t.startedAt,
		FinishedAt:    m.now(),
		Received:      t.received,
		RedirectCount: t.redirects,
	}))
	m.rec.Completed(t.tok, adapter.LoadingError(ev.ErrorText, canceled))
}

// take 取出并删除请求状态
func (m *Manager) take(id network.RequestID) *tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.requests[id]
	if !ok {
		return nil
	}
	delete(m.requests, id)
	return t
}

func (m *Manager) ignore(id network.RequestID, stage string) {
	m.log.Debug("未跟踪的请求，忽略事件", "requestId", string(id), "stage", stage)
}

func decodeBody(body string, base64Encoded bool) ([]byte, error) {
	if !base64Encoded {
		return []byte(body), nil
	}
	return base64.StdEncoding.DecodeString(body)
}
