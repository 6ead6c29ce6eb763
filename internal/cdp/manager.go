package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	"netpulse/internal/logger"
	"netpulse/internal/session"
	"netpulse/pkg/model"
	"netpulse/pkg/traffic"
)

// Recorder 接收浏览器网络事件转换后的回调
type Recorder interface {
	TaskCreated(kind model.TaskType, req *traffic.Request) session.Token
	RequestRedirected(tok session.Token, req *traffic.Request)
	ResponseReceived(tok session.Token, resp *traffic.Response)
	DataReceived(tok session.Token, data []byte)
	ProgressUpdated(tok session.Token, completed, total int64)
	MetricsCollected(tok session.Token, m *model.Metrics)
	Completed(tok session.Token, err error)
}

// Options 管理器配置
type Options struct {
	DevToolsURL string
	// Target 目标 ID，为空时选择第一个页面
	Target string
	// BodyTimeout 获取响应体的超时，默认 3 秒
	BodyTimeout time.Duration
	// Progress 是否把 dataReceived 转为进度事件
	Progress bool
	Logger   logger.Logger
}

// Manager 连接浏览器调试端口，把 Network 域事件转换为任务生命周期
type Manager struct {
	opts Options
	rec  Recorder
	log  logger.Logger
	now  func() time.Time

	conn   *rpcc.Conn
	client *cdp.Client
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// fetchBody 读取已完成请求的响应体
	fetchBody func(ctx context.Context, id network.RequestID) ([]byte, error)

	mu       sync.Mutex
	requests map[network.RequestID]*tracked
}

// tracked 单个浏览器请求的状态
type tracked struct {
	tok       session.Token
	startedAt time.Time
	redirects int
	received  int64
	total     int64
	response  *network.Response
}

// New 创建管理器
func New(opts Options, rec Recorder) *Manager {
	if opts.BodyTimeout <= 0 {
		opts.BodyTimeout = 3 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		opts:     opts,
		rec:      rec,
		log:      log.With("component", "cdp"),
		now:      time.Now,
		requests: make(map[network.RequestID]*tracked),
	}
}

// Attach 连接到目标并启用 Network 域
func (m *Manager) Attach(ctx context.Context) error {
	if m.client != nil {
		return errors.New("already attached")
	}
	sel, err := m.selectTarget(ctx)
	if err != nil {
		return err
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("dial target %s: %w", sel.ID, err)
	}
	client := cdp.NewClient(conn)

	runCtx, cancel := context.WithCancel(context.Background())
	streams, err := subscribe(runCtx, client)
	if err != nil {
		cancel()
		conn.Close()
		return err
	}
	if err := client.Network.Enable(ctx, nil); err != nil {
		cancel()
		streams.close()
		conn.Close()
		return fmt.Errorf("enable network: %w", err)
	}

	m.conn = conn
	m.client = client
	m.cancel = cancel
	m.done = make(chan struct{})
	m.fetchBody = m.getResponseBody

	m.log.Info("已连接目标", "target", string(sel.ID), "url", sel.URL)
	go m.consume(runCtx, streams)
	return nil
}

// selectTarget 按 ID 选择目标，未指定时选择第一个页面
func (m *Manager) selectTarget(ctx context.Context) (*devtool.Target, error) {
	targets, err := devtool.New(m.opts.DevToolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	for _, t := range targets {
		if m.opts.Target != "" {
			if string(t.ID) == m.opts.Target {
				return t, nil
			}
			continue
		}
		if string(t.Type) == "page" {
			return t, nil
		}
	}
	if m.opts.Target != "" {
		return nil, fmt.Errorf("target %s not found", m.opts.Target)
	}
	return nil, errors.New("no page target")
}

// Wait 阻塞直到事件流结束
func (m *Manager) Wait() error {
	if m.done == nil {
		return nil
	}
	<-m.done
	return m.err
}

// Detach 断开连接，未结束的请求以取消结束
func (m *Manager) Detach() error {
	if m.cancel != nil {
		m.cancel()
	}
	var err error
	if m.conn != nil {
		err = m.conn.Close()
	}
	if m.done != nil {
		<-m.done
	}
	m.cancelPending()
	m.client = nil
	m.conn = nil
	return err
}

// Pending 返回正在跟踪的请求数
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *Manager) getResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	reply, err := m.client.Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(id))
	if err != nil {
		return nil, err
	}
	return decodeBody(reply.Body, reply.Base64Encoded)
}

func (m *Manager) cancelPending() {
	m.mu.Lock()
	pending := m.requests
	m.requests = make(map[network.RequestID]*tracked)
	m.mu.Unlock()

	for _, t := range pending {
		m.rec.Completed(t.tok, fmt.Errorf("detached: %w", context.Canceled))
	}
	if len(pending) > 0 {
		m.log.Info("断开连接，取消未完成请求", "count", len(pending))
	}
}
