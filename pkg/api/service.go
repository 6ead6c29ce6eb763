package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"netpulse/internal/cdp"
	"netpulse/internal/handler"
	"netpulse/internal/logger"
	"netpulse/internal/redact"
	"netpulse/internal/rules"
	"netpulse/internal/session"
	"netpulse/internal/transport"
	"netpulse/pkg/model"
	"netpulse/pkg/traffic"
)

// ErrDecodingNotReported 生产者不会上报解码结果，不能与等待解码模式同时使用
var ErrDecodingNotReported = errors.New("producer does not report decoding; wait-for-decoding would never complete tasks")

// Sink 事件接收方
type Sink = handler.Sink

// Logger 日志接口
type Logger = logger.Logger

// Token 任务句柄
type Token = session.Token

// Producer 生产者驱动任务生命周期的入站接口
type Producer interface {
	TaskCreated(kind model.TaskType, req *traffic.Request) Token
	RequestRedirected(tok Token, req *traffic.Request)
	ResponseReceived(tok Token, resp *traffic.Response)
	DataReceived(tok Token, data []byte)
	ProgressUpdated(tok Token, completed, total int64)
	MetricsCollected(tok Token, m *model.Metrics)
	Completed(tok Token, err error)
	DecodingCompleted(tok Token, err error)
}

var (
	_ Producer           = (*handler.Handler)(nil)
	_ transport.Recorder = (*handler.Handler)(nil)
	_ cdp.Recorder       = (*handler.Handler)(nil)
)

// Options 网络日志配置
type Options struct {
	// WaitForDecoding 成功的任务等待 DecodingCompleted 后再发送完成事件
	WaitForDecoding bool

	IncludedHosts []string
	IncludedURLs  []string
	ExcludedHosts []string
	ExcludedURLs  []string
	// RegexEnabled 模式按正则解析，否则按通配符
	RegexEnabled bool
	// StrictPatterns 模式编译失败时 New 返回错误
	StrictPatterns bool

	SensitiveHeaders    []string
	SensitiveQueryItems []string
	SensitiveDataFields []string

	// WillHandleEvent 发送前转换事件，返回 nil 表示丢弃
	WillHandleEvent func(model.Event) model.Event

	// ReportProgress 读取响应体时发送进度事件
	ReportProgress bool
}

// NetworkLogger 网络日志入口，内嵌事件组装器作为 Producer
type NetworkLogger struct {
	*handler.Handler
	opts Options
	log  Logger
}

// New 创建网络日志
func New(opts Options, sink Sink, log Logger) (*NetworkLogger, error) {
	if log == nil {
		log = logger.NewNop()
	}
	filter := rules.NewFilter(rules.FilterConfig{
		IncludedHosts: opts.IncludedHosts,
		IncludedURLs:  opts.IncludedURLs,
		ExcludedHosts: opts.ExcludedHosts,
		ExcludedURLs:  opts.ExcludedURLs,
		RegexEnabled:  opts.RegexEnabled,
	}, log)
	if opts.StrictPatterns {
		if err := filter.Err(); err != nil {
			return nil, fmt.Errorf("compile patterns: %w", err)
		}
	}

	h := handler.New(handler.Config{
		Sink:   sink,
		Filter: filter,
		Redactor: redact.New(redact.Config{
			SensitiveHeaders:    opts.SensitiveHeaders,
			SensitiveQueryItems: opts.SensitiveQueryItems,
			SensitiveDataFields: opts.SensitiveDataFields,
		}),
		WaitForDecoding: opts.WaitForDecoding,
		WillHandleEvent: opts.WillHandleEvent,
		Logger:          log,
	})
	return &NetworkLogger{Handler: h, opts: opts, log: log}, nil
}

// Transport 包装 base，记录经过的每个请求；base 为空时使用 http.DefaultTransport
func (n *NetworkLogger) Transport(base http.RoundTripper) http.RoundTripper {
	return transport.New(base, n.Handler, transport.WithProgress(n.opts.ReportProgress))
}

// Client 返回使用记录传输的 http.Client
func (n *NetworkLogger) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: n.Transport(nil), Timeout: timeout}
}

// TaskToken 取得响应对应的任务句柄
func (n *NetworkLogger) TaskToken(resp *http.Response) (Token, bool) {
	return transport.TokenFromResponse(resp)
}

// DecodeJSON 读取并解码响应体，结果通过 DecodingCompleted 上报
func (n *NetworkLogger) DecodeJSON(resp *http.Response, v any) error {
	if resp == nil || resp.Body == nil {
		return errors.New("decode json: nil response")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	decodeErr := json.Unmarshal(data, v)

	if tok, ok := n.TaskToken(resp); ok {
		n.DecodingCompleted(tok, decodeErr)
	} else {
		n.log.Debug("响应不属于已记录的任务")
	}
	if decodeErr != nil {
		return fmt.Errorf("decode json: %w", decodeErr)
	}
	return nil
}

// Session 浏览器会话
type Session interface {
	Wait() error
	Detach() error
	Pending() int
}

// BrowserOptions 浏览器连接选项
type BrowserOptions struct {
	DevToolsURL string
	// Target 目标 ID，为空时选择第一个页面
	Target      string
	BodyTimeout time.Duration
}

// AttachBrowser 连接浏览器调试端口并记录目标页面的网络请求
func (n *NetworkLogger) AttachBrowser(ctx context.Context, opts BrowserOptions) (Session, error) {
	if n.opts.WaitForDecoding {
		return nil, fmt.Errorf("attach browser: %w", ErrDecodingNotReported)
	}
	m := cdp.New(cdp.Options{
		DevToolsURL: opts.DevToolsURL,
		Target:      opts.Target,
		BodyTimeout: opts.BodyTimeout,
		Progress:    n.opts.ReportProgress,
		Logger:      n.log,
	}, n.Handler)
	if err := m.Attach(ctx); err != nil {
		return nil, fmt.Errorf("attach browser: %w", err)
	}
	return m, nil
}
