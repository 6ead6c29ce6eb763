package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"netpulse/internal/session"
	"netpulse/pkg/model"
	"netpulse/pkg/traffic"
)

// Recorder 接收传输层回调
type Recorder interface {
	TaskCreated(kind model.TaskType, req *traffic.Request) session.Token
	ResponseReceived(tok session.Token, resp *traffic.Response)
	DataReceived(tok session.Token, data []byte)
	ProgressUpdated(tok session.Token, completed, total int64)
	MetricsCollected(tok session.Token, m *model.Metrics)
	Completed(tok session.Token, err error)
}

// ErrBodyClosedEarly 响应体未读完即被关闭
var ErrBodyClosedEarly = fmt.Errorf("response body closed before EOF: %w", context.Canceled)

type config struct {
	classify func(*http.Request) model.TaskType
	progress bool
	now      func() time.Time
}

// Option 配置 RoundTripper
type Option func(*config)

// WithClassifier 自定义任务类型判定
func WithClassifier(fn func(*http.Request) model.TaskType) Option {
	return func(c *config) {
		if fn != nil {
			c.classify = fn
		}
	}
}

// WithProgress 读取响应体时发送进度事件
func WithProgress(enabled bool) Option {
	return func(c *config) { c.progress = enabled }
}

// WithClock 替换时钟，测试中使用
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

type tokenKey struct{}

// New 返回把请求生命周期上报给 rec 的 http.RoundTripper
func New(base http.RoundTripper, rec Recorder, opts ...Option) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	cfg := &config{classify: Classify, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return &roundTripper{base: base, rec: rec, cfg: cfg}
}

// TokenFromResponse 取得响应对应的任务句柄
func TokenFromResponse(resp *http.Response) (session.Token, bool) {
	if resp == nil || resp.Request == nil {
		return 0, false
	}
	tok, ok := resp.Request.Context().Value(tokenKey{}).(session.Token)
	return tok, ok
}

// Classify 默认的任务类型判定：事件流 → stream，Range → download，有请求体 → upload
func Classify(req *http.Request) model.TaskType {
	switch {
	case strings.Contains(req.Header.Get("Accept"), "text/event-stream"):
		return model.TaskTypeStream
	case req.Header.Get("Range") != "":
		return model.TaskTypeDownload
	case hasBody(req):
		return model.TaskTypeUpload
	default:
		return model.TaskTypePlain
	}
}

func hasBody(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody
}

type roundTripper struct {
	base http.RoundTripper
	rec  Recorder
	cfg  *config
}

// RoundTrip 上报请求生命周期并转发给底层传输
func (t *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("round trip nil request")
	}

	snapshot := traffic.FromHTTPRequest(req)
	if hasBody(req) && req.GetBody == nil {
		// 请求体只能读取一次，发送时同步缓存
		buf := &syncBuffer{}
		req = req.Clone(req.Context())
		req.Body = &teeBody{Reader: io.TeeReader(req.Body, buf), Closer: req.Body}
		snapshot.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
		}
	}

	tok := t.rec.TaskCreated(t.cfg.classify(req), snapshot)

	col := newCollector(t.cfg.now)
	ctx := httptrace.WithClientTrace(req.Context(), col.trace())
	ctx = context.WithValue(ctx, tokenKey{}, tok)
	req = req.WithContext(ctx)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.rec.MetricsCollected(tok, col.metrics("", 0))
		t.rec.Completed(tok, err)
		return nil, fmt.Errorf("round trip request: %w", err)
	}

	resp.Request = req
	t.rec.ResponseReceived(tok, traffic.FromHTTPResponse(resp))

	body := resp.Body
	if body == nil {
		body = http.NoBody
	}
	resp.Body = &observedBody{
		rc:       body,
		tok:      tok,
		rec:      t.rec,
		col:      col,
		proto:    resp.Proto,
		total:    resp.ContentLength,
		progress: t.cfg.progress,
	}
	return resp, nil
}

type teeBody struct {
	io.Reader
	io.Closer
}

// syncBuffer 请求体由传输层写入，可能同时被读取
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

// observedBody 上报读取到的数据，并保证只上报一次结束
type observedBody struct {
	rc       io.ReadCloser
	tok      session.Token
	rec      Recorder
	col      *collector
	proto    string
	total    int64
	progress bool

	read atomic.Int64
	once sync.Once
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		read := b.read.Add(int64(n))
		b.rec.DataReceived(b.tok, p[:n])
		if b.progress {
			b.rec.ProgressUpdated(b.tok, read, b.total)
		}
	}
	switch {
	case errors.Is(err, io.EOF):
		b.finish(nil)
	case err != nil:
		b.finish(err)
	}
	return n, err
}

func (b *observedBody) Close() error {
	err := b.rc.Close()
	if b.total == 0 || b.read.Load() == b.total {
		b.finish(nil)
	} else {
		b.finish(ErrBodyClosedEarly)
	}
	return err
}

func (b *observedBody) finish(err error) {
	b.once.Do(func() {
		b.rec.MetricsCollected(b.tok, b.col.metrics(b.proto, b.read.Load()))
		b.rec.Completed(b.tok, err)
	})
}
