package traffic

import (
	"bytes"
	"io"
	"maps"
	"net/http"
	"strings"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	if v, ok := h[strings.ToLower(key)]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	for k := range h {
		if strings.EqualFold(k, key) {
			delete(h, k)
		}
	}
}

// Clone 深拷贝
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	return maps.Clone(h)
}

// FromHTTPHeader 将 net/http 的多值头部折叠为单值（逗号连接）
func FromHTTPHeader(src http.Header) Header {
	h := make(Header, len(src))
	for k, vs := range src {
		h.Set(k, strings.Join(vs, ", "))
	}
	return h
}

// Request 中立的请求快照
type Request struct {
	URL           string `json:"url"`
	Method        string `json:"method"`
	Headers       Header `json:"headers,omitempty"`
	Body          []byte `json:"-"`
	ContentLength int64  `json:"contentLength,omitempty"`
	ResourceType  string `json:"resourceType,omitempty"`

	// GetBody 在 Body 为空时用于重建请求体（例如流式请求体的快照）
	GetBody func() (io.ReadCloser, error) `json:"-"`
}

// Response 中立的响应快照
type Response struct {
	URL         string `json:"url,omitempty"`
	StatusCode  int    `json:"statusCode"`
	Headers     Header `json:"headers,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// NewRequest 创建初始化请求对象
func NewRequest(method, rawURL string) *Request {
	return &Request{
		URL:     rawURL,
		Method:  method,
		Headers: make(Header),
	}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    make(Header),
	}
}

// Clone 返回请求快照的深拷贝
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	if r.Body != nil {
		c.Body = bytes.Clone(r.Body)
	}
	return &c
}

// Clone 返回响应快照的深拷贝
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	return &c
}

// FromHTTPRequest 捕获 net/http 请求，不消费请求体
func FromHTTPRequest(req *http.Request) *Request {
	out := &Request{
		Method:        req.Method,
		Headers:       FromHTTPHeader(req.Header),
		ContentLength: req.ContentLength,
		GetBody:       req.GetBody,
	}
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	if req.URL != nil {
		out.URL = req.URL.String()
	}
	return out
}

// FromHTTPResponse 捕获 net/http 响应头部信息
func FromHTTPResponse(resp *http.Response) *Response {
	out := &Response{
		StatusCode:  resp.StatusCode,
		Headers:     FromHTTPHeader(resp.Header),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		out.URL = resp.Request.URL.String()
	}
	return out
}
