package cdp

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mafredri/cdp/protocol/network"

	"netpulse/pkg/model"
	"netpulse/pkg/traffic"
)

// ToNeutralRequest 将 CDP 请求转换为中立 Request 模型
func ToNeutralRequest(r network.Request, rt network.ResourceType) *traffic.Request {
	req := traffic.NewRequest(r.Method, r.URL)
	req.ResourceType = string(rt)
	req.Headers = parseHeaders(r.Headers)
	if r.PostData != nil && *r.PostData != "" {
		req.Body = []byte(*r.PostData)
		req.ContentLength = int64(len(req.Body))
	} else if n, err := strconv.ParseInt(req.Headers.Get("Content-Length"), 10, 64); err == nil {
		req.ContentLength = n
	}
	return req
}

// ToNeutralResponse 将 CDP 响应转换为中立 Response 模型
func ToNeutralResponse(r network.Response) *traffic.Response {
	res := traffic.NewResponse()
	res.URL = r.URL
	res.StatusCode = r.Status
	res.Headers = parseHeaders(r.Headers)
	res.ContentType = res.Headers.Get("Content-Type")
	if res.ContentType == "" {
		res.ContentType = r.MimeType
	}
	return res
}

// parseHeaders 解析 CDP 的 JSON 头部对象，非字符串值按 JSON 文本保留
func parseHeaders(raw []byte) traffic.Header {
	h := make(traffic.Header)
	if len(raw) == 0 {
		return h
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return h
	}
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = string(v)
		}
		h.Set(k, s)
	}
	return h
}

// TaskType 根据资源类型与请求推断任务类型
func TaskType(rt network.ResourceType, req *traffic.Request) model.TaskType {
	switch {
	case string(rt) == "EventSource":
		return model.TaskTypeStream
	case string(rt) == "Media", req != nil && req.Headers.Get("Range") != "":
		return model.TaskTypeDownload
	case req != nil && (len(req.Body) > 0 || req.ContentLength > 0):
		return model.TaskTypeUpload
	default:
		return model.TaskTypePlain
	}
}

// LoadingError 将浏览器的 net::ERR_* 错误文本映射为任务错误
func LoadingError(errorText string, canceled bool) error {
	te := &model.TaskError{
		Kind:        model.ErrorUnknown,
		Domain:      "net",
		Description: errorText,
	}
	code := strings.TrimPrefix(errorText, "net::")
	switch {
	case canceled, code == "ERR_ABORTED":
		te.Kind = model.ErrorCancelled
	case strings.Contains(code, "TIMED_OUT"):
		te.Kind = model.ErrorTimedOut
	case strings.Contains(code, "CERT_"), strings.Contains(code, "SSL_"):
		te.Kind = model.ErrorTLS
	case isConnectivity(code):
		te.Kind = model.ErrorConnectivity
	}
	if te.Description == "" {
		te.Description = string(te.Kind)
	}
	return te
}

var connectivityCodes = []string{
	"ERR_NAME_NOT_RESOLVED",
	"ERR_INTERNET_DISCONNECTED",
	"ERR_ADDRESS_UNREACHABLE",
	"ERR_NETWORK_CHANGED",
	"ERR_NETWORK_ACCESS_DENIED",
	"ERR_PROXY_CONNECTION_FAILED",
}

func isConnectivity(code string) bool {
	if strings.HasPrefix(code, "ERR_CONNECTION_") {
		return true
	}
	for _, c := range connectivityCodes {
		if code == c {
			return true
		}
	}
	return false
}

// resourceTiming 浏览器上报的时间点，单位毫秒，相对于请求开始，-1 表示未发生
type resourceTiming struct {
	DNSStart          float64 `json:"dnsStart"`
	DNSEnd            float64 `json:"dnsEnd"`
	ConnectStart      float64 `json:"connectStart"`
	ConnectEnd        float64 `json:"connectEnd"`
	SSLStart          float64 `json:"sslStart"`
	SSLEnd            float64 `json:"sslEnd"`
	SendStart         float64 `json:"sendStart"`
	SendEnd           float64 `json:"sendEnd"`
	ReceiveHeadersEnd float64 `json:"receiveHeadersEnd"`
}

// responseMeta 响应中与连接相关的字段，按协议 JSON 名称读取
type responseMeta struct {
	Protocol         string          `json:"protocol"`
	RemoteIPAddress  string          `json:"remoteIPAddress"`
	RemotePort       int             `json:"remotePort"`
	ConnectionReused bool            `json:"connectionReused"`
	Timing           json.RawMessage `json:"timing"`
}

// MetricsInput 构建统计信息所需的数据
type MetricsInput struct {
	Response      *network.Response
	StartedAt     time.Time
	FinishedAt    time.Time
	Received      int64
	RedirectCount int
}

// ToMetrics 根据响应的连接与时间信息生成统计
func ToMetrics(in MetricsInput) *model.Metrics {
	tx := model.TransactionMetrics{
		FetchStart:                in.StartedAt,
		ResponseEnd:               in.FinishedAt,
		ResponseBodyBytesReceived: in.Received,
	}
	if meta, ok := decodeMeta(in.Response); ok {
		tx.NetworkProtocol = meta.Protocol
		tx.IsReusedConnection = meta.ConnectionReused
		if meta.RemoteIPAddress != "" {
			tx.RemoteAddress = meta.RemoteIPAddress
			if meta.RemotePort > 0 {
				tx.RemoteAddress = net.JoinHostPort(meta.RemoteIPAddress, strconv.Itoa(meta.RemotePort))
			}
		}
		if timing, ok := decodeTiming(meta.Timing); ok {
			at := func(ms float64) time.Time {
				if ms < 0 {
					return time.Time{}
				}
				return in.StartedAt.Add(time.Duration(ms * float64(time.Millisecond)))
			}
			tx.DomainLookupStart = at(timing.DNSStart)
			tx.DomainLookupEnd = at(timing.DNSEnd)
			tx.ConnectStart = at(timing.ConnectStart)
			tx.ConnectEnd = at(timing.ConnectEnd)
			tx.SecureConnectionStart = at(timing.SSLStart)
			tx.SecureConnectionEnd = at(timing.SSLEnd)
			tx.RequestStart = at(timing.SendStart)
			tx.RequestEnd = at(timing.SendEnd)
			tx.ResponseStart = at(timing.ReceiveHeadersEnd)
		}
	}
	return &model.Metrics{
		StartedAt:     in.StartedAt,
		Duration:      in.FinishedAt.Sub(in.StartedAt),
		RedirectCount: in.RedirectCount,
		Transactions:  []model.TransactionMetrics{tx},
	}
}

func decodeMeta(r *network.Response) (responseMeta, bool) {
	var meta responseMeta
	if r == nil {
		return meta, false
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return meta, false
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, false
	}
	return meta, true
}

func decodeTiming(raw json.RawMessage) (resourceTiming, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return resourceTiming{}, false
	}
	out := resourceTiming{
		DNSStart: -1, DNSEnd: -1, ConnectStart: -1, ConnectEnd: -1,
		SSLStart: -1, SSLEnd: -1, SendStart: -1, SendEnd: -1, ReceiveHeadersEnd: -1,
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return resourceTiming{}, false
	}
	return out, true
}
