package transport

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"netpulse/pkg/model"
)

// collector 通过 httptrace 收集单次往返的时间点，回调可能来自不同 goroutine
type collector struct {
	mu    sync.Mutex
	now   func() time.Time
	start time.Time
	tx    model.TransactionMetrics
}

func newCollector(now func() time.Time) *collector {
	start := now()
	return &collector{
		now:   now,
		start: start,
		tx:    model.TransactionMetrics{FetchStart: start},
	}
}

func (c *collector) set(fn func(tx *model.TransactionMetrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.tx)
}

func (c *collector) stamp(field func(tx *model.TransactionMetrics) *time.Time) {
	t := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	p := field(&c.tx)
	if p.IsZero() {
		*p = t
	}
}

func (c *collector) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			c.stamp(func(tx *model.TransactionMetrics) *time.Time { return &tx.DomainLookupStart })
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			c.stamp(func(tx *model.TransactionMetrics) *time.Time { return &tx.DomainLookupEnd })
		},
		ConnectStart: func(string, string) {
			c.stamp(func(tx *model.TransactionMetrics) *time.Time { return &tx.ConnectStart })
		},
		ConnectDone: func(string, string, error) {
			c.stamp(func(tx *model.TransactionMetrics) *time.Time { return &tx.ConnectEnd })
		},
		TLSHandshakeStart: func() {
			c.stamp(func(tx *model.TransactionMetrics) *time.Time { return &tx.SecureConnectionStart })
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			c.stamp(func(tx *model.TransactionMetrics) *time.Time { return &tx.SecureConnectionEnd })
			if err != nil {
				return
			}
			c.set(func(tx *model.TransactionMetrics) {
				tx.TLSVersion = tls.VersionName(state.Version)
				tx.TLSCipherSuite = tls.CipherSuiteName(state.CipherSuite)
				if state.NegotiatedProtocol != "" {
					tx.NetworkProtocol = state.NegotiatedProtocol
				}
			})
		},
		GotConn: func(info httptrace.GotConnInfo) {
			c.set(func(tx *model.TransactionMetrics) {
				tx.IsReusedConnection = info.Reused
				if info.Conn != nil {
					tx.RemoteAddress = info.Conn.RemoteAddr().String()
					tx.LocalAddress = info.Conn.LocalAddr().String()
				}
			})
			c.stamp(func(tx *model.TransactionMetrics) *time.Time { return &tx.RequestStart })
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			c.stamp(func(tx *model.TransactionMetrics) *time.Time { return &tx.RequestEnd })
		},
		GotFirstResponseByte: func() {
			c.stamp(func(tx *model.TransactionMetrics) *time.Time { return &tx.ResponseStart })
		},
	}
}

// metrics 生成最终统计，received 为已读取的响应体字节数
func (c *collector) metrics(proto string, received int64) *model.Metrics {
	end := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := c.tx
	tx.ResponseEnd = end
	tx.ResponseBodyBytesReceived = received
	if tx.NetworkProtocol == "" {
		tx.NetworkProtocol = proto
	}
	return &model.Metrics{
		StartedAt:    c.start,
		Duration:     end.Sub(c.start),
		Transactions: []model.TransactionMetrics{tx},
	}
}
