package model

import (
	"slices"
	"time"
)

// Metrics 任务的时间与传输统计
type Metrics struct {
	StartedAt     time.Time            `json:"startedAt"`
	Duration      time.Duration        `json:"duration"`
	RedirectCount int                  `json:"redirectCount"`
	Transactions  []TransactionMetrics `json:"transactions,omitempty"`
}

// TransactionMetrics 单次网络往返的统计
type TransactionMetrics struct {
	FetchStart            time.Time `json:"fetchStart"`
	DomainLookupStart     time.Time `json:"domainLookupStart,omitempty"`
	DomainLookupEnd       time.Time `json:"domainLookupEnd,omitempty"`
	ConnectStart          time.Time `json:"connectStart,omitempty"`
	ConnectEnd            time.Time `json:"connectEnd,omitempty"`
	SecureConnectionStart time.Time `json:"secureConnectionStart,omitempty"`
	SecureConnectionEnd   time.Time `json:"secureConnectionEnd,omitempty"`
	RequestStart          time.Time `json:"requestStart,omitempty"`
	RequestEnd            time.Time `json:"requestEnd,omitempty"`
	ResponseStart         time.Time `json:"responseStart,omitempty"`
	ResponseEnd           time.Time `json:"responseEnd,omitempty"`

	NetworkProtocol    string `json:"networkProtocol,omitempty"`
	IsReusedConnection bool   `json:"isReusedConnection"`
	RemoteAddress      string `json:"remoteAddress,omitempty"`
	LocalAddress       string `json:"localAddress,omitempty"`
	TLSVersion         string `json:"tlsVersion,omitempty"`
	TLSCipherSuite     string `json:"tlsCipherSuite,omitempty"`

	ResponseBodyBytesReceived int64 `json:"responseBodyBytesReceived"`
}

// Clone 深拷贝
func (m *Metrics) Clone() *Metrics {
	if m == nil {
		return nil
	}
	c := *m
	c.Transactions = slices.Clone(m.Transactions)
	return &c
}
