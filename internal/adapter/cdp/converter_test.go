package cdp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netpulse/pkg/model"
	"netpulse/pkg/traffic"
)

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestToNeutralRequest(t *testing.T) {
	r := decode[network.Request](t, `{
		"url": "https://api.example.com/login?token=abc",
		"method": "POST",
		"headers": {"Content-Type": "application/json", "X-Retry": 2},
		"postData": "{\"user\":\"a\"}",
		"initialPriority": "High",
		"referrerPolicy": "no-referrer"
	}`)

	req := ToNeutralRequest(r, network.ResourceType("XHR"))
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "https://api.example.com/login?token=abc", req.URL)
	assert.Equal(t, "XHR", req.ResourceType)
	assert.Equal(t, "application/json", req.Headers.Get("content-type"))
	assert.Equal(t, "2", req.Headers.Get("X-Retry"))
	assert.Equal(t, `{"user":"a"}`, string(req.Body))
	assert.EqualValues(t, len(req.Body), req.ContentLength)
	assert.Equal(t, model.TaskTypeUpload, TaskType(network.ResourceType("XHR"), req))
}

func TestToNeutralResponse(t *testing.T) {
	r := decode[network.Response](t, `{
		"url": "https://api.example.com/users",
		"status": 404,
		"statusText": "Not Found",
		"headers": {"X-Request-Id": "r1"},
		"mimeType": "application/json",
		"connectionReused": false,
		"connectionId": 1,
		"encodedDataLength": 10,
		"securityState": "secure"
	}`)

	res := ToNeutralResponse(r)
	assert.Equal(t, 404, res.StatusCode)
	assert.Equal(t, "https://api.example.com/users", res.URL)
	assert.Equal(t, "application/json", res.ContentType, "falls back to mime type")
	assert.Equal(t, "r1", res.Headers.Get("x-request-id"))
}

func TestTaskType(t *testing.T) {
	plain := traffic.NewRequest("GET", "https://a")
	ranged := traffic.NewRequest("GET", "https://a")
	ranged.Headers.Set("Range", "bytes=0-1")

	assert.Equal(t, model.TaskTypeStream, TaskType(network.ResourceType("EventSource"), plain))
	assert.Equal(t, model.TaskTypeDownload, TaskType(network.ResourceType("Media"), plain))
	assert.Equal(t, model.TaskTypeDownload, TaskType(network.ResourceType("Fetch"), ranged))
	assert.Equal(t, model.TaskTypePlain, TaskType(network.ResourceType("Document"), plain))
	assert.Equal(t, model.TaskTypePlain, TaskType(network.ResourceType("Other"), nil))
}

func TestLoadingError(t *testing.T) {
	tests := []struct {
		text     string
		canceled bool
		want     model.ErrorKind
	}{
		{"net::ERR_ABORTED", false, model.ErrorCancelled},
		{"", true, model.ErrorCancelled},
		{"net::ERR_TIMED_OUT", false, model.ErrorTimedOut},
		{"net::ERR_CONNECTION_TIMED_OUT", false, model.ErrorTimedOut},
		{"net::ERR_CERT_AUTHORITY_INVALID", false, model.ErrorTLS},
		{"net::ERR_SSL_PROTOCOL_ERROR", false, model.ErrorTLS},
		{"net::ERR_CONNECTION_REFUSED", false, model.ErrorConnectivity},
		{"net::ERR_NAME_NOT_RESOLVED", false, model.ErrorConnectivity},
		{"net::ERR_BLOCKED_BY_CLIENT", false, model.ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			err := LoadingError(tt.text, tt.canceled)
			te := model.NewTaskError(err)
			require.NotNil(t, te)
			assert.Equal(t, tt.want, te.Kind)
			assert.Equal(t, "net", te.Domain)
			assert.NotEmpty(t, te.Description)
		})
	}
}

func TestToMetrics(t *testing.T) {
	r := decode[network.Response](t, `{
		"url": "https://api.example.com/",
		"status": 200,
		"statusText": "OK",
		"headers": {},
		"mimeType": "text/html",
		"connectionReused": true,
		"connectionId": 7,
		"remoteIPAddress": "93.184.216.34",
		"remotePort": 443,
		"encodedDataLength": 100,
		"protocol": "h2",
		"securityState": "secure",
		"timing": {
			"requestTime": 1000.5,
			"proxyStart": -1, "proxyEnd": -1,
			"dnsStart": 1, "dnsEnd": 5,
			"connectStart": 5, "connectEnd": 20,
			"sslStart": 8, "sslEnd": 20,
			"workerStart": -1, "workerReady": -1,
			"workerFetchStart": -1, "workerRespondWithSettled": -1,
			"sendStart": 21, "sendEnd": 22,
			"pushStart": 0, "pushEnd": 0,
			"receiveHeadersEnd": 50
		}
	}`)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := ToMetrics(MetricsInput{
		Response:      &r,
		StartedAt:     start,
		FinishedAt:    start.Add(80 * time.Millisecond),
		Received:      100,
		RedirectCount: 1,
	})

	require.Len(t, m.Transactions, 1)
	tx := m.Transactions[0]
	assert.Equal(t, 80*time.Millisecond, m.Duration)
	assert.Equal(t, 1, m.RedirectCount)
	assert.Equal(t, "h2", tx.NetworkProtocol)
	assert.True(t, tx.IsReusedConnection)
	assert.Equal(t, "93.184.216.34:443", tx.RemoteAddress)
	assert.Equal(t, start.Add(5*time.Millisecond), tx.DomainLookupEnd)
	assert.Equal(t, start.Add(50*time.Millisecond), tx.ResponseStart)
	assert.EqualValues(t, 100, tx.ResponseBodyBytesReceived)
}

func TestToMetricsWithoutTiming(t *testing.T) {
	start := time.Now()
	m := ToMetrics(MetricsInput{StartedAt: start, FinishedAt: start.Add(time.Second)})
	require.Len(t, m.Transactions, 1)
	assert.True(t, m.Transactions[0].DomainLookupStart.IsZero())
	assert.Equal(t, time.Second, m.Duration)
}
