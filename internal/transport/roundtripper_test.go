package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netpulse/internal/session"
	"netpulse/pkg/model"
	"netpulse/pkg/traffic"
)

type call struct {
	name  string
	tok   session.Token
	data  string
	done  int64
	total int64
	err   error
}

type recorder struct {
	mu      sync.Mutex
	next    session.Token
	kind    model.TaskType
	req     *traffic.Request
	resp    *traffic.Response
	metrics *model.Metrics
	calls   []call
}

func (r *recorder) add(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) TaskCreated(kind model.TaskType, req *traffic.Request) session.Token {
	r.mu.Lock()
	r.next++
	tok := r.next
	r.kind = kind
	r.req = req
	r.mu.Unlock()
	r.add(call{name: "created", tok: tok})
	return tok
}

func (r *recorder) ResponseReceived(tok session.Token, resp *traffic.Response) {
	r.mu.Lock()
	r.resp = resp
	r.mu.Unlock()
	r.add(call{name: "response", tok: tok})
}

func (r *recorder) DataReceived(tok session.Token, data []byte) {
	r.add(call{name: "data", tok: tok, data: string(data)})
}

func (r *recorder) ProgressUpdated(tok session.Token, completed, total int64) {
	r.add(call{name: "progress", tok: tok, done: completed, total: total})
}

func (r *recorder) MetricsCollected(tok session.Token, m *model.Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
	r.add(call{name: "metrics", tok: tok})
}

func (r *recorder) Completed(tok session.Token, err error) {
	r.add(call{name: "completed", tok: tok, err: err})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.name)
	}
	return out
}

func (r *recorder) completions() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if c.name == "completed" {
			out = append(out, c)
		}
	}
	return out
}

func TestRoundTripReportsLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	rec := &recorder{}
	client := &http.Client{Transport: New(nil, rec)}

	resp, err := client.Get(srv.URL + "/users")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, model.TaskTypePlain, rec.kind)
	assert.Equal(t, srv.URL+"/users", rec.req.URL)
	require.NotNil(t, rec.resp)
	assert.Equal(t, 200, rec.resp.StatusCode)
	assert.Equal(t, "application/json", rec.resp.ContentType)

	names := rec.names()
	assert.Equal(t, "created", names[0])
	assert.Equal(t, "response", names[1])
	assert.Equal(t, []string{"metrics", "completed"}, names[len(names)-2:])

	done := rec.completions()
	require.Len(t, done, 1)
	assert.NoError(t, done[0].err)

	require.NotNil(t, rec.metrics)
	require.Len(t, rec.metrics.Transactions, 1)
	tx := rec.metrics.Transactions[0]
	assert.EqualValues(t, len(body), tx.ResponseBodyBytesReceived)
	assert.Equal(t, "HTTP/1.1", tx.NetworkProtocol)
	assert.NotEmpty(t, tx.RemoteAddress)
	assert.False(t, tx.ResponseEnd.Before(tx.FetchStart))

	tok, ok := TokenFromResponse(resp)
	assert.True(t, ok)
	assert.Equal(t, done[0].tok, tok)
}

func TestRoundTripTransportError(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("dial failed")
	rt := New(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, boom
	}), rec)

	req, err := http.NewRequest(http.MethodGet, "https://unreachable.example.com", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"created", "metrics", "completed"}, rec.names())
	done := rec.completions()
	require.Len(t, done, 1)
	assert.ErrorIs(t, done[0].err, boom)
}

func TestRoundTripBodyClosedEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("a", 4096))
	}))
	defer srv.Close()

	rec := &recorder{}
	client := &http.Client{Transport: New(nil, rec)}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = resp.Body.Read(buf)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	_ = resp.Body.Close()

	done := rec.completions()
	require.Len(t, done, 1, "terminal callback must be reported once")
	assert.ErrorIs(t, done[0].err, context.Canceled)
	assert.Equal(t, model.ErrorCancelled, model.NewTaskError(done[0].err).Kind)
}

func TestRoundTripCapturesRequestBody(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received <- string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	rec := &recorder{}
	rt := New(nil, rec)

	// 不可重放的请求体
	req, err := http.NewRequest(http.MethodPost, srv.URL, io.NopCloser(strings.NewReader(`{"name":"a"}`)))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, `{"name":"a"}`, <-received)
	assert.Equal(t, model.TaskTypeUpload, rec.kind)
	require.NotNil(t, rec.req.GetBody)
	rc, err := rec.req.GetBody()
	require.NoError(t, err)
	captured, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"a"}`, string(captured))

	done := rec.completions()
	require.Len(t, done, 1)
	assert.NoError(t, done[0].err)
}

func TestRoundTripProgress(t *testing.T) {
	rec := &recorder{}
	rt := New(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    200,
			Proto:         "HTTP/1.1",
			Header:        http.Header{},
			Body:          io.NopCloser(strings.NewReader("0123456789")),
			ContentLength: 10,
			Request:       req,
		}, nil
	}), rec, WithProgress(true))

	req, err := http.NewRequest(http.MethodGet, "https://files.example.com/a.bin", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)

	buf := make([]byte, 4)
	for {
		_, err := resp.Body.Read(buf)
		if err != nil {
			break
		}
	}
	require.NoError(t, resp.Body.Close())

	var last call
	var data strings.Builder
	for _, c := range rec.calls {
		switch c.name {
		case "progress":
			last = c
		case "data":
			data.WriteString(c.data)
		}
	}
	assert.Equal(t, "0123456789", data.String())
	assert.EqualValues(t, 10, last.done)
	assert.EqualValues(t, 10, last.total)
	require.Len(t, rec.completions(), 1)
	assert.NoError(t, rec.completions()[0].err)
}

func TestClassify(t *testing.T) {
	mk := func(method string, body io.Reader, headers map[string]string) *http.Request {
		req, err := http.NewRequest(method, "https://a.example.com", body)
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req
	}

	assert.Equal(t, model.TaskTypePlain, Classify(mk("GET", nil, nil)))
	assert.Equal(t, model.TaskTypeUpload, Classify(mk("POST", strings.NewReader("x"), nil)))
	assert.Equal(t, model.TaskTypeDownload, Classify(mk("GET", nil, map[string]string{"Range": "bytes=0-99"})))
	assert.Equal(t, model.TaskTypeStream, Classify(mk("GET", nil, map[string]string{"Accept": "text/event-stream"})))
}

func TestWithClassifier(t *testing.T) {
	rec := &recorder{}
	rt := New(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 204, Header: http.Header{}, Body: http.NoBody, Request: req}, nil
	}), rec, WithClassifier(func(*http.Request) model.TaskType { return model.TaskTypeDownload }))

	req, err := http.NewRequest(http.MethodGet, "https://a.example.com", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, model.TaskTypeDownload, rec.kind)
	done := rec.completions()
	require.Len(t, done, 1)
	assert.NoError(t, done[0].err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
