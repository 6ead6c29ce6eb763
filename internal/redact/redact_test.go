package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"netpulse/pkg/traffic"
)

func TestHeadersCaseInsensitive(t *testing.T) {
	r := New(Config{SensitiveHeaders: []string{"authorization"}})
	in := traffic.Header{"Authorization": "123", "Content-Size": "456"}

	out := r.Headers(in)

	assert.Equal(t, traffic.Header{"Authorization": Marker, "Content-Size": "456"}, out)
	assert.Equal(t, "123", in["Authorization"], "input must not be mutated")
}

func TestURLQueryItems(t *testing.T) {
	r := New(Config{SensitiveQueryItems: []string{"token"}})

	got := r.URL("https://api.example.com/v1?page=2&token=secret&q=x")
	assert.Equal(t, "https://api.example.com/v1?page=2&token=%3Cprivate%3E&q=x", got)

	assert.Equal(t, "https://api.example.com/v1?page=2", r.URL("https://api.example.com/v1?page=2"))
}

func TestBodyNestedFields(t *testing.T) {
	r := New(Config{SensitiveDataFields: []string{"password", "a.b"}})
	body := []byte(`{"user":{"name":"kim","Password":"hunter2"},"items":[{"password":"x"},{"ok":1}],"a.b":"dotted"}`)

	out := r.Body(body)

	res := gjson.ParseBytes(out)
	assert.Equal(t, "kim", res.Get("user.name").String())
	assert.Equal(t, Marker, res.Get("user.Password").String())
	assert.Equal(t, Marker, res.Get("items.0.password").String())
	assert.Equal(t, int64(1), res.Get("items.1.ok").Int())
	assert.Equal(t, Marker, res.Get(`a\.b`).String())
}

func TestBodyNonJSONUnchanged(t *testing.T) {
	r := New(Config{SensitiveDataFields: []string{"password"}})
	body := []byte("password=hunter2")
	assert.Equal(t, body, r.Body(body))
}

func TestNilRedactorIsNoop(t *testing.T) {
	r := New(Config{})
	require.Nil(t, r)

	req := traffic.NewRequest("GET", "https://a.com/?token=1")
	req.Headers.Set("Authorization", "x")
	out := r.Request(req)
	assert.Equal(t, req.URL, out.URL)
	assert.Equal(t, "x", out.Headers.Get("authorization"))
	assert.Equal(t, []byte(`{"password":1}`), r.Body([]byte(`{"password":1}`)))
}

func TestRequestAndResponseCopies(t *testing.T) {
	r := New(Config{SensitiveHeaders: []string{"Set-Cookie", "Authorization"}})

	req := traffic.NewRequest("GET", "https://a.com")
	req.Headers.Set("Authorization", "Bearer t")
	assert.Equal(t, Marker, r.Request(req).Headers.Get("Authorization"))
	assert.Equal(t, "Bearer t", req.Headers.Get("Authorization"))

	resp := traffic.NewResponse()
	resp.Headers.Set("Set-Cookie", "sid=1")
	assert.Equal(t, Marker, r.Response(resp).Headers.Get("set-cookie"))
}
