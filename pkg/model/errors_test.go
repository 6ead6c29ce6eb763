package model

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodingErrorJSONRoundTrip(t *testing.T) {
	in := &TaskError{
		Kind:        ErrorDecoding,
		Description: "bad payload",
		Decoding: &DecodingError{
			Kind:       DecodingTypeMismatch,
			Type:       "string",
			CodingPath: []string{"id"},
		},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out TaskError
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, ErrorDecoding, out.Kind)
	require.NotNil(t, out.Decoding)
	assert.Equal(t, DecodingTypeMismatch, out.Decoding.Kind)
	assert.Equal(t, []string{"id"}, out.Decoding.CodingPath)
	assert.Equal(t, "string", out.Decoding.Type)
}

func TestNewTaskErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"cancelled", fmt.Errorf("round trip: %w", context.Canceled), ErrorCancelled},
		{"deadline", context.DeadlineExceeded, ErrorTimedOut},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, ErrorConnectivity},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, ErrorConnectivity},
		{"tls", x509.UnknownAuthorityError{}, ErrorTLS},
		{"unknown", errors.New("boom"), ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewTaskError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.NotEmpty(t, got.Description)
		})
	}
}

func TestNewTaskErrorNil(t *testing.T) {
	assert.Nil(t, NewTaskError(nil))
}

func TestNewTaskErrorUnknownKeepsDomain(t *testing.T) {
	got := NewTaskError(errors.New("boom"))
	assert.Equal(t, "*errors.errorString", got.Domain)
	assert.Equal(t, "boom", got.Description)
}

func TestNewTaskErrorFromJSONDecode(t *testing.T) {
	var v struct {
		ID string `json:"id"`
	}
	err := json.Unmarshal([]byte(`{"id": 42}`), &v)
	require.Error(t, err)

	got := NewTaskError(err)
	assert.Equal(t, ErrorDecoding, got.Kind)
	require.NotNil(t, got.Decoding)
	assert.Equal(t, DecodingTypeMismatch, got.Decoding.Kind)
	assert.Equal(t, []string{"id"}, got.Decoding.CodingPath)
	assert.Equal(t, "string", got.Decoding.Type)

	err = json.Unmarshal([]byte(`{"id":`), &v)
	got = NewTaskError(err)
	require.NotNil(t, got.Decoding)
	assert.Equal(t, DecodingDataCorrupted, got.Decoding.Kind)
}

func TestNewTaskErrorPassesThroughStructured(t *testing.T) {
	te := &TaskError{Kind: ErrorTimedOut, Description: "net::ERR_TIMED_OUT"}
	assert.Same(t, te, NewTaskError(fmt.Errorf("wrapped: %w", te)))
}

func TestEnvelopeMarshal(t *testing.T) {
	data, err := json.Marshal(Wrap(TaskProgress{TaskID: "t1", RequestURL: "https://a.b", Completed: 1, Total: 2}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"taskProgress","event":{"taskId":"t1","url":"https://a.b","completed":1,"total":2}}`, string(data))
}
