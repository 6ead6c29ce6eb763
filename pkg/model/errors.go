package model

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorKind 传输错误分类
type ErrorKind string

const (
	ErrorCancelled    ErrorKind = "cancelled"
	ErrorTimedOut     ErrorKind = "timedOut"
	ErrorConnectivity ErrorKind = "connectivity"
	ErrorTLS          ErrorKind = "tls"
	ErrorDecoding     ErrorKind = "decoding"
	ErrorUnknown      ErrorKind = "unknown"
)

// DecodingKind 解码错误分类
type DecodingKind string

const (
	DecodingTypeMismatch  DecodingKind = "typeMismatch"
	DecodingValueNotFound DecodingKind = "valueNotFound"
	DecodingKeyNotFound   DecodingKind = "keyNotFound"
	DecodingDataCorrupted DecodingKind = "dataCorrupted"
)

// TaskError 结构化的任务错误，Kind 为判别字段
type TaskError struct {
	Kind        ErrorKind      `json:"kind"`
	Domain      string         `json:"domain,omitempty"`
	Code        int            `json:"code,omitempty"`
	Description string         `json:"description"`
	Decoding    *DecodingError `json:"decoding,omitempty"`
}

func (e *TaskError) Error() string {
	if e.Decoding != nil {
		return e.Decoding.Error()
	}
	if e.Domain != "" {
		return fmt.Sprintf("%s (%s %d): %s", e.Kind, e.Domain, e.Code, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// DecodingError 解码失败详情
type DecodingError struct {
	Kind        DecodingKind `json:"kind"`
	Type        string       `json:"type,omitempty"`
	Key         string       `json:"key,omitempty"`
	CodingPath  []string     `json:"codingPath"`
	Description string       `json:"description,omitempty"`
}

func (e *DecodingError) Error() string {
	path := strings.Join(e.CodingPath, ".")
	switch e.Kind {
	case DecodingTypeMismatch:
		return fmt.Sprintf("type mismatch for %s at %q: %s", e.Type, path, e.Description)
	case DecodingValueNotFound:
		return fmt.Sprintf("value of type %s not found at %q", e.Type, path)
	case DecodingKeyNotFound:
		return fmt.Sprintf("key %q not found at %q", e.Key, path)
	default:
		return fmt.Sprintf("data corrupted at %q: %s", path, e.Description)
	}
}

// NewTaskError 将任意错误归类为结构化错误，无法识别时退化为 unknown
func NewTaskError(err error) *TaskError {
	if err == nil {
		return nil
	}

	var te *TaskError
	if errors.As(err, &te) {
		return te
	}

	if de := asDecodingError(err); de != nil {
		return &TaskError{Kind: ErrorDecoding, Description: err.Error(), Decoding: de}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &TaskError{Kind: ErrorCancelled, Description: err.Error()}
	case isTLSError(err):
		return &TaskError{Kind: ErrorTLS, Description: err.Error()}
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return &TaskError{Kind: ErrorTimedOut, Description: err.Error()}
	case isConnectivityError(err):
		return &TaskError{Kind: ErrorConnectivity, Description: err.Error()}
	}

	out := &TaskError{
		Kind:        ErrorUnknown,
		Domain:      fmt.Sprintf("%T", err),
		Description: err.Error(),
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		out.Code = int(errno)
	}
	return out
}

func asDecodingError(err error) *DecodingError {
	var de *DecodingError
	if errors.As(err, &de) {
		return de
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		out := &DecodingError{
			Kind:        DecodingTypeMismatch,
			CodingPath:  codingPath(typeErr.Field),
			Description: "expected " + typeErr.Value,
		}
		if typeErr.Type != nil {
			out.Type = typeErr.Type.String()
		}
		return out
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &DecodingError{
			Kind:        DecodingDataCorrupted,
			CodingPath:  []string{},
			Description: syntaxErr.Error(),
		}
	}
	return nil
}

func codingPath(field string) []string {
	if field == "" {
		return []string{}
	}
	return strings.Split(field, ".")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTLSError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		headerErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &headerErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}

func isConnectivityError(err error) bool {
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
