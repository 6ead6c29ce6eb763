package redact

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"netpulse/pkg/traffic"
)

// Marker 敏感数据的替换值
const Marker = "<private>"

// Config 敏感字段配置，名称均不区分大小写
type Config struct {
	SensitiveHeaders    []string
	SensitiveQueryItems []string
	SensitiveDataFields []string
}

// Redactor 对请求、响应快照及 JSON 数据做脱敏
type Redactor struct {
	headers map[string]struct{}
	query   map[string]struct{}
	fields  map[string]struct{}
}

// New 创建脱敏器，未配置任何字段时返回 nil（nil 脱敏器不做任何处理）
func New(cfg Config) *Redactor {
	if len(cfg.SensitiveHeaders) == 0 && len(cfg.SensitiveQueryItems) == 0 && len(cfg.SensitiveDataFields) == 0 {
		return nil
	}
	return &Redactor{
		headers: toSet(cfg.SensitiveHeaders),
		query:   toSet(cfg.SensitiveQueryItems),
		fields:  toSet(cfg.SensitiveDataFields),
	}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[strings.ToLower(n)] = struct{}{}
		}
	}
	return set
}

func contains(set map[string]struct{}, name string) bool {
	_, ok := set[strings.ToLower(name)]
	return ok
}

// Headers 返回脱敏后的头部副本
func (r *Redactor) Headers(h traffic.Header) traffic.Header {
	if r == nil || len(r.headers) == 0 || h == nil {
		return h
	}
	out := make(traffic.Header, len(h))
	for k, v := range h {
		if contains(r.headers, k) {
			v = Marker
		}
		out[k] = v
	}
	return out
}

// URL 脱敏查询参数，保持参数顺序
func (r *Redactor) URL(raw string) string {
	if r == nil || len(r.query) == 0 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	pairs := strings.Split(u.RawQuery, "&")
	changed := false
	for i, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(key)
		if err != nil {
			name = key
		}
		if contains(r.query, name) {
			pairs[i] = key + "=" + url.QueryEscape(Marker)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = strings.Join(pairs, "&")
	return u.String()
}

// Body 脱敏 JSON 数据中任意层级的敏感字段，非 JSON 数据原样返回
func (r *Redactor) Body(data []byte) []byte {
	if r == nil || len(r.fields) == 0 || len(data) == 0 || !gjson.ValidBytes(data) {
		return data
	}
	var paths []string
	collect(gjson.ParseBytes(data), "", r.fields, &paths)
	if len(paths) == 0 {
		return data
	}

	out := data
	for _, p := range paths {
		next, err := sjson.SetBytes(out, p, Marker)
		if err != nil {
			continue
		}
		out = next
	}
	return out
}

// Request 返回脱敏后的请求副本
func (r *Redactor) Request(req *traffic.Request) *traffic.Request {
	if req == nil {
		return nil
	}
	out := req.Clone()
	if r == nil {
		return out
	}
	out.URL = r.URL(out.URL)
	out.Headers = r.Headers(out.Headers)
	return out
}

// Response 返回脱敏后的响应副本
func (r *Redactor) Response(resp *traffic.Response) *traffic.Response {
	if resp == nil {
		return nil
	}
	out := resp.Clone()
	if r == nil {
		return out
	}
	out.URL = r.URL(out.URL)
	out.Headers = r.Headers(out.Headers)
	return out
}

func collect(v gjson.Result, prefix string, fields map[string]struct{}, out *[]string) {
	switch {
	case v.IsObject():
		v.ForEach(func(key, val gjson.Result) bool {
			p := join(prefix, escapePath(key.String()))
			if contains(fields, key.String()) {
				*out = append(*out, p)
				return true
			}
			collect(val, p, fields, out)
			return true
		})
	case v.IsArray():
		i := 0
		v.ForEach(func(_, val gjson.Result) bool {
			collect(val, join(prefix, strconv.Itoa(i)), fields, out)
			i++
			return true
		})
	}
}

func join(prefix, part string) string {
	if prefix == "" {
		return part
	}
	return prefix + "." + part
}

// escapePath 转义 sjson 路径中的特殊字符
func escapePath(key string) string {
	var b strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
