package rules

import (
	"errors"
	"net/url"

	"netpulse/internal/logger"
	"netpulse/pkg/model"
)

// FilterConfig 过滤配置
type FilterConfig struct {
	IncludedHosts []string
	IncludedURLs  []string
	ExcludedHosts []string
	ExcludedURLs  []string
	RegexEnabled  bool
}

// Filter 根据 host / URL 的包含、排除模式决定事件去留
type Filter struct {
	includedHosts []*Pattern
	includedURLs  []*Pattern
	excludedHosts []*Pattern
	excludedURLs  []*Pattern
	diagnostics   []error
}

// NewFilter 编译过滤配置，编译失败的模式被忽略并记录诊断
func NewFilter(cfg FilterConfig, l logger.Logger) *Filter {
	if l == nil {
		l = logger.NewNop()
	}
	f := &Filter{}
	f.includedHosts = f.compile(cfg.IncludedHosts, cfg.RegexEnabled)
	f.includedURLs = f.compile(cfg.IncludedURLs, cfg.RegexEnabled)
	f.excludedHosts = f.compile(cfg.ExcludedHosts, cfg.RegexEnabled)
	f.excludedURLs = f.compile(cfg.ExcludedURLs, cfg.RegexEnabled)

	for _, err := range f.diagnostics {
		l.Warn("过滤模式编译失败，已忽略", "error", err.Error())
	}
	return f
}

func (f *Filter) compile(patterns []string, regexEnabled bool) []*Pattern {
	out, errs := CompileAll(patterns, regexEnabled)
	f.diagnostics = append(f.diagnostics, errs...)
	return out
}

// Diagnostics 返回编译失败的模式诊断
func (f *Filter) Diagnostics() []error {
	if f == nil {
		return nil
	}
	return f.diagnostics
}

// Err 合并所有诊断，没有失败时返回 nil
func (f *Filter) Err() error {
	return errors.Join(f.Diagnostics()...)
}

// KeepEvent 判断事件是否保留。nil 过滤器保留所有事件，否则没有 URL 的事件直接丢弃
func (f *Filter) KeepEvent(ev model.Event) bool {
	if ev == nil {
		return false
	}
	if f == nil {
		return true
	}
	if ev.URL() == "" {
		return false
	}
	return f.Keep(ev.URL())
}

// Keep 判断 URL 是否保留。先按包含集合收窄，再按排除集合剔除。
func (f *Filter) Keep(rawURL string) bool {
	if f == nil {
		return true
	}
	host := resolveHost(rawURL)

	if len(f.includedHosts) > 0 || len(f.includedURLs) > 0 {
		if !matchAny(f.includedHosts, host) && !matchAny(f.includedURLs, rawURL) {
			return false
		}
	}
	if matchAny(f.excludedHosts, host) || matchAny(f.excludedURLs, rawURL) {
		return false
	}
	return true
}

// resolveHost 解析 host，解析不出 host 时（如 "localhost:8080/x"）补上 https:// 重新解析
func resolveHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil && u.Host != "" {
		return u.Hostname()
	}
	u, err = url.Parse("https://" + rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
