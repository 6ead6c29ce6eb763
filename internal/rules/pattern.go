package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern 编译后的匹配模式
type Pattern struct {
	source string
	re     *regexp.Regexp
}

// PatternError 模式编译失败的诊断信息
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("compile pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// Compile 编译单个模式。regexEnabled 为 false 时按通配符处理：
// 转义 "."，"*" 匹配任意序列。匹配语义为子串搜索，大小写不敏感。
func Compile(pattern string, regexEnabled bool) (*Pattern, error) {
	expr := pattern
	if !regexEnabled {
		expr = expandWildcards(pattern)
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, &PatternError{Pattern: pattern, Err: err}
	}
	return &Pattern{source: pattern, re: re}, nil
}

// CompileAll 编译一组模式，失败项只收集诊断不中断
func CompileAll(patterns []string, regexEnabled bool) ([]*Pattern, []error) {
	var (
		out  []*Pattern
		errs []error
		seen = make(map[string]struct{}, len(patterns))
	)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}

		compiled, err := Compile(p, regexEnabled)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, compiled)
	}
	return out, errs
}

func expandWildcards(pattern string) string {
	return strings.ReplaceAll(strings.ReplaceAll(pattern, ".", `\.`), "*", ".*?")
}

// MatchString 判断 s 中是否存在匹配
func (p *Pattern) MatchString(s string) bool {
	return p.re.MatchString(s)
}

// String 返回原始配置字符串
func (p *Pattern) String() string { return p.source }

func matchAny(patterns []*Pattern, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
