package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"netpulse/internal/logger"
	"netpulse/pkg/api"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"maxSizeMB"`
			MaxBackups int    `yaml:"maxBackups"`
			MaxAgeDays int    `yaml:"maxAgeDays"`
			Compress   bool   `yaml:"compress"`
		} `yaml:"file"`
	} `yaml:"log"`

	Network struct {
		WaitForDecoding bool `yaml:"waitForDecoding"`
		ReportProgress  bool `yaml:"reportProgress"`
		RegexEnabled    bool `yaml:"regexEnabled"`
		StrictPatterns  bool `yaml:"strictPatterns"`

		IncludedHosts []string `yaml:"includedHosts"`
		IncludedURLs  []string `yaml:"includedURLs"`
		ExcludedHosts []string `yaml:"excludedHosts"`
		ExcludedURLs  []string `yaml:"excludedURLs"`

		SensitiveHeaders    []string `yaml:"sensitiveHeaders"`
		SensitiveQueryItems []string `yaml:"sensitiveQueryItems"`
		SensitiveDataFields []string `yaml:"sensitiveDataFields"`
	} `yaml:"network"`

	CDP struct {
		DevToolsURL string        `yaml:"devtoolsURL"`
		Target      string        `yaml:"target"`
		BodyTimeout time.Duration `yaml:"bodyTimeout"`
	} `yaml:"cdp"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File.Path = "netpulse.log"
	c.Log.File.MaxSizeMB = 50
	c.Log.File.MaxBackups = 3
	c.Log.File.MaxAgeDays = 7
	c.CDP.DevToolsURL = "http://127.0.0.1:9222"
	c.CDP.BodyTimeout = 3 * time.Second
	return c
}

// Load 读取 YAML 配置，未出现的字段保留默认值；path 为空时返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	for _, w := range c.Log.Writer {
		if w != "console" && w != "file" {
			errs = append(errs, fmt.Errorf("log.writer: unknown writer %q", w))
		}
	}
	if slices.Contains(c.Log.Writer, "file") && c.Log.File.Path == "" {
		errs = append(errs, errors.New("log.file.path: required when file writer is enabled"))
	}
	if c.CDP.BodyTimeout < 0 {
		errs = append(errs, errors.New("cdp.bodyTimeout: must not be negative"))
	}
	return errors.Join(errs...)
}

// LoggerOptions 转换为日志选项
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:  c.Log.Level,
		Writer: c.Log.Writer,
		File: logger.FileOptions{
			Path:       c.Log.File.Path,
			MaxSizeMB:  c.Log.File.MaxSizeMB,
			MaxBackups: c.Log.File.MaxBackups,
			MaxAgeDays: c.Log.File.MaxAgeDays,
			Compress:   c.Log.File.Compress,
		},
	}
}

// APIOptions 转换为网络日志选项
func (c *Config) APIOptions() api.Options {
	n := c.Network
	return api.Options{
		WaitForDecoding:     n.WaitForDecoding,
		ReportProgress:      n.ReportProgress,
		IncludedHosts:       n.IncludedHosts,
		IncludedURLs:        n.IncludedURLs,
		ExcludedHosts:       n.ExcludedHosts,
		ExcludedURLs:        n.ExcludedURLs,
		RegexEnabled:        n.RegexEnabled,
		StrictPatterns:      n.StrictPatterns,
		SensitiveHeaders:    n.SensitiveHeaders,
		SensitiveQueryItems: n.SensitiveQueryItems,
		SensitiveDataFields: n.SensitiveDataFields,
	}
}

// BrowserOptions 转换为浏览器连接选项
func (c *Config) BrowserOptions() api.BrowserOptions {
	return api.BrowserOptions{
		DevToolsURL: c.CDP.DevToolsURL,
		Target:      c.CDP.Target,
		BodyTimeout: c.CDP.BodyTimeout,
	}
}
