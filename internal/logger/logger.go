package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 项目内统一的日志接口，键值对形式传递字段
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// FileOptions 文件日志滚动配置
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options 日志初始化选项
type Options struct {
	Level   string
	Writer  []string // console / file
	File    FileOptions
	Console io.Writer
}

// ZeroLogger 基于 zerolog 的实现
type ZeroLogger struct {
	zl     zerolog.Logger
	closer io.Closer
}

// New 按选项创建日志实例
func New(opts Options) (*ZeroLogger, error) {
	level := zerolog.DebugLevel
	if opts.Level != "" {
		lv, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = lv
	}

	var (
		writers []io.Writer
		closer  io.Closer
	)
	for _, w := range opts.Writer {
		switch strings.ToLower(w) {
		case "console":
			out := opts.Console
			if out == nil {
				out = os.Stderr
			}
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly})
		case "file":
			if opts.File.Path == "" {
				return nil, fmt.Errorf("file writer requires a path")
			}
			lj := &lumberjack.Logger{
				Filename:   opts.File.Path,
				MaxSize:    opts.File.MaxSizeMB,
				MaxBackups: opts.File.MaxBackups,
				MaxAge:     opts.File.MaxAgeDays,
				Compress:   opts.File.Compress,
			}
			writers = append(writers, lj)
			closer = lj
		default:
			return nil, fmt.Errorf("unknown log writer %q", w)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return &ZeroLogger{zl: zl, closer: closer}, nil
}

// NewWithWriter 直接输出 JSON 到指定 writer，测试中使用
func NewWithWriter(w io.Writer, level zerolog.Level) *ZeroLogger {
	return &ZeroLogger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewNop 返回丢弃所有输出的日志实例
func NewNop() Logger {
	return &ZeroLogger{zl: zerolog.Nop()}
}

func (l *ZeroLogger) Debug(msg string, kv ...any) { l.zl.Debug().Fields(kv).Msg(msg) }

func (l *ZeroLogger) Info(msg string, kv ...any) { l.zl.Info().Fields(kv).Msg(msg) }

func (l *ZeroLogger) Warn(msg string, kv ...any) { l.zl.Warn().Fields(kv).Msg(msg) }

func (l *ZeroLogger) Error(msg string, kv ...any) { l.zl.Error().Fields(kv).Msg(msg) }

// Err 记录带错误的日志
func (l *ZeroLogger) Err(err error, msg string, kv ...any) {
	l.zl.Error().Err(err).Fields(kv).Msg(msg)
}

// With 返回附加固定字段的子日志
func (l *ZeroLogger) With(kv ...any) Logger {
	return &ZeroLogger{zl: l.zl.With().Fields(kv).Logger(), closer: l.closer}
}

// Close 关闭文件输出
func (l *ZeroLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
