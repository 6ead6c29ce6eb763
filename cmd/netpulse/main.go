package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"netpulse/internal/config"
	"netpulse/internal/logger"
	"netpulse/pkg/api"
	"netpulse/pkg/sink"
)

const version = "0.1.0"

var (
	configFile string
	outputFile string
	logLevel   string

	waitForDecoding bool
	reportProgress  bool
	regexEnabled    bool
	strictPatterns  bool
	includedHosts   []string
	excludedHosts   []string
	includedURLs    []string
	excludedURLs    []string
	sensitive       []string
	sensitiveQuery  []string
	sensitiveFields []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "netpulse",
		Short: "netpulse - HTTP task event logger",
		Long: `netpulse records the lifecycle of network tasks as JSON lines:
a taskCreated event when a request starts, optional taskProgress events while
the body arrives, and one taskCompleted event with response, body, metrics and
a structured error.

Examples:
  # Log a single request to stdout
  netpulse fetch https://httpbin.org/get

  # Redact secrets and write events to a file
  netpulse fetch -o events.jsonl --sensitive-header Authorization \
    -H "Authorization: Bearer xyz" https://httpbin.org/bearer

  # Record a browser tab started with --remote-debugging-port=9222
  netpulse cdp --devtools http://127.0.0.1:9222 --exclude-host "*.googleapis.com"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "YAML config file")
	pf.StringVarP(&outputFile, "output", "o", "", "Write events to file instead of stdout")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&waitForDecoding, "wait-for-decoding", false, "Complete successful tasks only after decoding finishes (fetch --json only)")
	pf.BoolVar(&reportProgress, "progress", false, "Emit taskProgress events")
	pf.BoolVar(&regexEnabled, "regex", false, "Treat host/URL patterns as regular expressions")
	pf.BoolVar(&strictPatterns, "strict-patterns", false, "Fail on invalid patterns")
	pf.StringSliceVar(&includedHosts, "include-host", nil, "Only log hosts matching pattern (repeatable)")
	pf.StringSliceVar(&excludedHosts, "exclude-host", nil, "Drop hosts matching pattern (repeatable)")
	pf.StringSliceVar(&includedURLs, "include-url", nil, "Only log URLs matching pattern (repeatable)")
	pf.StringSliceVar(&excludedURLs, "exclude-url", nil, "Drop URLs matching pattern (repeatable)")
	pf.StringSliceVar(&sensitive, "sensitive-header", nil, "Redact header values (repeatable)")
	pf.StringSliceVar(&sensitiveQuery, "sensitive-query", nil, "Redact query items (repeatable)")
	pf.StringSliceVar(&sensitiveFields, "sensitive-field", nil, "Redact JSON body fields (repeatable)")

	rootCmd.AddCommand(newFetchCmd(), newCDPCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app 单次命令运行所需的组件
type app struct {
	cfg  *config.Config
	log  *logger.ZeroLogger
	out  io.WriteCloser
	sink *sink.JSONLines
	net  *api.NetworkLogger
}

func (a *app) Close() {
	a.log.Info("事件写入完成", "written", a.sink.Written(), "pending", a.net.Pending())
	if a.out != os.Stdout {
		a.out.Close()
	}
	a.log.Close()
}

// setup 加载配置、合并命令行参数并创建网络日志
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lo := cfg.LoggerOptions()
	lo.Console = os.Stderr
	log, err := logger.New(lo)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var out io.WriteCloser = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("open output: %w", err)
		}
		out = f
	}

	s := sink.NewJSONLines(out, log)
	nl, err := api.New(cfg.APIOptions(), s, log)
	if err != nil {
		if out != os.Stdout {
			out.Close()
		}
		log.Close()
		return nil, err
	}
	log.Info("网络日志已启动", "session", s.CurrentSessionID())
	return &app{cfg: cfg, log: log, out: out, sink: s, net: nl}, nil
}

// applyFlags 显式设置的参数覆盖配置文件
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	n := &cfg.Network
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("wait-for-decoding") {
		n.WaitForDecoding = waitForDecoding
	}
	if flags.Changed("progress") {
		n.ReportProgress = reportProgress
	}
	if flags.Changed("regex") {
		n.RegexEnabled = regexEnabled
	}
	if flags.Changed("strict-patterns") {
		n.StrictPatterns = strictPatterns
	}
	n.IncludedHosts = append(n.IncludedHosts, includedHosts...)
	n.ExcludedHosts = append(n.ExcludedHosts, excludedHosts...)
	n.IncludedURLs = append(n.IncludedURLs, includedURLs...)
	n.ExcludedURLs = append(n.ExcludedURLs, excludedURLs...)
	n.SensitiveHeaders = append(n.SensitiveHeaders, sensitive...)
	n.SensitiveQueryItems = append(n.SensitiveQueryItems, sensitiveQuery...)
	n.SensitiveDataFields = append(n.SensitiveDataFields, sensitiveFields...)
}
