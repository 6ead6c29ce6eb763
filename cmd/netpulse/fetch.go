package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"netpulse/internal/config"
	"netpulse/pkg/api"
)

var (
	fetchMethod  string
	fetchHeaders []string
	fetchData    string
	fetchTimeout time.Duration
	decodeJSON   bool
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [flags] <url>...",
		Short: "Send HTTP requests and log their task events",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFetch,
	}
	cmd.Flags().StringVarP(&fetchMethod, "method", "X", "", "HTTP method (default GET, POST with --data)")
	cmd.Flags().StringArrayVarP(&fetchHeaders, "header", "H", nil, `Request header "Name: value" (repeatable)`)
	cmd.Flags().StringVarP(&fetchData, "data", "d", "", "Request body")
	cmd.Flags().DurationVar(&fetchTimeout, "timeout", 30*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&decodeJSON, "json", false, "Decode response bodies as JSON and report decoding result")
	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := checkDecoding(rt.cfg, decodeJSON); err != nil {
		return err
	}

	client := rt.net.Client(fetchTimeout)
	var failed int
	for _, target := range args {
		if err := fetchOne(cmd.Context(), rt, client, target); err != nil {
			rt.log.Err(err, "请求失败", "url", target)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(args))
	}
	return nil
}

// checkDecoding 等待解码模式下只有 --json 会上报解码结果
func checkDecoding(cfg *config.Config, decode bool) error {
	if cfg.Network.WaitForDecoding && !decode {
		return fmt.Errorf("--wait-for-decoding requires --json: %w", api.ErrDecodingNotReported)
	}
	return nil
}

func fetchOne(ctx context.Context, rt *app, client *http.Client, target string) error {
	method := fetchMethod
	if method == "" {
		method = http.MethodGet
		if fetchData != "" {
			method = http.MethodPost
		}
	}
	var body io.Reader
	if fetchData != "" {
		body = strings.NewReader(fetchData)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for _, h := range fetchHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	if decodeJSON {
		var v any
		return rt.net.DecodeJSON(resp, &v)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return nil
}
