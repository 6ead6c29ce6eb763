package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	devtoolsURL string
	targetID    string
)

func newCDPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cdp",
		Short: "Attach to a browser DevTools target and log its network tasks",
		Args:  cobra.NoArgs,
		RunE:  runCDP,
	}
	cmd.Flags().StringVar(&devtoolsURL, "devtools", "", "DevTools HTTP endpoint (default from config)")
	cmd.Flags().StringVar(&targetID, "target", "", "Target ID (default: first page)")
	return cmd
}

func runCDP(cmd *cobra.Command, _ []string) error {
	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := rt.cfg.BrowserOptions()
	if devtoolsURL != "" {
		opts.DevToolsURL = devtoolsURL
	}
	if targetID != "" {
		opts.Target = targetID
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := rt.net.AttachBrowser(ctx, opts)
	if err != nil {
		return err
	}
	rt.log.Info("开始记录浏览器网络请求，Ctrl+C 结束", "devtools", opts.DevToolsURL)

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		rt.log.Info("收到退出信号，断开连接")
		return sess.Detach()
	case err := <-done:
		if derr := sess.Detach(); derr != nil {
			rt.log.Debug("断开连接失败", "error", derr.Error())
		}
		return err
	}
}
