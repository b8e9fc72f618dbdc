package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"socialdash/pkg/imageproxy"
	"socialdash/pkg/logger"
	"socialdash/pkg/ui"
)

// proxyCmd runs the image proxy on its own
var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the standalone image proxy",
	Long: `Serve Instagram CDN images from a local origin. Each request path is tried
against the configured CDN hosts in order and cached in memory. A /health
endpoint reports the cache size and uptime.`,
	Example: `  socialdash proxy --listen :3001`,
	Run:     runProxy,
}

var proxyAddr string

func init() {
	rootCmd.AddCommand(proxyCmd)
	proxyCmd.Flags().StringVar(&proxyAddr, "listen", "", "listen address (default from config, :3001)")
}

func runProxy(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Proxy.Addr
	if proxyAddr != "" {
		addr = proxyAddr
	}

	proxy := imageproxy.New(cfg.Proxy,
		imageproxy.WithPrefix(cfg.Acquisition.ProxyPrefix),
		imageproxy.WithLogger(logger.GetLogger()),
	)
	if err := proxy.Start(); err != nil {
		ui.PrintError("Failed to start cache janitor", err.Error())
		os.Exit(1)
	}
	defer proxy.Stop()

	mux := http.NewServeMux()
	proxy.Register(mux, true)
	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 15 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	ui.PrintInfo("Image proxy", addr+proxy.Prefix())
	logger.LogComponentStart("imageproxy", map[string]interface{}{
		"addr":  addr,
		"hosts": len(cfg.Proxy.Hosts),
		"ttl":   cfg.Proxy.CacheTTL.String(),
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		ui.PrintError("Proxy stopped", err.Error())
		os.Exit(1)
	}
	logger.LogComponentStop("imageproxy", "shutdown")
}
