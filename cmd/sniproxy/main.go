// Command sniproxy is the CLI entrypoint: load the backend configuration,
// resolve every backend's host, bind the listener(s), and serve until a
// signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sni-tunnel-proxy/configs"
	"sni-tunnel-proxy/internal/backends"
	"sni-tunnel-proxy/internal/listener"
	"sni-tunnel-proxy/internal/logging"
	"sni-tunnel-proxy/internal/session"
)

// resolveTimeout bounds the one-time startup resolution of every
// configured backend host.
const resolveTimeout = 15 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "sni-proxy",
		Short:         "Transparent TCP forwarder that routes TLS connections by SNI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfg := configs.BindFlags(root)
	root.RunE = func(cmd *cobra.Command, _ []string) error {
		return run(cfg)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads configuration, binds the listener, and serves until a signal
// arrives or the accept loop exits on its own. Configuration and bind
// errors are returned so main can map them to a non-zero exit code; help
// (`-h`) is handled by cobra before RunE is ever invoked and exits 0.
func run(cfg *configs.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logging.Setup("plain")
	logger := logging.New("main")

	backendCfg, err := backends.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	resolveCtx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	resolved, err := backends.ResolveAll(resolveCtx, backendCfg, backends.NewDNSResolver())
	cancel()
	if err != nil {
		return fmt.Errorf("configuration: resolving backends: %w", err)
	}
	dispatcher := backends.NewDispatcher(resolved)

	opts := session.Options{
		BufLen:           cfg.BufLen,
		ReadHelloTimeout: 10 * time.Second,
		DialTimeout:      5 * time.Second,
	}

	ln, err := listener.New(backendCfg.Port, dispatcher, opts, logger)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	for _, addr := range ln.Addrs() {
		logger.Infof("listening on %s", addr)
	}

	ctx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()

	var shutdownOnce sync.Once
	shutdown := func(reason string) {
		shutdownOnce.Do(func() {
			logger.Infof("shutting down: %s", reason)
			cancelServe()
			ln.Close()
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		shutdown("received signal")
	}()
	defer signal.Stop(sigCh)

	ln.Serve(ctx)
	shutdown("accept loop exited")
	return nil
}
