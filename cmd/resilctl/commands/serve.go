package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	resilience "github.com/Nathan-Paranhos/AithosRag-sub003"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(f *flags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the layer in the background and serve status and metrics",
		Long: `Start the resilience layer (health probing and periodic sync drains) and
serve /status, /metrics, /healthz and POST /sync until interrupted.

Examples:
  resilctl serve
  resilctl serve --listen 127.0.0.1:9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := f.load()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Metrics.Listen
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			layer, err := resilience.New(cfg,
				resilience.WithLogger(logger),
				resilience.WithRegisterer(reg),
			)
			if err != nil {
				return err
			}
			defer layer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			layer.Start(ctx)

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			var gatherer prometheus.Gatherer
			if cfg.Metrics.Enabled {
				gatherer = reg
			}
			srv := &http.Server{
				Handler:           newRouter(layer, gatherer, logger),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Serve(ln)
			}()
			logger.Info("serving", "addr", ln.Addr().String())

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (defaults to metrics.listen)")
	return cmd
}
