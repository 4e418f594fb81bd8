package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metrics config keys.
const (
	ConfMetricsNetwork = "metrics.network"
	ConfMetricsListen  = "metrics.listen"
)

func init() {
	viper.SetDefault(ConfMetricsNetwork, "tcp")
	viper.SetDefault(ConfMetricsListen, "")
}

// ListenUnix is a wrapper over unix socket listeners with proper cleanup.
func ListenUnix(path string) (net.Listener, error) {
	stat, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return net.Listen("unix", path)
	} else if statErr != nil {
		return nil, statErr
	}
	// Socket still exists, clean up.
	if stat.Mode()&os.ModeSocket == 0 {
		return nil, fmt.Errorf("existing file is not a socket: %s", path)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("failed to remove socket: %w", err)
	}
	return net.Listen("unix", path)
}

// Listen is a wrapper over net.Listen with better unix socket support.
func Listen(network, address string) (net.Listener, error) {
	switch network {
	case "unix":
		return ListenUnix(address)
	default:
		return net.Listen(network, address)
	}
}

// ServeHTTP serves handler on a listener for the lifetime of the app.
func ServeHTTP(log *zap.Logger, lc fx.Lifecycle, shutdown fx.Shutdowner, network, address string, handler http.Handler) {
	server := &http.Server{Handler: handler}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			opts := []zap.Field{
				zap.String("listen.net", network),
				zap.String("listen.addr", address),
			}
			sock, err := Listen(network, address)
			if err != nil {
				return fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
			}
			log.Info("Starting HTTP server", opts...)
			go func() {
				if err := server.Serve(sock); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("HTTP server failed", append(opts, zap.Error(err))...)
					_ = shutdown.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		},
	})
}

// ServeMetrics exposes the Prometheus handler if a metrics listener is configured.
func ServeMetrics(log *zap.Logger, lc fx.Lifecycle, shutdown fx.Shutdowner) error {
	address := viper.GetString(ConfMetricsListen)
	if address == "" {
		log.Info("Metrics listener disabled")
		return nil
	}
	export, err := SetupPrometheus(metrics.DefaultRegistry)
	if err != nil {
		return err
	}
	RunWithContext(lc, func(ctx context.Context) {
		export.Sync(ctx, log, GOMPrometheusSync)
	})
	mux := http.NewServeMux()
	mux.Handle("/metrics", export.Handler)
	ServeHTTP(log, lc, shutdown, viper.GetString(ConfMetricsNetwork), address, mux)
	return nil
}
