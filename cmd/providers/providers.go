package providers

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"go.od2.network/queues/pkg/appctx"
	"go.opentelemetry.io/otel/metric/global"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Log is the global logger.
var Log *zap.Logger

// Providers holds constructors for shared components.
var Providers = []interface{}{
	// providers.go
	NewContext,
	// storage.go
	NewDriver,
	NewLimits,
	NewStorageMetrics,
}

// NewApp builds a long-running app.
func NewApp(cmd *cobra.Command, opts ...fx.Option) *fx.App {
	baseOpts := []fx.Option{
		fx.Provide(Providers...),
		fx.Supply(cmd),
		fx.Supply(Log),
		fx.Logger(zap.NewStdLog(Log)),
		fx.Supply(global.GetMeterProvider().Meter(cmd.Name())),
	}
	baseOpts = append(baseOpts, opts...)
	return fx.New(baseOpts...)
}

// NewCmd returns a cobra handler running invoke once with injected components.
// The components are shut down when invoke returns.
// An error returned by invoke terminates the process.
func NewCmd(invoke interface{}) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		app := fx.New(
			fx.Provide(Providers...),
			fx.Supply(cmd),
			fx.Supply(args),
			fx.Supply(Log),
			fx.Logger(zap.NewStdLog(Log.Named("fx"))),
			fx.Supply(global.GetMeterProvider().Meter(cmd.Name())),
			fx.Invoke(invoke),
		)
		if err := app.Err(); err != nil {
			Log.Fatal("Command failed", zap.Error(err))
		}
		// Starting and stopping runs the shutdown hooks of the injected components.
		ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		if err := app.Start(ctx); err != nil {
			Log.Warn("Failed to start components", zap.Error(err))
		}
		if err := app.Stop(ctx); err != nil {
			Log.Warn("Failed to stop components", zap.Error(err))
		}
	}
}

// NewContext returns a context that is canceled on interrupt or when the app stops.
func NewContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(appctx.Context())
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}

// RunWithContext runs fn in the background while the app is running.
// Stopping the app cancels the context passed to fn and waits for it to return.
func RunWithContext(lc fx.Lifecycle, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn(ctx)
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			wg.Wait()
			return nil
		},
	})
}
