package gc

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.od2.network/queues/cmd/providers"
	gcworker "go.od2.network/queues/pkg/gc"
	"go.od2.network/queues/pkg/ratelimit"
	"go.od2.network/queues/pkg/storage"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Cmd = cobra.Command{
	Use:   "gc",
	Short: "Run claim garbage collection",
	Long: "Periodically removes bookkeeping of expired claims from all queues.\n" +
		"Message visibility never depends on GC, it only reclaims space.",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		app := providers.NewApp(cmd, fx.Invoke(providers.ServeMetrics, Run))
		app.Run()
	},
}

// GC config keys.
const (
	ConfInterval = "gc.interval"
	ConfRate     = "gc.rate"
)

func init() {
	viper.SetDefault(ConfInterval, time.Minute)
	viper.SetDefault(ConfRate, 50.0)
}

type gcIn struct {
	fx.In

	Lifecycle fx.Lifecycle
	Shutdown  fx.Shutdowner
	Driver    storage.Driver
	Meter     metric.Meter
}

// Run starts the GC worker in the background of the app.
func Run(log *zap.Logger, inputs gcIn) error {
	worker, err := gcworker.NewWorker(log.Named("gc"), inputs.Driver, viper.GetDuration(ConfInterval), inputs.Meter)
	if err != nil {
		return err
	}
	if rate := viper.GetFloat64(ConfRate); rate > 0 {
		worker.Limiter = ratelimit.New(float32(rate), 10)
	}
	providers.RunWithContext(inputs.Lifecycle, func(ctx context.Context) {
		defer inputs.Shutdown.Shutdown()
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("GC worker failed", zap.Error(err))
		}
	})
	return nil
}
