package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/spf13/viper"
	"go.od2.network/queues/pkg/storage"
	"go.od2.network/queues/pkg/storage/redisstore"
	"go.od2.network/queues/pkg/storage/sqlstore"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Storage config keys.
const (
	ConfStorageBackend = "storage.backend"

	ConfRetryAttempts = "retry.attempts"
	ConfRetryBackoff  = "retry.backoff"

	ConfLimitsDefaultClaimMessages = "limits.default_claim_messages"
	ConfLimitsMaxClaimMessages     = "limits.max_claim_messages"
	ConfLimitsMaxMessageTTL        = "limits.max_message_ttl"
	ConfLimitsMaxClaimTTL          = "limits.max_claim_ttl"
	ConfLimitsMaxClaimGrace        = "limits.max_claim_grace"
	ConfLimitsMaxPostBatch         = "limits.max_post_batch"
)

// Storage backends.
const (
	BackendMySQL = "mysql"
	BackendRedis = "redis"
)

func init() {
	viper.SetDefault(ConfStorageBackend, BackendMySQL)

	viper.SetDefault(ConfRetryAttempts, uint64(storage.DefaultRetryAttempts))
	viper.SetDefault(ConfRetryBackoff, storage.DefaultRetryBackoff)

	viper.SetDefault(ConfLimitsDefaultClaimMessages, storage.DefaultLimits.DefaultClaimMessages)
	viper.SetDefault(ConfLimitsMaxClaimMessages, storage.DefaultLimits.MaxClaimMessages)
	viper.SetDefault(ConfLimitsMaxMessageTTL, time.Duration(storage.DefaultLimits.MaxMessageTTL)*time.Second)
	viper.SetDefault(ConfLimitsMaxClaimTTL, time.Duration(storage.DefaultLimits.MaxClaimTTL)*time.Second)
	viper.SetDefault(ConfLimitsMaxClaimGrace, time.Duration(storage.DefaultLimits.MaxClaimGrace)*time.Second)
	viper.SetDefault(ConfLimitsMaxPostBatch, storage.DefaultLimits.MaxPostBatch)
}

// NewStorageMetrics registers the storage counters on the default go-metrics registry.
func NewStorageMetrics() *storage.Metrics {
	return storage.NewMetrics(metrics.DefaultRegistry)
}

// NewLimits reads the service-wide bounds from config.
func NewLimits() *storage.Limits {
	seconds := func(key string) int64 {
		return int64(viper.GetDuration(key) / time.Second)
	}
	return &storage.Limits{
		DefaultClaimMessages: viper.GetInt(ConfLimitsDefaultClaimMessages),
		MaxClaimMessages:     viper.GetInt(ConfLimitsMaxClaimMessages),
		MaxMessageTTL:        seconds(ConfLimitsMaxMessageTTL),
		MaxClaimTTL:          seconds(ConfLimitsMaxClaimTTL),
		MaxClaimGrace:        seconds(ConfLimitsMaxClaimGrace),
		MaxPostBatch:         viper.GetInt(ConfLimitsMaxPostBatch),
	}
}

// NewDriver connects to the storage backend selected in config.
// Only the selected backend is connected.
func NewDriver(
	ctx context.Context,
	log *zap.Logger,
	lc fx.Lifecycle,
	storageMetrics *storage.Metrics,
) (storage.Driver, error) {
	backend := viper.GetString(ConfStorageBackend)
	log = log.Named("storage")
	log.Info("Using storage backend", zap.String(ConfStorageBackend, backend))
	attempts := viper.GetUint64(ConfRetryAttempts)
	backoff := viper.GetDuration(ConfRetryBackoff)
	switch backend {
	case BackendMySQL:
		db, err := NewMySQL(ctx, log, lc)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(db, sqlstore.Options{
			Log:      log,
			Metrics:  storageMetrics,
			Attempts: attempts,
			Backoff:  backoff,
			CacheTTL: viper.GetDuration(ConfMySQLCacheTTL),
		})
	case BackendRedis:
		rd, err := NewRedis(ctx, log, lc)
		if err != nil {
			return nil, err
		}
		return redisstore.New(ctx, rd, redisstore.Options{
			Log:        log,
			Metrics:    storageMetrics,
			Prefix:     viper.GetString(ConfRedisPrefix),
			Attempts:   attempts,
			Backoff:    backoff,
			PurgeBatch: viper.GetInt(ConfRedisPurgeBatch),
		})
	default:
		return nil, fmt.Errorf("unknown %s: %q", ConfStorageBackend, backend)
	}
}
