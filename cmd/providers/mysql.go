package providers

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MySQL config keys.
const (
	ConfMySQLDSN          = "mysql.dsn"
	ConfMySQLMaxOpenConns = "mysql.max_open_conns"
	ConfMySQLCacheTTL     = "mysql.cache_ttl"
)

func init() {
	viper.SetDefault(ConfMySQLDSN, "")
	viper.SetDefault(ConfMySQLMaxOpenConns, 16)
	viper.SetDefault(ConfMySQLCacheTTL, 10*time.Second)
}

// NewMySQL connects an SQL client to the MySQL DSN from config.
func NewMySQL(ctx context.Context, log *zap.Logger, lc fx.Lifecycle) (*sqlx.DB, error) {
	cfg, err := mysql.ParseDSN(viper.GetString(ConfMySQLDSN))
	if err != nil {
		return nil, err
	}
	log.Info("Connecting to MySQL DB",
		zap.String("mysql.net", cfg.Net),
		zap.String("mysql.addr", cfg.Addr),
		zap.String("mysql.db_name", cfg.DBName),
		zap.String("mysql.user", cfg.User))
	// Connect
	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(viper.GetInt(ConfMySQLMaxOpenConns))
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("Closing MySQL client")
			return db.Close()
		},
	})
	return db, nil
}
