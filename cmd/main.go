package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.od2.network/queues/cmd/admin_tool"
	"go.od2.network/queues/cmd/gc"
	"go.od2.network/queues/cmd/migrate"
	"go.od2.network/queues/cmd/providers"
	"go.uber.org/zap"
)

var rootCmd = cobra.Command{
	Use:   "queues",
	Short: "od2/queues message queue storage",

	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logConfig zap.Config
		if devMode {
			logConfig = zap.NewDevelopmentConfig()
		} else {
			logConfig = zap.NewProductionConfig()
		}
		log, err := logConfig.Build()
		if err != nil {
			panic("failed to build logger: " + err.Error())
		}
		providers.Log = log
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				log.Fatal("Failed to read config", zap.String("config", configFile), zap.Error(err))
			}
		}
	},
}

var devMode bool
var configFile string

func init() {
	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.BoolVar(&devMode, "dev", false, "Dev mode")
	persistentFlags.StringVar(&configFile, "config", "", "Config file (TOML, YAML or JSON)")

	viper.SetEnvPrefix("queues")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		&admin_tool.Cmd,
		&gc.Cmd,
		&migrate.Cmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
