package main

import (
	"context"
	"fmt"
	"os"

	"labcrm/internal/app"
	"labcrm/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "labcrm",
	Short: "Lab CRM automation engine",
	Long: `labcrm runs the CRM automation engine: the HTTP API, the date trigger
scanner and the delayed action worker, plus one-off maintenance commands.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

// bootstrap loads config, configures logging and builds the application.
func bootstrap(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return app.New(ctx, cfg, logrus.StandardLogger())
}
