package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/private-symposium-go/internal/config"
	"github.com/private-symposium-go/pkg/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "symposium",
		Short:         "The Private Symposium chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "configs/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().String("env", ".env", "Path to .env file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newResetQuotasCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads the environment file, configuration and logger shared by
// every command
func bootstrap(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env")

	// It's okay if .env doesn't exist
	if err := godotenv.Load(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: .env file not loaded: %v\n", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Identify(log, "symposium", cfg.Server.Version)

	return cfg, log, nil
}
