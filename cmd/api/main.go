package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-directory-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:           "directory",
		Short:         "Provider directory rotation and presence service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), addr)
		},
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", envOr("HTTP_ADDR", "0.0.0.0:8431"), "HTTP listen address")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP service (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), addr)
			},
		},
		migrateCmd(),
		seedCmd(),
		presenceCmd(),
	)
	return cmd
}

// newLogger builds the process logger from LOG_* env vars.
func newLogger() (*zap.Logger, error) {
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return lg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
