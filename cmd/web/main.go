package main

import (
	"fmt"
	"net"
	"os"

	"github.com/de-tools/egress-meter/pkg/server"
	"github.com/de-tools/egress-meter/pkg/services/classifier"
	"github.com/de-tools/egress-meter/pkg/services/config"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "web",
		Short: "Start the ops web server for the egress meter",
		RunE:  runServer,
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(cmd.Context())

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ServerHost == "" || cfg.ServerPort == "" {
		logger.Error().Msgf("Missing server configuration from .env file")
		os.Exit(1)
	}

	// The classify endpoint answers from the same table a scan run
	// would use, so a broken range source surfaces at startup.
	source := classifier.NewSource(nil, cfg.IPRangesURL, cfg.FallbackRangesFile)
	doc, err := source.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load address ranges: %w", err)
	}
	cls, err := classifier.New(ctx, doc, cfg.Region)
	if err != nil {
		return fmt.Errorf("failed to build classifier: %w", err)
	}

	logger.Info().
		Str("state_file", cfg.StateFile).
		Str("region", cfg.Region).
		Msg("egress meter ops server configured")

	api := server.NewWebAPI(logger, server.Config{
		Addr: net.JoinHostPort(cfg.ServerHost, cfg.ServerPort),
		Dependencies: server.Dependencies{
			StatePath:  cfg.StateFile,
			Classifier: cls,
		},
	})

	return api.Start()
}
