package main

import (
	"context"
	"fmt"
	"os"

	"github.com/de-tools/egress-meter/pkg/runtime/terminal"
	"github.com/de-tools/egress-meter/pkg/services/config"
	"github.com/de-tools/egress-meter/pkg/services/publisher"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sinks := publisher.NewRegistry()
	_ = sinks.Register(publisher.SinkAMQP, func(ctx context.Context) (publisher.Sink, error) {
		return publisher.NewAMQPSink(ctx, cfg.AMQPURL, cfg.AMQPExchange)
	})
	_ = sinks.Register(publisher.SinkStdout, func(context.Context) (publisher.Sink, error) {
		return publisher.NewWriterSink(os.Stdout), nil
	})

	cli := terminal.NewCLI(terminal.Options{
		Config: cfg,
		Sinks:  sinks,
		Output: os.Stdout,
	})

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
