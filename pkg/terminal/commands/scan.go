package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/de-tools/egress-meter/pkg/runtime/terminal/export"
	"github.com/de-tools/egress-meter/pkg/services/config"
	"github.com/de-tools/egress-meter/pkg/services/publisher"
	"github.com/de-tools/egress-meter/pkg/services/scanner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type ScanCmd struct {
	dryRun   bool
	every    time.Duration
	cfg      *config.Config
	sinks    publisher.Registry
	reporter *export.RunReporter
}

func NewScanCmd(cfg *config.Config, sinks publisher.Registry, reporter *export.RunReporter) *cobra.Command {
	sc := &ScanCmd{cfg: cfg, sinks: sinks, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan CDN access logs and publish billing events",
		RunE:  sc.run,
	}

	cmd.Flags().BoolVar(&sc.dryRun, "dry-run", false,
		"Aggregate and print would-be events without publishing or committing state")
	cmd.Flags().DurationVar(&sc.every, "every", 0,
		"Re-run the scan on this interval until interrupted (runs once when unset)")

	return cmd
}

func (sc *ScanCmd) run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := config.LoadAWS(ctx, sc.cfg)
	if err != nil {
		return err
	}

	// A dry run prints the events it would have published.
	var sink publisher.Sink
	if sc.dryRun {
		sink = publisher.NewWriterSink(cmd.OutOrStdout())
	} else {
		sink, err = sc.sinks.Create(ctx, sc.cfg.EventSink)
		if err != nil {
			return err
		}
	}
	defer func() {
		if err := sink.Close(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to close event sink")
		}
	}()

	pipeline := scanner.New(buildLogStore(awsCfg, sc.cfg), parserFactory(sc.cfg), sink, scanner.Settings{
		StatePath: sc.cfg.StateFile,
		DryRun:    sc.dryRun,
	})

	if sc.every <= 0 {
		report, err := pipeline.Run(ctx)
		if err != nil {
			return err
		}
		return sc.reporter.Handle(report)
	}

	ticker := time.NewTicker(sc.every)
	defer ticker.Stop()

	for {
		report, err := pipeline.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := sc.reporter.Handle(report); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("scan loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}
