package terminal

import (
	"context"
	"io"
	"os"

	"github.com/de-tools/egress-meter/pkg/runtime/terminal/export"
	"github.com/de-tools/egress-meter/pkg/services/config"
	"github.com/de-tools/egress-meter/pkg/services/publisher"
	"github.com/de-tools/egress-meter/pkg/terminal/commands"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// CLI represents the command-line interface
type CLI struct {
	cfg     *config.Config
	sinks   publisher.Registry
	rootCmd *cobra.Command
	verbose bool
}

// Options contain configuration for the CLI
type Options struct {
	Config *config.Config
	Sinks  publisher.Registry
	Output io.Writer
}

// NewCLI creates a new CLI instance
func NewCLI(opts Options) *CLI {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	cli := &CLI{
		cfg:   opts.Config,
		sinks: opts.Sinks,
	}

	cli.rootCmd = cli.newRootCmd(opts.Output)
	return cli
}

func (cli *CLI) Execute(ctx context.Context) error {
	return cli.rootCmd.ExecuteContext(ctx)
}

func (cli *CLI) newRootCmd(output io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "egress-meter",
		Short: "CDN egress usage scanner",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if cli.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(commands.NewScanCmd(cli.cfg, cli.sinks, export.NewRunReporter(output)))
	cmd.AddCommand(commands.NewClassifyCmd(cli.cfg))
	cmd.AddCommand(commands.NewReconcileCmd(cli.cfg, export.NewReporter(output)))

	return cmd
}
