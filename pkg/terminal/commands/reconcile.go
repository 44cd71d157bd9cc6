package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/de-tools/egress-meter/pkg/runtime/terminal/export"
	"github.com/de-tools/egress-meter/pkg/services/config"
	"github.com/de-tools/egress-meter/pkg/services/publisher"
	"github.com/de-tools/egress-meter/pkg/services/reconcile"
	"github.com/de-tools/egress-meter/pkg/services/scanner"
	"github.com/spf13/cobra"
)

const dayLayout = "2006-01-02"

type ReconcileCmd struct {
	start    string
	end      string
	cfg      *config.Config
	reporter *export.Reporter
}

func NewReconcileCmd(cfg *config.Config, reporter *export.Reporter) *cobra.Command {
	rc := &ReconcileCmd{cfg: cfg, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare scanned egress with the provider's billed CDN data transfer",
		RunE:  rc.run,
	}

	cmd.Flags().StringVar(&rc.start, "start", "", "Period start (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&rc.end, "end", "", "Period end (YYYY-MM-DD, exclusive)")

	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func (rc *ReconcileCmd) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	start, err := time.Parse(dayLayout, rc.start)
	if err != nil {
		return fmt.Errorf("invalid --start date %q. Expected format: YYYY-MM-DD", rc.start)
	}
	end, err := time.Parse(dayLayout, rc.end)
	if err != nil {
		return fmt.Errorf("invalid --end date %q. Expected format: YYYY-MM-DD", rc.end)
	}
	if !end.After(start) {
		return fmt.Errorf("--end must be after --start")
	}

	awsCfg, err := config.LoadAWS(ctx, rc.cfg)
	if err != nil {
		return err
	}

	logs := buildLogStore(awsCfg, rc.cfg)
	agg := scanner.New(logs, parserFactory(rc.cfg), publisher.NewWriterSink(io.Discard), scanner.Settings{})
	ctrl := reconcile.NewController(costexplorer.NewFromConfig(*awsCfg), logs, agg)

	report, err := ctrl.Reconcile(ctx, domain.TimePeriod{
		Start:    start,
		End:      end,
		Duration: int(end.Sub(start).Hours() / 24),
	})
	if err != nil {
		return err
	}

	return rc.reporter.Handle(report)
}
