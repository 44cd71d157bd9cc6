package commands

import (
	"fmt"
	"net/netip"

	"github.com/de-tools/egress-meter/pkg/services/config"
	"github.com/spf13/cobra"
)

type ClassifyCmd struct {
	cfg *config.Config
}

func NewClassifyCmd(cfg *config.Config) *cobra.Command {
	cc := &ClassifyCmd{cfg: cfg}
	cmd := &cobra.Command{
		Use:   "classify <ip> [<ip>...]",
		Short: "Resolve the egress SKU for one or more client addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE:  cc.run,
	}

	return cmd
}

func (cc *ClassifyCmd) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Addresses are validated before the range document is fetched, so
	// a typo fails fast.
	addrs := make([]netip.Addr, 0, len(args))
	for _, raw := range args {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", raw, err)
		}
		addrs = append(addrs, addr)
	}

	cls, err := buildClassifier(ctx, cc.cfg)
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", addr, cls.Classify(addr).SKU())
	}

	return nil
}
