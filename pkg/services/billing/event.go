package billing

import (
	"github.com/de-tools/egress-meter/pkg/models/domain"
)

// NewEvent finalizes one usage group into its outbound billing event.
func NewEvent(g domain.UsageGroup) domain.BillingEvent {
	return domain.BillingEvent{
		ID:         EventID(g.FileKey, g.Workspace, g.Tier),
		EventStart: g.Earliest.UTC().Format(domain.EventTimeLayout),
		EventEnd:   g.Latest.UTC().Format(domain.EventTimeLayout),
		SKU:        g.Tier.SKU(),
		Workspace:  g.Workspace,
		Quantity:   float64(g.Bytes),
	}
}
