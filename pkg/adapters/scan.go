package adapters

import (
	"net/netip"

	"github.com/de-tools/egress-meter/pkg/models/api"
	"github.com/de-tools/egress-meter/pkg/models/domain"
)

func MapScanStateDomainToApi(state *domain.ScanState) api.ScanState {
	return api.ScanState{
		StatePath:      state.StatePath,
		Watermark:      state.Watermark,
		ProcessedCount: state.ProcessedCount,
		RecentKeys:     append([]string(nil), state.RecentKeys...),
	}
}

func MapClassificationDomainToApi(addr netip.Addr, tier domain.Tier) api.Classification {
	return api.Classification{
		IP:  addr.String(),
		SKU: tier.SKU(),
	}
}
