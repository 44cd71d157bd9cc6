package classifier

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/rs/zerolog"
	"go4.org/netipx"
)

// awsService marks range entries that belong to the provider's own
// infrastructure. Entries for sub-services (CLOUDFRONT, S3, ...) are
// duplicated under this umbrella tag, so filtering on it keeps the
// table complete without double counting.
const awsService = "AMAZON"

// Classifier assigns an egress pricing tier to a client address.
type Classifier interface {
	Classify(addr netip.Addr) domain.Tier
}

type ipRangeClassifier struct {
	sameRegion  *netipx.IPSet
	crossRegion *netipx.IPSet
}

// New partitions the provider range document into same-region and
// cross-region match sets for the given region. Malformed prefixes are
// skipped with a warning so a single bad entry cannot take the scanner
// down.
func New(ctx context.Context, doc *domain.RangeDocument, region string) (Classifier, error) {
	logger := zerolog.Ctx(ctx)

	var same, cross netipx.IPSetBuilder
	var sameCount, crossCount, skipped int

	for _, entry := range doc.Prefixes {
		if entry.Service != awsService {
			continue
		}
		for _, raw := range []string{entry.IPPrefix, entry.IPv6Prefix} {
			if raw == "" {
				continue
			}
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				skipped++
				logger.Warn().
					Err(err).
					Str("prefix", raw).
					Str("region", entry.Region).
					Msg("skipping malformed address prefix")
				continue
			}
			if entry.Region == region {
				same.AddPrefix(prefix)
				sameCount++
			} else {
				cross.AddPrefix(prefix)
				crossCount++
			}
		}
	}

	sameSet, err := same.IPSet()
	if err != nil {
		return nil, fmt.Errorf("failed to build same-region match set: %w", err)
	}
	crossSet, err := cross.IPSet()
	if err != nil {
		return nil, fmt.Errorf("failed to build cross-region match set: %w", err)
	}

	logger.Debug().
		Str("region", region).
		Int("same_region_prefixes", sameCount).
		Int("cross_region_prefixes", crossCount).
		Int("skipped_prefixes", skipped).
		Msg("address range classifier ready")

	return &ipRangeClassifier{
		sameRegion:  sameSet,
		crossRegion: crossSet,
	}, nil
}

// Classify tests the same-region set before the cross-region set, so an
// address present in both resolves to the cheaper same-region tier.
// Anything outside the provider's published ranges is public internet.
func (c *ipRangeClassifier) Classify(addr netip.Addr) domain.Tier {
	switch {
	case c.sameRegion.Contains(addr):
		return domain.TierSameRegion
	case c.crossRegion.Contains(addr):
		return domain.TierCrossRegion
	default:
		return domain.TierPublicInternet
	}
}
