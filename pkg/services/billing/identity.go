package billing

import (
	"fmt"

	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/google/uuid"
)

// GroupKey forms the composite aggregation key shared by individual
// records and their usage group. It is the sole input to the event
// identity, so the same (file, workspace, tier) always bills under the
// same identifier no matter how often the file is reprocessed.
func GroupKey(fileKey, workspace string, tier domain.Tier) string {
	return fmt.Sprintf("%s-%s-%s", fileKey, workspace, tier.SKU())
}

// EventID derives the stable billing event identifier as a name-based
// (version 5) UUID of the group key. Downstream consumers deduplicate
// on it, which is what makes at-least-once file retries safe.
func EventID(fileKey, workspace string, tier domain.Tier) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(GroupKey(fileKey, workspace, tier))).String()
}
