package publisher

import (
	"context"

	"github.com/de-tools/egress-meter/pkg/models/domain"
)

// Sink accepts finalized billing events. Publish returns only after
// the event is handed off; an error means the caller must treat the
// whole file as unprocessed so it is retried on the next run.
type Sink interface {
	Publish(ctx context.Context, event domain.BillingEvent) error
	Close() error
}
