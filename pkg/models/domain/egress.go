package domain

import (
	"net/netip"
	"time"
)

// Tier is the network-egress pricing category assigned to a request. The
// value doubles as the SKU published on billing events, so the strings are
// part of the wire contract and must not change between releases.
type Tier string

const (
	TierSameRegion     Tier = "EGRESS-REGION"
	TierCrossRegion    Tier = "EGRESS-INTERREGION"
	TierPublicInternet Tier = "EGRESS-INTERNET"
)

// SKU returns the billing SKU string for the tier.
func (t Tier) SKU() string { return string(t) }

// LogRecord is one parsed access-log line. Records live only long enough to
// be folded into a UsageGroup and are never persisted.
type LogRecord struct {
	FileKey   string
	ClientIP  netip.Addr
	Bytes     int64
	Timestamp time.Time
	Workspace string
	Host      string // raw host header or URI stem the workspace was derived from
	Tier      Tier
}

// UsageGroup accumulates transferred bytes for one (file, workspace, tier)
// triple together with the closed timestamp interval of its records.
type UsageGroup struct {
	FileKey   string
	Workspace string
	Tier      Tier
	Bytes     int64
	Earliest  time.Time
	Latest    time.Time
}

// EventTimeLayout is the ISO-8601 UTC second-precision format used on the
// billing event wire shape.
const EventTimeLayout = "2006-01-02T15:04:05Z"

// BillingEvent is the outbound fact published once per UsageGroup. The ID is
// derived deterministically from the group key so downstream consumers can
// de-duplicate replays.
type BillingEvent struct {
	ID         string  `json:"id"`
	EventStart string  `json:"event_start"`
	EventEnd   string  `json:"event_end"`
	SKU        string  `json:"sku"`
	Workspace  string  `json:"workspace"`
	Quantity   float64 `json:"quantity"`
}
