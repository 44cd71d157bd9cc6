package domain

// RangeDocument is the consumed shape of the provider-published IP range
// listing. Only prefixes whose service tag marks the provider's own network
// participate in egress classification.
type RangeDocument struct {
	SyncToken  string        `json:"syncToken"`
	CreateDate string        `json:"createDate"`
	Prefixes   []RangePrefix `json:"prefixes"`
}

// RangePrefix is one entry of the range listing. An entry may carry an IPv4
// prefix, an IPv6 prefix, or both.
type RangePrefix struct {
	IPPrefix   string `json:"ip_prefix"`
	IPv6Prefix string `json:"ipv6_prefix"`
	Region     string `json:"region"`
	Service    string `json:"service"`
}
