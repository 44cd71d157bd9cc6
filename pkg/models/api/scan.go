package api

type ScanState struct {
	StatePath      string   `json:"state_path"`
	Watermark      string   `json:"watermark,omitempty"`
	ProcessedCount int      `json:"processed_count"`
	RecentKeys     []string `json:"recent_keys,omitempty"`
}

type Classification struct {
	IP  string `json:"ip"`
	SKU string `json:"sku"`
}

type Health struct {
	Status string `json:"status"`
}
