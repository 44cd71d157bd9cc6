package domain

import "time"

// RunReport summarises one pipeline run. Counts follow the file lifecycle:
// found = keys returned by the listing, new = found minus already processed,
// processed = committed this run, skipped = withheld for retry next run.
type RunReport struct {
	StartedAt       time.Time
	Duration        time.Duration
	FilesFound      int
	FilesNew        int
	FilesProcessed  int
	FilesSkipped    int
	EventsPublished int
	LinesRead       int64
	LinesParsed     int64
	LinesRejected   int64
	DryRun          bool
}

// ScanState is a read-only view of the persisted ingestion progress.
type ScanState struct {
	StatePath      string
	Watermark      string
	ProcessedCount int
	RecentKeys     []string
}
