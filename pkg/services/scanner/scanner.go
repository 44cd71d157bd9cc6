package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/de-tools/egress-meter/pkg/services/accesslog"
	"github.com/de-tools/egress-meter/pkg/services/billing"
	"github.com/de-tools/egress-meter/pkg/services/publisher"
	"github.com/de-tools/egress-meter/pkg/store/accesslogs"
	"github.com/de-tools/egress-meter/pkg/store/scanstate"
	"github.com/rs/zerolog"
)

// Settings carries the per-run pipeline knobs.
type Settings struct {
	StatePath string
	// DryRun aggregates and emits to the configured sink but never
	// commits scan state, so the same files are picked up again.
	DryRun bool
}

// Pipeline runs one full scan: list candidate log files, skip the ones
// already processed, and for each remaining file download, aggregate,
// emit billing events and commit progress.
type Pipeline interface {
	Run(ctx context.Context) (*domain.RunReport, error)

	// Aggregate downloads and aggregates the given files without
	// emitting events or touching scan state. Unreadable and empty
	// files are skipped with a warning.
	Aggregate(ctx context.Context, keys []string) ([]domain.UsageGroup, error)
}

// ParserFactory builds the log parser for a single run. The pipeline
// calls it at the start of every Run and Aggregate, so a long-lived
// schedule classifies each run against current provider ranges.
type ParserFactory func(ctx context.Context) (accesslog.Parser, error)

type pipeline struct {
	logs      accesslogs.Store
	newParser ParserFactory
	sink      publisher.Sink
	settings  Settings
}

func New(logs accesslogs.Store, newParser ParserFactory, sink publisher.Sink, settings Settings) Pipeline {
	return &pipeline{
		logs:      logs,
		newParser: newParser,
		sink:      sink,
		settings:  settings,
	}
}

func (p *pipeline) Run(ctx context.Context) (*domain.RunReport, error) {
	logger := zerolog.Ctx(ctx)

	report := &domain.RunReport{
		StartedAt: time.Now().UTC(),
		DryRun:    p.settings.DryRun,
	}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
	}()

	parser, err := p.newParser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build log parser: %w", err)
	}

	// The state lock spans the whole read-modify-write cycle, so two
	// overlapping scheduler runs cannot both see a file as new.
	state, err := scanstate.Open(ctx, p.settings.StatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open scan state: %w", err)
	}
	defer func() {
		if err := state.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to release scan state lock")
		}
	}()

	keys, err := p.logs.List(ctx, state.StartAfter())
	if err != nil {
		return report, err
	}
	report.FilesFound = len(keys)

	// StartAfter is an optimization; the processed set stays
	// authoritative for what is actually new.
	var candidates []string
	for _, key := range keys {
		if !state.IsProcessed(key) {
			candidates = append(candidates, key)
		}
	}
	report.FilesNew = len(candidates)

	logger.Info().
		Int("files_found", report.FilesFound).
		Int("files_new", report.FilesNew).
		Bool("dry_run", report.DryRun).
		Msg("scan candidates identified")

	for _, key := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := p.processFile(ctx, parser, key, report); err != nil {
			report.FilesSkipped++
			logger.Warn().
				Err(err).
				Str("key", key).
				Msg("failed to process log file, leaving it for the next run")
			continue
		}

		if !p.settings.DryRun {
			if err := state.MarkProcessed(key); err != nil {
				return report, fmt.Errorf("failed to commit scan state for %s: %w", key, err)
			}
		}
		report.FilesProcessed++
	}

	logger.Info().
		Int("files_processed", report.FilesProcessed).
		Int("files_skipped", report.FilesSkipped).
		Int("events_published", report.EventsPublished).
		Int64("lines_read", report.LinesRead).
		Int64("lines_rejected", report.LinesRejected).
		Msg("scan complete")
	return report, nil
}

func (p *pipeline) Aggregate(ctx context.Context, keys []string) ([]domain.UsageGroup, error) {
	logger := zerolog.Ctx(ctx)

	parser, err := p.newParser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build log parser: %w", err)
	}

	report := &domain.RunReport{}
	var groups []domain.UsageGroup
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fileGroups, err := p.aggregateFile(ctx, parser, key, report)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("key", key).
				Msg("skipping unreadable log file")
			continue
		}
		groups = append(groups, fileGroups...)
	}

	logger.Debug().
		Int("files", len(keys)).
		Int("groups", len(groups)).
		Int64("lines_read", report.LinesRead).
		Int64("lines_rejected", report.LinesRejected).
		Msg("aggregation pass complete")
	return groups, nil
}

// processFile downloads, aggregates and emits one log file. Any error
// leaves the file unmarked so the next run retries it; re-emission is
// safe because event identifiers are deterministic.
func (p *pipeline) processFile(ctx context.Context, parser accesslog.Parser, key string, report *domain.RunReport) error {
	groups, err := p.aggregateFile(ctx, parser, key, report)
	if err != nil {
		return err
	}

	// A file with no billable lines still counts as processed; only
	// emission failures withhold the commit.
	for _, group := range groups {
		event := billing.NewEvent(group)
		if err := p.sink.Publish(ctx, event); err != nil {
			return fmt.Errorf("failed to publish billing event for group %s: %w",
				billing.GroupKey(group.FileKey, group.Workspace, group.Tier), err)
		}
		report.EventsPublished++
	}
	return nil
}

// aggregateFile turns one log file into its usage groups. Groups never
// span files, so callers may concatenate results across keys.
func (p *pipeline) aggregateFile(ctx context.Context, parser accesslog.Parser, key string, report *domain.RunReport) ([]domain.UsageGroup, error) {
	logger := zerolog.Ctx(ctx)

	lines, err := p.logs.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty content for %s", key)
	}

	acc := billing.NewAccumulator()
	for i, line := range lines {
		report.LinesRead++
		rec, err := parser.ParseLine(key, line)
		if err != nil {
			report.LinesRejected++
			logger.Debug().
				Err(err).
				Str("key", key).
				Int("line", i+1).
				Str("excerpt", excerpt(line)).
				Msg("dropping malformed log line")
			continue
		}
		if rec == nil {
			continue
		}
		report.LinesParsed++
		acc.Add(rec)
	}

	logger.Debug().
		Str("key", key).
		Int("groups", acc.Len()).
		Msg("log file aggregated")
	return acc.Groups(), nil
}

func excerpt(line string) string {
	const max = 120
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}
