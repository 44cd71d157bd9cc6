package scanner

import (
	"context"
	"fmt"
	"net/netip"
	"path/filepath"
	"sort"
	"testing"

	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/de-tools/egress-meter/pkg/services/accesslog"
	"github.com/de-tools/egress-meter/pkg/services/publisher"
	"github.com/de-tools/egress-meter/pkg/store/scanstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogs struct {
	keys     []string
	files    map[string][]string
	listErr  error
	fetchErr map[string]error
}

func (f *fakeLogs) List(_ context.Context, startAfter string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []string
	for _, key := range f.keys {
		if key > startAfter {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeLogs) Fetch(_ context.Context, key string) ([]string, error) {
	if err := f.fetchErr[key]; err != nil {
		return nil, err
	}
	return f.files[key], nil
}

type fakeClassifier struct {
	tiers map[string]domain.Tier
}

func (f fakeClassifier) Classify(addr netip.Addr) domain.Tier {
	if tier, ok := f.tiers[addr.String()]; ok {
		return tier
	}
	return domain.TierPublicInternet
}

type captureSink struct {
	events  []domain.BillingEvent
	failIdx int
}

func newCaptureSink() *captureSink {
	return &captureSink{failIdx: -1}
}

func (s *captureSink) Publish(_ context.Context, event domain.BillingEvent) error {
	if s.failIdx >= 0 && len(s.events) == s.failIdx {
		return fmt.Errorf("broker unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) Close() error { return nil }

func uriLine(date, tm, size, ip, path string) string {
	return fmt.Sprintf(
		"1744033128 EYK26O46YS1D0 %s %s LHR3-C2 %s %s GET dsakofwkmfc6v.cloudfront.net %s 200",
		date, tm, size, ip, path,
	)
}

type fixture struct {
	logs      *fakeLogs
	sink      *captureSink
	statePath string
	pipeline  Pipeline
}

func setupFixture(t *testing.T, logs *fakeLogs, settings Settings) *fixture {
	if settings.StatePath == "" {
		settings.StatePath = filepath.Join(t.TempDir(), "processed_logs.json")
	}

	parser, err := accesslog.NewParser(accesslog.FormatURIPath, "", fakeClassifier{
		tiers: map[string]domain.Tier{"10.1.2.3": domain.TierSameRegion},
	})
	require.NoError(t, err)
	factory := func(context.Context) (accesslog.Parser, error) { return parser, nil }

	sink := newCaptureSink()
	return &fixture{
		logs:      logs,
		sink:      sink,
		statePath: settings.StatePath,
		pipeline:  New(logs, factory, sink, settings),
	}
}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("success - aggregates and commits", func(t *testing.T) {
		logs := &fakeLogs{
			keys: []string{"logs/E123.2025-04-07-13.a.gz"},
			files: map[string][]string{
				"logs/E123.2025-04-07-13.a.gz": {
					"#Version: 1.0",
					uriLine("2025-04-07", "13:38:48", "398", "10.1.2.3", "/notebooks/user/workspace1/api/sessions"),
					uriLine("2025-04-07", "13:39:00", "200", "10.1.2.3", "/notebooks/user/workspace1/api/sessions"),
				},
			},
		}
		f := setupFixture(t, logs, Settings{})

		report, err := f.pipeline.Run(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, report.FilesFound)
		assert.Equal(t, 1, report.FilesNew)
		assert.Equal(t, 1, report.FilesProcessed)
		assert.Equal(t, 0, report.FilesSkipped)
		assert.Equal(t, int64(3), report.LinesRead)
		assert.Equal(t, int64(2), report.LinesParsed)
		assert.Equal(t, int64(0), report.LinesRejected)
		assert.Equal(t, 1, report.EventsPublished)

		require.Len(t, f.sink.events, 1)
		ev := f.sink.events[0]
		assert.Equal(t, "workspace1", ev.Workspace)
		assert.Equal(t, "EGRESS-REGION", ev.SKU)
		assert.Equal(t, 598.0, ev.Quantity)
		assert.Equal(t, "2025-04-07T13:38:48Z", ev.EventStart)
		assert.Equal(t, "2025-04-07T13:39:00Z", ev.EventEnd)

		view, err := scanstate.Peek(f.statePath)
		require.NoError(t, err)
		assert.Equal(t, 1, view.ProcessedCount)
		assert.Equal(t, "logs/E123.2025-04-07-13.a.gz", view.Watermark)
	})

	t.Run("success - processed files are not repeated", func(t *testing.T) {
		logs := &fakeLogs{
			keys: []string{"logs/a.gz", "logs/b.gz"},
			files: map[string][]string{
				"logs/a.gz": {uriLine("2025-04-07", "13:38:48", "100", "10.1.2.3", "/notebooks/user/ws1/x")},
				"logs/b.gz": {uriLine("2025-04-07", "14:38:48", "100", "10.1.2.3", "/notebooks/user/ws1/x")},
			},
		}
		f := setupFixture(t, logs, Settings{})

		report, err := f.pipeline.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.FilesProcessed)
		require.Len(t, f.sink.events, 2)

		report, err = f.pipeline.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.FilesNew)
		assert.Equal(t, 0, report.FilesProcessed)
		assert.Len(t, f.sink.events, 2)
	})

	t.Run("success - malformed lines dropped, file still committed", func(t *testing.T) {
		logs := &fakeLogs{
			keys: []string{"logs/a.gz"},
			files: map[string][]string{
				"logs/a.gz": {
					uriLine("2025-04-07", "13:38:48", "not-a-number", "10.1.2.3", "/notebooks/user/ws1/x"),
					uriLine("2025-04-07", "13:38:49", "100", "10.1.2.3", "/notebooks/user/ws1/x"),
				},
			},
		}
		f := setupFixture(t, logs, Settings{})

		report, err := f.pipeline.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.FilesProcessed)
		assert.Equal(t, int64(1), report.LinesRejected)
		assert.Equal(t, int64(1), report.LinesParsed)
		require.Len(t, f.sink.events, 1)
		assert.Equal(t, 100.0, f.sink.events[0].Quantity)
	})

	t.Run("success - comment only file counts as processed", func(t *testing.T) {
		logs := &fakeLogs{
			keys:  []string{"logs/a.gz"},
			files: map[string][]string{"logs/a.gz": {"#Version: 1.0", "#Fields: ..."}},
		}
		f := setupFixture(t, logs, Settings{})

		report, err := f.pipeline.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.FilesProcessed)
		assert.Empty(t, f.sink.events)

		view, err := scanstate.Peek(f.statePath)
		require.NoError(t, err)
		assert.Equal(t, 1, view.ProcessedCount)
	})

	t.Run("skip - download failure leaves file for next run", func(t *testing.T) {
		logs := &fakeLogs{
			keys:     []string{"logs/a.gz", "logs/b.gz"},
			files:    map[string][]string{"logs/b.gz": {uriLine("2025-04-07", "13:38:48", "100", "10.1.2.3", "/notebooks/user/ws1/x")}},
			fetchErr: map[string]error{"logs/a.gz": fmt.Errorf("connection reset")},
		}
		f := setupFixture(t, logs, Settings{})

		report, err := f.pipeline.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.FilesSkipped)
		assert.Equal(t, 1, report.FilesProcessed)

		view, err := scanstate.Peek(f.statePath)
		require.NoError(t, err)
		assert.Equal(t, []string{"logs/b.gz"}, view.RecentKeys)
	})

	t.Run("skip - empty content treated as transient", func(t *testing.T) {
		logs := &fakeLogs{
			keys:  []string{"logs/a.gz"},
			files: map[string][]string{"logs/a.gz": {}},
		}
		f := setupFixture(t, logs, Settings{})

		report, err := f.pipeline.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.FilesSkipped)
		assert.Equal(t, 0, report.FilesProcessed)

		view, err := scanstate.Peek(f.statePath)
		require.NoError(t, err)
		assert.Equal(t, 0, view.ProcessedCount)
	})

	t.Run("error - listing failure aborts the run", func(t *testing.T) {
		f := setupFixture(t, &fakeLogs{listErr: fmt.Errorf("AccessDenied")}, Settings{})

		_, err := f.pipeline.Run(ctx)
		assert.Error(t, err)
	})
}

func TestPipeline_EmitFailureWithholdsCommitAndRetryMatches(t *testing.T) {
	ctx := context.Background()
	key := "logs/E123.2025-04-07-13.a.gz"
	logs := &fakeLogs{
		keys: []string{key},
		files: map[string][]string{
			key: {
				uriLine("2025-04-07", "13:38:48", "100", "10.1.2.3", "/notebooks/user/ws1/x"),
				uriLine("2025-04-07", "13:38:49", "200", "8.8.8.8", "/notebooks/user/ws2/x"),
			},
		},
	}
	f := setupFixture(t, logs, Settings{})

	// First run: the second of the two groups fails to publish.
	f.sink.failIdx = 1
	report, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesSkipped)
	assert.Equal(t, 0, report.FilesProcessed)
	require.Len(t, f.sink.events, 1)
	firstAttemptID := f.sink.events[0].ID

	view, err := scanstate.Peek(f.statePath)
	require.NoError(t, err)
	assert.Equal(t, 0, view.ProcessedCount)

	// Second run with the sink healthy: both groups re-emitted with
	// identifiers identical to the first attempt.
	f.sink.failIdx = -1
	f.sink.events = nil
	report, err = f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesProcessed)
	require.Len(t, f.sink.events, 2)
	assert.Equal(t, firstAttemptID, f.sink.events[0].ID)

	view, err = scanstate.Peek(f.statePath)
	require.NoError(t, err)
	assert.Equal(t, 1, view.ProcessedCount)
}

func TestPipeline_RunIsDeterministic(t *testing.T) {
	ctx := context.Background()
	key := "logs/E123.2025-04-07-13.a.gz"
	buildLogs := func() *fakeLogs {
		return &fakeLogs{
			keys: []string{key},
			files: map[string][]string{
				key: {
					uriLine("2025-04-07", "13:38:48", "100", "10.1.2.3", "/notebooks/user/ws1/x"),
					uriLine("2025-04-07", "13:38:49", "200", "8.8.8.8", "/notebooks/user/ws2/x"),
					uriLine("2025-04-07", "13:38:50", "300", "10.1.2.3", "/notebooks/user/ws1/x"),
				},
			},
		}
	}

	run := func() []domain.BillingEvent {
		f := setupFixture(t, buildLogs(), Settings{})
		_, err := f.pipeline.Run(ctx)
		require.NoError(t, err)
		return f.sink.events
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}

func TestPipeline_RunRefreshesRangeTable(t *testing.T) {
	ctx := context.Background()
	logs := &fakeLogs{
		keys:  []string{"logs/a.gz"},
		files: map[string][]string{"logs/a.gz": {uriLine("2025-04-07", "13:38:48", "100", "10.1.2.3", "/notebooks/user/ws1/x")}},
	}

	// A provider range update lands between two runs of one long-lived
	// pipeline; the second run classifies against the updated table.
	builds := 0
	tier := domain.TierPublicInternet
	factory := func(context.Context) (accesslog.Parser, error) {
		builds++
		parser, err := accesslog.NewParser(accesslog.FormatURIPath, "", fakeClassifier{
			tiers: map[string]domain.Tier{"10.1.2.3": tier},
		})
		tier = domain.TierSameRegion
		return parser, err
	}

	sink := newCaptureSink()
	statePath := filepath.Join(t.TempDir(), "processed_logs.json")
	pipeline := New(logs, factory, sink, Settings{StatePath: statePath})

	_, err := pipeline.Run(ctx)
	require.NoError(t, err)

	logs.keys = append(logs.keys, "logs/b.gz")
	logs.files["logs/b.gz"] = []string{uriLine("2025-04-07", "14:38:48", "100", "10.1.2.3", "/notebooks/user/ws1/x")}

	_, err = pipeline.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, builds)
	require.Len(t, sink.events, 2)
	assert.Equal(t, "EGRESS-INTERNET", sink.events[0].SKU)
	assert.Equal(t, "EGRESS-REGION", sink.events[1].SKU)
}

func TestPipeline_Aggregate(t *testing.T) {
	ctx := context.Background()
	logs := &fakeLogs{
		keys: []string{"logs/a.gz", "logs/b.gz", "logs/broken.gz"},
		files: map[string][]string{
			"logs/a.gz": {
				uriLine("2025-04-07", "13:38:48", "398", "10.1.2.3", "/notebooks/user/ws1/x"),
				uriLine("2025-04-07", "13:39:00", "200", "10.1.2.3", "/notebooks/user/ws1/x"),
			},
			"logs/b.gz": {uriLine("2025-04-08", "09:00:00", "700", "8.8.8.8", "/notebooks/user/ws2/x")},
		},
		fetchErr: map[string]error{"logs/broken.gz": fmt.Errorf("connection reset")},
	}
	f := setupFixture(t, logs, Settings{})

	groups, err := f.pipeline.Aggregate(ctx, []string{"logs/a.gz", "logs/b.gz", "logs/broken.gz"})
	require.NoError(t, err)

	// The unreadable file is skipped, the rest aggregate as usual.
	require.Len(t, groups, 2)
	assert.Equal(t, "logs/a.gz", groups[0].FileKey)
	assert.Equal(t, "ws1", groups[0].Workspace)
	assert.Equal(t, domain.TierSameRegion, groups[0].Tier)
	assert.Equal(t, int64(598), groups[0].Bytes)
	assert.Equal(t, "logs/b.gz", groups[1].FileKey)
	assert.Equal(t, domain.TierPublicInternet, groups[1].Tier)

	// Nothing is published and no state is written.
	assert.Empty(t, f.sink.events)
	view, err := scanstate.Peek(f.statePath)
	require.NoError(t, err)
	assert.Equal(t, 0, view.ProcessedCount)
}

func TestPipeline_DryRunDoesNotCommit(t *testing.T) {
	ctx := context.Background()
	logs := &fakeLogs{
		keys:  []string{"logs/a.gz"},
		files: map[string][]string{"logs/a.gz": {uriLine("2025-04-07", "13:38:48", "100", "10.1.2.3", "/notebooks/user/ws1/x")}},
	}
	f := setupFixture(t, logs, Settings{DryRun: true})

	report, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.FilesProcessed)
	require.Len(t, f.sink.events, 1)

	view, err := scanstate.Peek(f.statePath)
	require.NoError(t, err)
	assert.Equal(t, 0, view.ProcessedCount)

	// A second dry run sees the same file as new again.
	report, err = f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesNew)
}

var _ publisher.Sink = (*captureSink)(nil)
