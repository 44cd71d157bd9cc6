package reconcile

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/de-tools/egress-meter/pkg/store/accesslogs"
	"github.com/rs/zerolog"
)

const (
	cdnServiceFilter = "Amazon CloudFront"
	egressUsageMark  = "DataTransfer-Out-Bytes"

	dayLayout  = "2006-01-02"
	bytesPerGB = 1 << 30
)

// keyDatePattern matches the date segment CDN log keys carry, e.g.
// E123.2025-04-07-13.abcdef.gz.
var keyDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// CostExplorerAPI is the slice of the Cost Explorer client the
// controller uses. *costexplorer.Client satisfies it.
type CostExplorerAPI interface {
	GetCostAndUsage(
		ctx context.Context,
		params *costexplorer.GetCostAndUsageInput,
		optFns ...func(*costexplorer.Options),
	) (*costexplorer.GetCostAndUsageOutput, error)
}

// Aggregator is the dry-run slice of the scan pipeline.
type Aggregator interface {
	Aggregate(ctx context.Context, keys []string) ([]domain.UsageGroup, error)
}

// Controller cross-checks the bytes the scanner attributes to
// workspaces against the egress the provider actually billed for the
// CDN distribution, day by day.
type Controller interface {
	Reconcile(ctx context.Context, period domain.TimePeriod) (*domain.Report, error)
}

type controller struct {
	ce   CostExplorerAPI
	logs accesslogs.Store
	agg  Aggregator
}

func NewController(ce CostExplorerAPI, logs accesslogs.Store, agg Aggregator) Controller {
	return &controller{
		ce:   ce,
		logs: logs,
		agg:  agg,
	}
}

func (c *controller) Reconcile(ctx context.Context, period domain.TimePeriod) (*domain.Report, error) {
	scanned, err := c.scannedByDay(ctx, period)
	if err != nil {
		return nil, err
	}

	billed, err := c.billedByDay(ctx, period)
	if err != nil {
		return nil, err
	}

	return buildReport(period, scanned, billed), nil
}

// scannedByDay re-aggregates the log files whose key date falls inside
// the period, regardless of scan state, and bins each usage group's
// bytes into the day of its earliest request.
func (c *controller) scannedByDay(ctx context.Context, period domain.TimePeriod) (map[string]float64, error) {
	logger := zerolog.Ctx(ctx)

	keys, err := c.logs.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var inPeriod []string
	var undated int
	for _, key := range keys {
		day, ok := keyDay(key)
		if !ok {
			undated++
			continue
		}
		if day.Before(truncateDay(period.Start)) || !day.Before(truncateDay(period.End)) {
			continue
		}
		inPeriod = append(inPeriod, key)
	}

	groups, err := c.agg.Aggregate(ctx, inPeriod)
	if err != nil {
		return nil, err
	}

	scanned := make(map[string]float64)
	for _, group := range groups {
		scanned[group.Earliest.UTC().Format(dayLayout)] += float64(group.Bytes)
	}

	logger.Info().
		Int("files_read", len(inPeriod)).
		Int("files_undated", undated).
		Msg("re-aggregated scanned egress")
	return scanned, nil
}

func (c *controller) billedByDay(ctx context.Context, period domain.TimePeriod) (map[string]float64, error) {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(period.Start.Format(dayLayout)),
			End:   aws.String(period.End.Format(dayLayout)),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{"UsageQuantity"},
		Filter: &types.Expression{
			And: []types.Expression{
				{
					Dimensions: &types.DimensionValues{
						Key:    types.DimensionService,
						Values: []string{cdnServiceFilter},
					},
				},
				{
					Not: &types.Expression{
						Dimensions: &types.DimensionValues{
							Key:    types.DimensionRecordType,
							Values: []string{"Credit", "Refund"},
						},
					},
				},
			},
		},
		GroupBy: []types.GroupDefinition{
			{
				Type: types.GroupDefinitionTypeDimension,
				Key:  aws.String("USAGE_TYPE"),
			},
		},
	}

	result, err := c.ce.GetCostAndUsage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get cost and usage: %w", err)
	}

	billed := make(map[string]float64)
	for _, byTime := range result.ResultsByTime {
		if byTime.TimePeriod == nil || byTime.TimePeriod.Start == nil {
			continue
		}
		day := aws.ToString(byTime.TimePeriod.Start)

		for _, group := range byTime.Groups {
			if len(group.Keys) == 0 || !strings.Contains(group.Keys[0], egressUsageMark) {
				continue
			}
			metric, ok := group.Metrics["UsageQuantity"]
			if !ok || metric.Amount == nil {
				continue
			}
			qty, err := strconv.ParseFloat(*metric.Amount, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse usage amount %q: %w", *metric.Amount, err)
			}
			// Data transfer usage is reported in GB.
			billed[day] += qty * bytesPerGB
		}
	}
	return billed, nil
}

func buildReport(period domain.TimePeriod, scanned, billed map[string]float64) *domain.Report {
	report := &domain.Report{
		Title: "CDN Egress Reconciliation",
		Period: domain.TimePeriod{
			Start:    period.Start,
			End:      period.End,
			Duration: int(period.End.Sub(period.Start).Hours() / 24),
		},
		Sections: make([]domain.ReportSection, 0),
		Unit:     "GB",
	}

	days := make(map[string]struct{})
	for day := range scanned {
		days[day] = struct{}{}
	}
	for day := range billed {
		days[day] = struct{}{}
	}

	ordered := make([]string, 0, len(days))
	for day := range days {
		ordered = append(ordered, day)
	}
	sort.Strings(ordered)

	var totalScanned, totalBilled float64
	for _, day := range ordered {
		scannedGB := scanned[day] / bytesPerGB
		billedGB := billed[day] / bytesPerGB
		deltaGB := billedGB - scannedGB

		section := domain.ReportSection{
			Title: fmt.Sprintf("Egress on %s", day),
			Summary: map[string]interface{}{
				"scanned_gb": scannedGB,
				"billed_gb":  billedGB,
				"delta_gb":   deltaGB,
			},
			Details: []domain.ReportDetail{
				{
					Name:        "scanned",
					Value:       scannedGB,
					Unit:        "GB",
					Description: "Egress attributed to workspaces by the log scanner",
				},
				{
					Name:        "billed",
					Value:       billedGB,
					Unit:        "GB",
					Description: "Egress billed by the provider for the distribution",
				},
			},
			Metadata: map[string]interface{}{"day": day},
		}
		if billedGB > 0 {
			section.Summary["delta_pct"] = 100 * deltaGB / billedGB
		}

		report.Sections = append(report.Sections, section)
		totalScanned += scannedGB
		totalBilled += billedGB
	}

	report.TotalQuantity = totalScanned
	report.Sections = append(report.Sections, domain.ReportSection{
		Title: "Period totals",
		Summary: map[string]interface{}{
			"scanned_gb": totalScanned,
			"billed_gb":  totalBilled,
			"delta_gb":   totalBilled - totalScanned,
			"days":       len(ordered),
		},
	})
	return report
}

func keyDay(key string) (time.Time, bool) {
	raw := keyDatePattern.FindString(key)
	if raw == "" {
		return time.Time{}, false
	}
	day, err := time.Parse(dayLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
