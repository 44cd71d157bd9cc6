package billing

import (
	"sort"

	"github.com/de-tools/egress-meter/pkg/models/domain"
)

type groupKey struct {
	fileKey   string
	workspace string
	tier      domain.Tier
}

// Accumulator folds parsed log records into usage groups keyed by
// (file, workspace, tier). Its lifetime is exactly one log file's
// processing; groups never span two files.
type Accumulator struct {
	groups map[groupKey]*domain.UsageGroup
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		groups: make(map[groupKey]*domain.UsageGroup),
	}
}

func (a *Accumulator) Add(rec *domain.LogRecord) {
	key := groupKey{
		fileKey:   rec.FileKey,
		workspace: rec.Workspace,
		tier:      rec.Tier,
	}

	g, ok := a.groups[key]
	if !ok {
		g = &domain.UsageGroup{
			FileKey:   rec.FileKey,
			Workspace: rec.Workspace,
			Tier:      rec.Tier,
			Earliest:  rec.Timestamp,
			Latest:    rec.Timestamp,
		}
		a.groups[key] = g
	}

	g.Bytes += rec.Bytes
	if rec.Timestamp.Before(g.Earliest) {
		g.Earliest = rec.Timestamp
	}
	if rec.Timestamp.After(g.Latest) {
		g.Latest = rec.Timestamp
	}
}

func (a *Accumulator) Len() int {
	return len(a.groups)
}

// Groups returns the accumulated usage groups sorted by file,
// workspace and tier so downstream emission order is stable.
func (a *Accumulator) Groups() []domain.UsageGroup {
	out := make([]domain.UsageGroup, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FileKey != out[j].FileKey {
			return out[i].FileKey < out[j].FileKey
		}
		if out[i].Workspace != out[j].Workspace {
			return out[i].Workspace < out[j].Workspace
		}
		return out[i].Tier < out[j].Tier
	})
	return out
}
