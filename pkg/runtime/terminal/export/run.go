package export

import (
	"fmt"
	"io"
	"os"
	"text/template"

	"github.com/de-tools/egress-meter/pkg/models/domain"
)

// RunReporter renders scan run summaries as formatted text.
type RunReporter struct {
	writer io.Writer
}

func NewRunReporter(writer io.Writer) *RunReporter {
	if writer == nil {
		writer = os.Stdout
	}
	return &RunReporter{writer: writer}
}

func (c *RunReporter) Handle(report *domain.RunReport) error {
	tmpl := `
Scan {{if .DryRun}}(dry run) {{end}}started {{.StartedAt.Format "2006-01-02 15:04:05 MST"}}, took {{.Duration}}
Files:  {{.FilesFound}} found, {{.FilesNew}} new, {{.FilesProcessed}} processed, {{.FilesSkipped}} skipped
Lines:  {{.LinesRead}} read, {{.LinesParsed}} parsed, {{.LinesRejected}} rejected
Events: {{.EventsPublished}} published
`
	t, err := template.New("run").Parse(tmpl)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	return t.Execute(c.writer, report)
}
