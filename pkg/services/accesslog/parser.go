package accesslog

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/de-tools/egress-meter/pkg/models/domain"
	"github.com/de-tools/egress-meter/pkg/services/classifier"
)

// Format selects which access log shape the parser expects.
type Format string

const (
	// FormatHostHeader reads tab-separated CDN logs and derives the
	// workspace from the x-host-header field.
	FormatHostHeader Format = "host-header"
	// FormatURIPath reads whitespace-separated CDN logs and derives the
	// workspace from the request path.
	FormatURIPath Format = "uri-path"
)

// ParseFormat validates a configured log format value.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(raw); f {
	case FormatHostHeader, FormatURIPath:
		return f, nil
	default:
		return "", fmt.Errorf("unknown log format %q", raw)
	}
}

// Field positions in the CDN access log header.
const (
	fieldDate       = 2
	fieldTime       = 3
	fieldBytes      = 5
	fieldClientIP   = 6
	fieldHost       = 8
	fieldURIStem    = 9
	fieldHostHeader = 17
)

const defaultWorkspace = "default"

// Parser turns one raw access log line into a typed record. A nil
// record with a nil error means the line carries nothing billable
// (comment and blank lines). A non-nil error marks a malformed line;
// the caller logs it and moves on, it never aborts the file.
type Parser interface {
	ParseLine(fileKey, line string) (*domain.LogRecord, error)
}

func NewParser(format Format, workspaceDomain string, cls classifier.Classifier) (Parser, error) {
	switch format {
	case FormatHostHeader:
		if workspaceDomain == "" {
			return nil, fmt.Errorf("workspace domain is required for %q logs", FormatHostHeader)
		}
		return &hostHeaderParser{suffix: workspaceDomain, classifier: cls}, nil
	case FormatURIPath:
		return &uriPathParser{classifier: cls}, nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

type hostHeaderParser struct {
	suffix     string
	classifier classifier.Classifier
}

func (p *hostHeaderParser) ParseLine(fileKey, line string) (*domain.LogRecord, error) {
	if skippable(line) {
		return nil, nil
	}

	fields := strings.Split(line, "\t")
	if len(fields) <= fieldClientIP {
		return nil, fmt.Errorf("expected at least %d tab-separated fields, got %d", fieldClientIP+1, len(fields))
	}

	var host string
	if len(fields) > fieldHostHeader {
		host = fields[fieldHostHeader]
	}
	workspace, ok := workspaceFromHost(host, p.suffix)
	if !ok {
		return nil, fmt.Errorf("host header %q does not match workspace domain %q", host, p.suffix)
	}

	return buildRecord(p.classifier, fileKey, fields, workspace, host)
}

type uriPathParser struct {
	classifier classifier.Classifier
}

func (p *uriPathParser) ParseLine(fileKey, line string) (*domain.LogRecord, error) {
	if skippable(line) {
		return nil, nil
	}

	fields := strings.Fields(line)
	if len(fields) <= fieldURIStem {
		return nil, fmt.Errorf("expected at least %d fields, got %d", fieldURIStem+1, len(fields))
	}

	workspace := workspaceFromPath(fields[fieldURIStem])

	return buildRecord(p.classifier, fileKey, fields, workspace, fields[fieldHost])
}

func buildRecord(
	cls classifier.Classifier,
	fileKey string,
	fields []string,
	workspace, host string,
) (*domain.LogRecord, error) {
	size, err := strconv.ParseInt(fields[fieldBytes], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid byte count %q: %w", fields[fieldBytes], err)
	}

	addr, err := netip.ParseAddr(fields[fieldClientIP])
	if err != nil {
		return nil, fmt.Errorf("invalid client address %q: %w", fields[fieldClientIP], err)
	}

	// Date and time fields are already UTC; frame them without any
	// timezone conversion.
	ts, err := time.Parse(domain.EventTimeLayout, fields[fieldDate]+"T"+fields[fieldTime]+"Z")
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q %q: %w", fields[fieldDate], fields[fieldTime], err)
	}

	return &domain.LogRecord{
		FileKey:   fileKey,
		ClientIP:  addr,
		Bytes:     size,
		Timestamp: ts,
		Workspace: workspace,
		Host:      host,
		Tier:      cls.Classify(addr),
	}, nil
}

// The comment marker only counts at the start of the raw line; an
// indented marker falls through to the parse path.
func skippable(line string) bool {
	return strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#")
}

// workspaceFromHost extracts the tenant workspace from hosts of the
// form {workspace}[.{cluster}].{suffix}. Hosts outside the workspace
// domain carry no tenant.
func workspaceFromHost(host, suffix string) (string, bool) {
	rest, ok := strings.CutSuffix(host, "."+suffix)
	if !ok {
		return "", false
	}
	workspace, _, _ := strings.Cut(rest, ".")
	if workspace == "" {
		return "", false
	}
	return workspace, true
}

// workspaceFromPath reads the user segment of paths shaped like
// /notebooks/user/{workspace}/..., falling back to a shared default
// when the path is too short to carry one.
func workspaceFromPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 3 && parts[3] != "" {
		return parts[3]
	}
	return defaultWorkspace
}
