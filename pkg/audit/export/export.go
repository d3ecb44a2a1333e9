package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"mercator-hq/keyweave/pkg/audit"
)

// StreamExporter is an exporter that can consume records from a channel.
type StreamExporter interface {
	audit.Exporter
	ExportStream(ctx context.Context, recordsCh <-chan *audit.Record, w io.Writer) error
}

// ForFormat returns the exporter for a format name ("json" or "csv").
func ForFormat(format string) (StreamExporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONExporter(false), nil
	case "csv":
		return NewCSVExporter(true), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
