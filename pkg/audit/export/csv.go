package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"mercator-hq/keyweave/pkg/audit"
)

// flushEvery is how many streamed rows are buffered before a flush.
const flushEvery = 100

// Header is the CSV column order.
var Header = []string{
	"id", "timestamp", "operator", "operation_type", "target_key_id",
	"old_weight", "new_weight", "delta", "reason", "source", "metadata",
}

// CSVExporter exports audit records as CSV.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Export writes records to w, one row per record.
func (e *CSVExporter) Export(ctx context.Context, records []*audit.Record, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header); err != nil {
			return audit.NewExportError("csv", len(records), err)
		}
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(recordToRow(record)); err != nil {
			return audit.NewExportError("csv", len(records), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return audit.NewExportError("csv", len(records), err)
	}
	return nil
}

// ExportStream writes records from recordsCh until the channel is closed,
// flushing periodically.
func (e *CSVExporter) ExportStream(ctx context.Context, recordsCh <-chan *audit.Record, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(Header); err != nil {
			return audit.NewExportError("csv", 0, err)
		}
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-recordsCh:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", count, err)
				}
				return nil
			}

			if err := writer.Write(recordToRow(record)); err != nil {
				return audit.NewExportError("csv", count, err)
			}
			count++

			if count%flushEvery == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return audit.NewExportError("csv", count, err)
				}
			}
		}
	}
}

// ContentType implements audit.Exporter.
func (e *CSVExporter) ContentType() string { return "text/csv" }

// Extension implements audit.Exporter.
func (e *CSVExporter) Extension() string { return "csv" }

func recordToRow(r *audit.Record) []string {
	metadata := ""
	if len(r.Metadata) > 0 {
		// map[string]string always marshals
		data, _ := json.Marshal(r.Metadata)
		metadata = string(data)
	}

	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Operator,
		string(r.OperationType),
		r.TargetKeyID,
		strconv.Itoa(r.OldWeight),
		strconv.Itoa(r.NewWeight),
		strconv.Itoa(r.Delta()),
		r.Reason,
		string(r.Source),
		metadata,
	}
}
