package audit

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"
)

// OperationType classifies what kind of action produced a weight change.
type OperationType string

const (
	// OpManual is a single-key edit by an operator.
	OpManual OperationType = "Manual"
	// OpIntelligent is the application of reviewed optimizer recommendations.
	OpIntelligent OperationType = "Intelligent"
	// OpBatch is an atomic multi-key edit, including presets and weight tools.
	OpBatch OperationType = "Batch"
	// OpRollback is a restore to a previously captured snapshot.
	OpRollback OperationType = "Rollback"
	// OpAutomatic is a change made without an operator in the loop.
	OpAutomatic OperationType = "Automatic"
)

// OperationTypes lists every operation type in display order.
var OperationTypes = []OperationType{OpManual, OpIntelligent, OpBatch, OpRollback, OpAutomatic}

// ParseOperationType returns the operation type named s.
func ParseOperationType(s string) (OperationType, error) {
	for _, op := range OperationTypes {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation type %q", s)
}

// Source identifies the channel through which a change entered the system.
type Source string

const (
	SourceWebUI      Source = "WebUI"
	SourceAPI        Source = "API"
	SourceConfigFile Source = "ConfigFile"
	SourceOptimizer  Source = "Optimizer"
	SourceMonitor    Source = "Monitor"
)

// Sources lists every source in display order.
var Sources = []Source{SourceWebUI, SourceAPI, SourceConfigFile, SourceOptimizer, SourceMonitor}

// ParseSource returns the source named s.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Record describes one change to one key. Records are immutable once
// appended; storage backends hand out copies.
type Record struct {
	ID            int64             `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Operator      string            `json:"operator"`
	OperationType OperationType     `json:"operation_type"`
	TargetKeyID   string            `json:"target_key_id"`
	OldWeight     int               `json:"old_weight"`
	NewWeight     int               `json:"new_weight"`
	Reason        string            `json:"reason"`
	Source        Source            `json:"source"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	if r.Metadata != nil {
		c.Metadata = maps.Clone(r.Metadata)
	}
	return &c
}

// Delta returns the signed weight change.
func (r *Record) Delta() int {
	return r.NewWeight - r.OldWeight
}

// Query defines filter parameters for audit records. Zero values match
// everything. Results are always ordered newest first.
type Query struct {
	KeyID         string        `json:"key_id,omitempty"`
	OperationType OperationType `json:"operation_type,omitempty"`
	Source        Source        `json:"source,omitempty"`

	// Operator matches records whose operator contains this substring.
	Operator string `json:"operator,omitempty"`

	StartTime *time.Time `json:"start_time,omitempty"` // inclusive
	EndTime   *time.Time `json:"end_time,omitempty"`   // inclusive

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Matches reports whether r satisfies the query filters, ignoring pagination.
func (q *Query) Matches(r *Record) bool {
	if q == nil {
		return true
	}
	if q.KeyID != "" && r.TargetKeyID != q.KeyID {
		return false
	}
	if q.OperationType != "" && r.OperationType != q.OperationType {
		return false
	}
	if q.Source != "" && r.Source != q.Source {
		return false
	}
	if q.Operator != "" && !containsFold(r.Operator, q.Operator) {
		return false
	}
	if q.StartTime != nil && r.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.Timestamp.After(*q.EndTime) {
		return false
	}
	return true
}

// Storage is implemented by audit backends. Backends expose no update or
// delete operation.
type Storage interface {
	// Append assigns monotonic ids to records and persists them as one unit:
	// either every record is stored or none is.
	Append(ctx context.Context, records []*Record) error

	// Query returns matching records ordered by timestamp then id, newest first.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// Count returns the number of matching records, ignoring pagination.
	Count(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Exporter writes audit records in a particular format.
type Exporter interface {
	Export(ctx context.Context, records []*Record, w io.Writer) error

	// ContentType is the MIME type of the exported document.
	ContentType() string

	// Extension is the file extension, without the dot.
	Extension() string
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
