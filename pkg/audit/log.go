package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// DefaultLimit is the page size when a query does not specify one.
	DefaultLimit = 100

	// MaxLimit is the largest page a single query may return.
	MaxLimit = 10000
)

// Page is one page of query results.
type Page struct {
	Records []*Record `json:"records"`
	Total   int64     `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// Log is the append-only ledger of weight changes. The key pool is its only
// writer; everything else reads through Query, Statistics and Trend.
type Log struct {
	storage      Storage
	defaultLimit int
	maxLimit     int
	logger       *slog.Logger
	appended     atomic.Int64
	closed       atomic.Bool
}

// LogOptions configures a Log.
type LogOptions struct {
	DefaultLimit int
	MaxLimit     int
}

// NewLog creates a log over storage.
func NewLog(storage Storage, opts LogOptions) *Log {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = MaxLimit
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}

	return &Log{
		storage:      storage,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
		logger:       slog.Default().With("component", "audit.log"),
	}
}

// Append persists records as a single unit and assigns their ids.
func (l *Log) Append(ctx context.Context, records []*Record) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if len(records) == 0 {
		return nil
	}

	if err := l.storage.Append(ctx, records); err != nil {
		l.logger.Error("failed to append audit records",
			"count", len(records),
			"error", err,
		)
		return err
	}

	l.appended.Add(int64(len(records)))
	for _, r := range records {
		l.logger.Debug("audit record appended",
			"id", r.ID,
			"key_id", r.TargetKeyID,
			"operation", r.OperationType,
			"old_weight", r.OldWeight,
			"new_weight", r.NewWeight,
		)
	}
	return nil
}

// Validate checks pagination and time range parameters.
func (l *Log) Validate(q *Query) error {
	if q.Limit < 0 {
		return &QueryError{Field: "limit", Message: "must be >= 0"}
	}
	if q.Limit > l.maxLimit {
		return &QueryError{Field: "limit", Message: "exceeds maximum page size"}
	}
	if q.Offset < 0 {
		return &QueryError{Field: "offset", Message: "must be >= 0"}
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return &QueryError{Field: "start_time", Message: "must be before end_time"}
	}
	return nil
}

// Query returns one page of matching records, newest first.
func (l *Log) Query(ctx context.Context, q *Query) (*Page, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if q == nil {
		q = &Query{}
	}
	if err := l.Validate(q); err != nil {
		return nil, err
	}

	effective := *q
	if effective.Limit == 0 {
		effective.Limit = l.defaultLimit
	}

	records, err := l.storage.Query(ctx, &effective)
	if err != nil {
		return nil, err
	}
	total, err := l.storage.Count(ctx, &effective)
	if err != nil {
		return nil, err
	}

	return &Page{
		Records: records,
		Total:   total,
		Limit:   effective.Limit,
		Offset:  effective.Offset,
	}, nil
}

// All returns every matching record, newest first, paging through storage
// in maximum-size pages. Pagination fields of q are ignored.
func (l *Log) All(ctx context.Context, q *Query) ([]*Record, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	filter := Query{}
	if q != nil {
		filter = *q
	}
	filter.Limit = l.maxLimit
	filter.Offset = 0

	var all []*Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := l.storage.Query(ctx, &filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < filter.Limit {
			return all, nil
		}
		filter.Offset += len(page)
	}
}

// Statistics summarizes records at or after since. A zero since covers the
// whole ledger.
func (l *Log) Statistics(ctx context.Context, since time.Time) (*Statistics, error) {
	q := &Query{}
	if !since.IsZero() {
		q.StartTime = &since
	}
	records, err := l.All(ctx, q)
	if err != nil {
		return nil, err
	}
	return ComputeStatistics(records), nil
}

// Trend returns the weight history of one key, oldest first.
func (l *Log) Trend(ctx context.Context, keyID string, since time.Time) ([]TrendPoint, error) {
	q := &Query{KeyID: keyID}
	if !since.IsZero() {
		q.StartTime = &since
	}
	records, err := l.All(ctx, q)
	if err != nil {
		return nil, err
	}

	points := make([]TrendPoint, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		points = append(points, TrendPoint{
			Timestamp:     r.Timestamp,
			Weight:        r.NewWeight,
			OperationType: r.OperationType,
			Operator:      r.Operator,
		})
	}
	return points, nil
}

// Appended returns the number of records appended through this log.
func (l *Log) Appended() int64 {
	return l.appended.Load()
}

// Close closes the underlying storage. Later calls return ErrClosed.
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.storage.Close()
}
