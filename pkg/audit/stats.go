package audit

import (
	"cmp"
	"slices"
	"time"
)

// MostChangedLimit bounds Statistics.MostChangedKeys.
const MostChangedLimit = 10

// Statistics summarizes a set of audit records.
type Statistics struct {
	TotalChanges      int64                   `json:"total_changes"`
	ChangesByType     map[OperationType]int64 `json:"changes_by_type"`
	ChangesBySource   map[Source]int64        `json:"changes_by_source"`
	ChangesByOperator map[string]int64        `json:"changes_by_operator"`
	MostChangedKeys   []KeyChangeStats        `json:"most_changed_keys"`
	ChangeFrequency   []TimeSeriesPoint       `json:"change_frequency"`
}

// KeyChangeStats aggregates changes to one key.
type KeyChangeStats struct {
	KeyID             string    `json:"key_id"`
	ChangeCount       int64     `json:"change_count"`
	TotalWeightChange int       `json:"total_weight_change"`
	LastChangeTime    time.Time `json:"last_change_time"`
}

// TimeSeriesPoint is a count of changes in the hour starting at Timestamp.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     int64     `json:"value"`
}

// TrendPoint is one step of a key's weight history.
type TrendPoint struct {
	Timestamp     time.Time     `json:"timestamp"`
	Weight        int           `json:"weight"`
	OperationType OperationType `json:"operation_type"`
	Operator      string        `json:"operator"`
}

// ComputeStatistics aggregates records. The result does not depend on the
// order of records.
func ComputeStatistics(records []*Record) *Statistics {
	stats := &Statistics{
		TotalChanges:      int64(len(records)),
		ChangesByType:     make(map[OperationType]int64),
		ChangesBySource:   make(map[Source]int64),
		ChangesByOperator: make(map[string]int64),
		MostChangedKeys:   []KeyChangeStats{},
		ChangeFrequency:   []TimeSeriesPoint{},
	}

	perKey := make(map[string]*KeyChangeStats)
	hourly := make(map[int64]int64)

	for _, r := range records {
		stats.ChangesByType[r.OperationType]++
		stats.ChangesBySource[r.Source]++
		stats.ChangesByOperator[r.Operator]++

		ks, ok := perKey[r.TargetKeyID]
		if !ok {
			ks = &KeyChangeStats{KeyID: r.TargetKeyID}
			perKey[r.TargetKeyID] = ks
		}
		ks.ChangeCount++
		ks.TotalWeightChange += r.Delta()
		if r.Timestamp.After(ks.LastChangeTime) {
			ks.LastChangeTime = r.Timestamp
		}

		hourly[r.Timestamp.UTC().Truncate(time.Hour).Unix()]++
	}

	for _, ks := range perKey {
		stats.MostChangedKeys = append(stats.MostChangedKeys, *ks)
	}
	slices.SortFunc(stats.MostChangedKeys, func(a, b KeyChangeStats) int {
		if c := cmp.Compare(b.ChangeCount, a.ChangeCount); c != 0 {
			return c
		}
		return cmp.Compare(a.KeyID, b.KeyID)
	})
	if len(stats.MostChangedKeys) > MostChangedLimit {
		stats.MostChangedKeys = stats.MostChangedKeys[:MostChangedLimit]
	}

	for hour, count := range hourly {
		stats.ChangeFrequency = append(stats.ChangeFrequency, TimeSeriesPoint{
			Timestamp: time.Unix(hour, 0).UTC(),
			Value:     count,
		})
	}
	slices.SortFunc(stats.ChangeFrequency, func(a, b TimeSeriesPoint) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return stats
}
