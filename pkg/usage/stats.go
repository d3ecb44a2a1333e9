package usage

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the result of one upstream call.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// String returns "success" or "failure".
func (o Outcome) String() string {
	if o == Failure {
		return "failure"
	}
	return "success"
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "success":
		*o = Success
	case "failure":
		*o = Failure
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}

// Stats is a key's outcome summary over the rolling window.
type Stats struct {
	KeyID        string        `json:"key_id"`
	SuccessCount int64         `json:"success_count"`
	FailureCount int64         `json:"failure_count"`
	SampleCount  int64         `json:"sample_count"`
	TotalLatency time.Duration `json:"total_latency"`
	Window       time.Duration `json:"window"`

	// ConsecutiveFailures counts failures since the last success. It is not
	// windowed.
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastUsed            time.Time `json:"last_used"`
}

// SuccessRate returns successes over samples, or 0 with no samples.
func (s Stats) SuccessRate() float64 {
	if s.SampleCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.SampleCount)
}

// AvgLatency returns the mean latency, or 0 with no samples.
func (s Stats) AvgLatency() time.Duration {
	if s.SampleCount == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.SampleCount)
}

// Throughput returns samples per minute over the window.
func (s Stats) Throughput() float64 {
	if s.Window <= 0 {
		return 0
	}
	return float64(s.SampleCount) / s.Window.Minutes()
}
