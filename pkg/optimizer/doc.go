// Package optimizer recommends key weights from observed usage.
//
// A strategy scores each enabled key from its success rate, latency,
// throughput or rate budget. Target weights redistribute the current total
// in proportion to the scores, and each change is bounded to a percentage
// of the current weight per run so repeated runs converge instead of
// oscillating. Keys with too few samples keep their weight and report zero
// confidence.
//
// Recommendations are advisory. Changes turns an accepted subset into a
// keypool change-set; the caller applies it.
//
// Strategies live in a Registry. The built-in set is:
//
//	balanced               0.4 response time + 0.4 success rate + 0.2 throughput
//	maximize-success-rate  success rate / (1 + latency seconds)
//	minimize-latency       0.8 response time + 0.2 success rate
//	maximize-throughput    0.6 throughput + 0.4 success rate
//	equalize-utilization   max requests per minute
//	conservative           balanced, 5% step
//	aggressive             balanced, 80% step
package optimizer
