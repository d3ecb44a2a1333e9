// Package usage tracks per-key call outcomes over a rolling window.
//
// Recorder.Record is safe to call from request handlers: it enqueues the
// event without blocking and a single background worker folds events into
// a fixed ring of time buckets per key. Old buckets are overwritten as the
// window moves, so memory is bounded by keys times buckets.
//
// Statistics are eventually consistent. Callers that need every prior event
// reflected, such as tests or the optimizer before a scheduled run, call
// Flush first.
package usage
