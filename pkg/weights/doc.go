// Package weights is the mutation facade over the key pool.
//
// HTTP handlers, CLI commands and scheduled jobs change weights only
// through Service. Each method builds one change-set, grades it with
// keypool.AssessChanges, optionally captures an automatic snapshot, and
// commits it with a single pool mutation so that the audit records and the
// new view appear together.
//
// Operation types written:
//
//	SetKey                           Manual
//	Batch, ApplyPreset, tools        Batch
//	Apply                            Intelligent
//	Rebalance                        Automatic (source Optimizer)
//	Rollback                         Rollback
//
// The read side (Stats, Distribution, Analyze, Health) works on the
// current view and never blocks writers.
package weights
