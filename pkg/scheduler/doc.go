// Package scheduler runs keyweave's periodic jobs: scheduled rebalancing,
// audit archive exports and the failing-key monitor sweep.
//
//	s := scheduler.New()
//	_ = s.Add("monitor", "@every 30s", mon.Run)
//	_ = s.Add("rebalance", cfg.Optimizer.Schedule, rebalance)
//	s.Start(ctx)
//	defer s.Stop()
//
// Jobs added with an empty schedule are skipped.
package scheduler
