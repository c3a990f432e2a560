// Package runner generates synthetic workflow load.
//
// A [Generator] walks a [Profile] and hands each submission to a
// [Submitter], normally a [Dispatcher]:
//
//	d := runner.NewDispatcher(githubClient, table, runner.DispatcherOptions{
//		MaxConcurrent: 4,
//		Ref:           "main",
//	})
//	g, err := runner.NewGenerator(d, runner.GeneratorOptions{
//		Profile: profile,
//		RunID:   runID,
//	})
//	result := g.Run(ctx)
//
// # Patterns
//
//   - [PatternSteady]: one submission every 60/rate seconds.
//   - [PatternBurst]: BurstSize concurrent submissions every BurstInterval.
//   - [PatternSpike]: SpikeRate inside [SpikeStart, SpikeStart+SpikeDuration), NormalRate otherwise.
//   - [PatternRamp]: the rate moves linearly from JobsPerMinute to RampTo.
//
// Rate-driven patterns space submissions uniformly by default, or with
// exponential gaps when the profile selects [ArrivalModelPoisson].
//
// # Lifecycle
//
// Run moves the generator from [StateIdle] to [StateRunning]. When the
// profile duration elapses or the context ends it enters [StateDraining],
// waits for in-flight submissions, and finishes in [StateDone].
//
// # Dispatch
//
// The [Dispatcher] bounds in-flight submissions with a weighted semaphore and
// registers each accepted intent with the tracker. A dispatch that the service
// accepted on a retry may have created two runs; that duplicate is not
// detectable from the API and is left to correlation.
package runner
