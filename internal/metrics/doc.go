// Package metrics turns the tracked jobs and recorded snapshots of a load
// test into queue, execution and concurrency statistics.
//
// # Series
//
// [Summarize] reduces a series to min, max, mean, median, p95 and sample
// standard deviation. Percentiles use the nearest-rank definition on the
// sorted series, idx = ceil(p/100*n) - 1, so p50 of 1..10 is 5 while the
// median of the same series is 5.5.
//
// # Concurrency
//
// Two views are computed and both are reported:
//
//   - [SweepConcurrency] walks start and end events of every job with known
//     timestamps and yields the peak and the time-weighted average over the
//     time at least one job was running.
//   - [SnapshotConcurrency] counts in-progress jobs, runs and distinct
//     runners in each recorded snapshot.
//
// When snapshots exist they are the authoritative figure, since job
// timestamps are coarse and reconstructed after the fact.
//
// # Trend
//
// [ClassifyTrend] is a heuristic over the means of the first, middle and
// last third of a series. It labels growth, recovery or stability and is
// meant for reports, not for gating.
//
// # API calls
//
// [Collector] records one latency sample per HTTP attempt, grouped by call
// name, in an HDR histogram.
package metrics
