// Package progress renders request progress for a transfer run.
//
// A Reporter satisfies transfer.Reporter. Pools call it from their workers;
// one goroutine renders the counters on stderr at a fixed interval.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalRequests: len(items),
//	    Limit:         200,
//	})
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[fetchpush] Requests: 1200 | Upload size: 3.41 GB | Limit: 200
//	[fetchpush] Progress: 45.2% | 542/1200 done | 3 failed | 200 in-flight | 1.52 GB | 48.10 MB/s
//	[fetchpush] Done: 1200 succeeded | 3 failed attempts | 1203 issued
//	[fetchpush] Total time: 1m 12s | Transferred: 3.41 GB | Average speed: 48.50 MB/s
package progress
