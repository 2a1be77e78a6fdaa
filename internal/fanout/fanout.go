// Package fanout implements the bounded-concurrency, sequential-batch
// execution model shared by the Batch Executor, Sync Manager, Drift
// Detector, and Seeder (spec.md §4.6). It generalizes the semaphore-channel
// pattern used by cryptofunk's internal/orchestrator.ConsensusManager for
// bounding concurrent work.
package fanout

// Decision is returned by an onError hook to decide whether a batch run
// continues past one item's failure or aborts outright.
type Decision int

const (
	Continue Decision = iota
	Abort
)

// ItemResult is one item's outcome from a Run call.
type ItemResult struct {
	Index   int
	Skipped bool
	Err     error
}

// Run partitions items into batches of size concurrency, runs the batches
// strictly sequentially, and within each batch runs task(item) for every
// item concurrently. task is invoked for every item in program order of
// batches (batch k+1 starts only after every task in batch k has
// settled); onError decides, after each failing item, whether later
// batches are skipped. Every item of the current batch has already been
// started by then, so an abort never skips items within that batch.
//
// task must be safe for concurrent invocation. Run itself performs no
// I/O — callers own sql/network calls inside task.
func Run(items []string, concurrency int, task func(item string) error, onError func(item string, err error) Decision) []ItemResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]ItemResult, len(items))
	aborted := false

	for start := 0; start < len(items); start += concurrency {
		end := start + concurrency
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		if aborted {
			for i := start; i < end; i++ {
				results[i] = ItemResult{Index: i, Skipped: true}
			}
			continue
		}

		type outcome struct {
			idx int
			err error
		}
		out := make(chan outcome, len(batch))
		for i, item := range batch {
			go func(idx int, item string) {
				out <- outcome{idx: idx, err: task(item)}
			}(start+i, item)
		}

		for range batch {
			o := <-out
			results[o.idx] = ItemResult{Index: o.idx, Err: o.err}
			if o.err != nil && onError != nil {
				if onError(items[o.idx], o.err) == Abort {
					aborted = true
				}
			}
		}
	}

	return results
}
