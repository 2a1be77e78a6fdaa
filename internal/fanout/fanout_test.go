package fanout

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestRunAllSucceed(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	var mu sync.Mutex
	var seen []string

	results := Run(items, 2, func(item string) error {
		mu.Lock()
		seen = append(seen, item)
		mu.Unlock()
		return nil
	}, nil)

	if len(results) != len(items) {
		t.Fatalf("got %d results, want %d", len(results), len(items))
	}
	for i, r := range results {
		if r.Err != nil || r.Skipped {
			t.Fatalf("item %d: unexpected result %+v", i, r)
		}
	}
	sort.Strings(seen)
	if fmt.Sprint(seen) != fmt.Sprint(items) {
		t.Fatalf("task ran on %v, want %v", seen, items)
	}
}

// TestRunSecondBatchWaitsForFirst confirms batch k+1 does not start until
// every task in batch k has settled (spec.md §5 ordering guarantee).
func TestRunSecondBatchWaitsForFirst(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	release := make(chan struct{})
	secondBatchStarted := make(chan string, 2)
	runDone := make(chan struct{})

	go func() {
		Run(items, 2, func(item string) error {
			switch item {
			case "a", "b":
				<-release
			case "c", "d":
				secondBatchStarted <- item
			}
			return nil
		}, nil)
		close(runDone)
	}()

	select {
	case item := <-secondBatchStarted:
		t.Fatalf("second batch item %q started before the first batch was released", item)
	default:
	}

	close(release)
	<-runDone
}

func TestRunAbortSkipsLaterBatches(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	ran := map[string]bool{}
	var mu sync.Mutex

	results := Run(items, 1, func(item string) error {
		mu.Lock()
		ran[item] = true
		mu.Unlock()
		if item == "a" {
			return fmt.Errorf("boom")
		}
		return nil
	}, func(item string, err error) Decision {
		if item == "a" {
			return Abort
		}
		return Continue
	})

	if results[0].Err == nil {
		t.Fatal("expected the first item's error to be reported")
	}
	if results[0].Skipped {
		t.Fatal("first item should have run, not been skipped")
	}
	for i := 1; i < len(results); i++ {
		if !results[i].Skipped {
			t.Fatalf("item %d should have been skipped after abort", i)
		}
	}
	if ran["b"] || ran["c"] || ran["d"] {
		t.Fatal("no task after the abort point should have run")
	}
}

func TestRunContinuesPastErrorsByDefault(t *testing.T) {
	items := []string{"a", "b", "c"}

	results := Run(items, 3, func(item string) error {
		if item == "b" {
			return fmt.Errorf("boom")
		}
		return nil
	}, func(item string, err error) Decision { return Continue })

	for i, r := range results {
		if r.Skipped {
			t.Fatalf("item %d should not be skipped when onError returns Continue", i)
		}
	}
	if results[1].Err == nil {
		t.Fatal("expected item 1 to report its error")
	}
}
