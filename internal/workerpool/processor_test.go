package workerpool

import (
	"fmt"
	"testing"
	"time"
)

func TestSubmitReturnsExactlyNResultsIdentifiedByWorker(t *testing.T) {
	queue := NewRequestQueue(8)
	proc := NewProcessor(nil, queue, 4)
	defer func() {
		queue.Close()
		proc.Wait()
	}()

	closures := map[string]Closure{}
	for i := 0; i < 6; i++ {
		worker := fmt.Sprintf("worker-%d", i)
		closures[worker] = func() Result {
			time.Sleep(time.Millisecond)
			return Result{}
		}
	}

	results := Submit(queue, closures)
	if len(results) != len(closures) {
		t.Fatalf("expected %d results, got %d", len(closures), len(results))
	}
	for worker := range closures {
		if _, ok := results[worker]; !ok {
			t.Errorf("missing result for %s", worker)
		}
	}
}

func TestSubmitSurfacesClosureErrors(t *testing.T) {
	queue := NewRequestQueue(4)
	proc := NewProcessor(nil, queue, 2)
	defer func() {
		queue.Close()
		proc.Wait()
	}()

	results := Submit(queue, map[string]Closure{
		"ok":  func() Result { return Result{} },
		"bad": func() Result { return Result{Error: "disk full"} },
	})

	if results["ok"].Error != "" {
		t.Errorf("expected no error for ok, got %q", results["ok"].Error)
	}
	if results["bad"].Error != "disk full" {
		t.Errorf("expected disk full error, got %q", results["bad"].Error)
	}
}

func TestPanickingClosureIsReportedAsError(t *testing.T) {
	queue := NewRequestQueue(4)
	proc := NewProcessor(nil, queue, 2)
	defer func() {
		queue.Close()
		proc.Wait()
	}()

	results := Submit(queue, map[string]Closure{
		"boom": func() Result { panic("kaboom") },
	})
	if results["boom"].Error == "" {
		t.Error("expected a non-empty error for a panicking closure")
	}
}
