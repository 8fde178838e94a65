package workerpool

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Processor owns a configurable number of long-lived goroutines, each of
// which loops popping a Request, running its closure, and pushing the
// Result (spec.md §4.6).
type Processor struct {
	queue  *RequestQueue
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewProcessor starts numThreads goroutines pulling from queue.
func NewProcessor(logger *zap.Logger, queue *RequestQueue, numThreads int) *Processor {
	if numThreads < 1 {
		numThreads = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{queue: queue, logger: logger}
	p.wg.Add(numThreads)
	for i := 0; i < numThreads; i++ {
		go p.loop(i)
	}
	return p
}

func (p *Processor) loop(id int) {
	defer p.wg.Done()
	for {
		req, ok := p.queue.pop()
		if !ok {
			return
		}
		process(p.logger, id, req)
	}
}

// process runs req's closure, guarding against a panicking closure so a
// single bad contribution can never take down the whole pool — the spec
// requires closures not to panic, but the pool still honors "exactly N
// responses" even if one misbehaves.
func process(logger *zap.Logger, workerID int, req Request) {
	result := safeRun(logger, req.Closure)
	req.ResultQueue.Push(result)
}

func safeRun(logger *zap.Logger, c Closure) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("fan-out closure panicked", zap.Any("recover", r))
			result = Result{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return c()
}

// Wait blocks until every pool goroutine has exited. Call Close on the
// underlying RequestQueue first.
func (p *Processor) Wait() { p.wg.Wait() }

// Submit pushes numWorkers closures and collects exactly numWorkers
// results, identifying each by Result.Worker as the spec requires
// (ordering across workers is arbitrary).
func Submit(queue *RequestQueue, closures map[string]Closure) map[string]Result {
	rq := NewResultQueue(len(closures))
	for worker, c := range closures {
		worker := worker
		c := c
		queue.Push(Request{
			Closure: func() Result {
				r := c()
				r.Worker = worker
				return r
			},
			ResultQueue: rq,
		})
	}

	results := make(map[string]Result, len(closures))
	for range closures {
		r := rq.Pop()
		results[r.Worker] = r
	}
	return results
}
