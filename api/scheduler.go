/*
scheduler.go - Nightly grant generation scheduler

PURPOSE:
  Periodically runs grant-lot generation across the whole roster so due
  grants appear without manual intervention. Each run delegates to the
  batch runner, which isolates per-employee failures.

DESIGN:
  - Background goroutine with a configurable check interval
  - Runs once immediately on start, then on every tick
  - Per-employee failures are logged and never abort the run

USAGE:
  scheduler := NewGrantScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerBatchRegenerate endpoint (manual run)
  - ledger/batch.go: BatchRunner
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// GrantScheduler runs roster-wide grant generation on a timer.
type GrantScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewGrantScheduler creates a new scheduler with a 24h interval.
func NewGrantScheduler(handler *Handler) *GrantScheduler {
	return &GrantScheduler{
		Handler:       handler,
		CheckInterval: 24 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (gs *GrantScheduler) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if !gs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	gs.ticker = time.NewTicker(gs.CheckInterval)
	gs.wg.Add(1)

	go gs.run()

	log.Printf("[Scheduler] Started with check interval: %v", gs.CheckInterval)
}

// Stop stops the scheduler.
func (gs *GrantScheduler) Stop() {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.ticker != nil {
		gs.ticker.Stop()
		close(gs.stop)
		gs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (gs *GrantScheduler) run() {
	defer gs.wg.Done()

	// Run immediately on start
	gs.generateAll()

	for {
		select {
		case <-gs.ticker.C:
			gs.generateAll()
		case <-gs.stop:
			return
		}
	}
}

func (gs *GrantScheduler) generateAll() {
	ctx := context.Background()
	asOf := gs.Handler.today()

	log.Printf("[Scheduler] Running grant generation as of %s", asOf)

	summary, err := gs.Handler.Batch.Run(ctx, asOf, "scheduler")
	if err != nil {
		log.Printf("[Scheduler] Batch run failed: %v", err)
		return
	}

	for _, e := range summary.Errors {
		log.Printf("[Scheduler] Employee %s failed: %s", e.EmployeeID, e.Err)
	}
	log.Printf("[Scheduler] Completed: %d processed, %d generated, %d updated, %d errors",
		summary.Processed, summary.Generated, summary.Updated, len(summary.Errors))
}

// RunNow triggers an immediate run (for testing/admin).
func (gs *GrantScheduler) RunNow() {
	gs.generateAll()
}
