/*
batch.go - Roster-wide grant generation

PURPOSE:
  Runs the grant-lot generator across every employee, the way the
  nightly job does. Each employee's generation is its own transaction,
  so one employee's failure never aborts the rest; failures are
  collected into the summary instead. Work is spread over a bounded
  worker pool - per-employee transactions do not contend with each
  other, only with in-flight approvals for the same employee.

SEE ALSO:
  - grants.go: Single-employee generation
  - api/scheduler.go: The nightly trigger
*/
package ledger

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// EmployeeError is one isolated per-employee failure from a batch run.
type EmployeeError struct {
	EmployeeID EmployeeID `json:"employee_id"`
	Err        string     `json:"error"`
}

// BatchSummary reports a whole-roster generation run.
type BatchSummary struct {
	Processed int             `json:"processed"`
	Generated int             `json:"generated"`
	Updated   int             `json:"updated"`
	Errors    []EmployeeError `json:"errors,omitempty"`
}

// BatchRunner fans generation out over the roster.
type BatchRunner struct {
	Generator *GrantGenerator
	Workers   int
}

func NewBatchRunner(gen *GrantGenerator, workers int) *BatchRunner {
	if workers <= 0 {
		workers = 4
	}
	return &BatchRunner{Generator: gen, Workers: workers}
}

// Run generates lots for every employee up to asOf. The returned error
// covers only listing the roster; per-employee failures land in
// Summary.Errors.
func (b *BatchRunner) Run(ctx context.Context, asOf Date, actor string) (BatchSummary, error) {
	employees, err := b.Generator.Store.ListEmployees(ctx)
	if err != nil {
		return BatchSummary{}, err
	}

	var (
		mu      sync.Mutex
		summary BatchSummary
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Workers)

	for _, emp := range employees {
		emp := emp
		g.Go(func() error {
			result, err := b.Generator.Generate(ctx, emp.ID, asOf, actor)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if err != nil {
				summary.Errors = append(summary.Errors, EmployeeError{
					EmployeeID: emp.ID,
					Err:        err.Error(),
				})
				return nil // isolate: never abort the batch
			}
			summary.Generated += result.Generated
			summary.Updated += result.Updated
			return nil
		})
	}

	_ = g.Wait() // goroutines always return nil; errors are collected above
	return summary, nil
}
