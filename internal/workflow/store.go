package workflow

import (
	"context"
	"errors"
	"time"
)

// staleRunningAfter is how long a running instance may go without a state
// update before ClaimQueued treats its worker as dead and takes the run over.
// Step commits refresh updated_at, so any live run touches the row far more
// often than this; it must stay above the longest single-step attempt budget
// (render timeout plus retry delays).
const staleRunningAfter = 5 * time.Minute

// ErrNotFound is returned when no instance exists for the requested id.
var ErrNotFound = errors.New("workflow: instance not found")

// ErrNoneQueued is returned by ClaimQueued when no instance is waiting.
var ErrNoneQueued = errors.New("workflow: no queued instance")

// Store persists workflow instances and their per-step results. Every commit
// must be durable before the caller advances to the next step.
type Store interface {
	// Create inserts inst with status queued. Submission is idempotent by
	// id: if an instance already exists, the existing one is returned
	// untouched and no second run is created.
	Create(ctx context.Context, inst *Instance) (*Instance, error)

	// Get returns the instance with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Instance, error)

	// ClaimQueued atomically moves the oldest queued instance to running
	// and returns it. Running instances whose worker stopped updating them
	// (crash, kill) become claimable again after staleRunningAfter, so a
	// restarted worker resumes them at the next uncommitted step. Returns
	// ErrNoneQueued when nothing is waiting.
	ClaimQueued(ctx context.Context) (*Instance, error)

	// CommitStep durably records a step result.
	CommitStep(ctx context.Context, id, step, result string) error

	// Complete records the final output and moves the instance to complete.
	Complete(ctx context.Context, id string, output []string) error

	// Fail records a terminal error and moves the instance to errored.
	Fail(ctx context.Context, id, message string) error

	// Terminate cancels a queued or running instance. The runner observes
	// the new status at the next step boundary.
	Terminate(ctx context.Context, id string) error
}
