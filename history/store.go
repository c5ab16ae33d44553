// Package history persists check results. It is the engine's sole
// persistence boundary: the scheduler appends one immutable batch per tick
// and knows nothing about storage layout.
package history

import (
	"context"

	"github.com/petal-labs/vigil/core"
)

// Snapshot summarizes the stored history after an append. Callers use it
// only for logging provider/record counts.
type Snapshot struct {
	Providers int
	Records   int
}

// Store is an append-only history of check results.
type Store interface {
	// Append stores a batch of results and returns a snapshot summary.
	// Results are never edited after the fact.
	Append(ctx context.Context, results []core.CheckResult) (Snapshot, error)

	// List returns a provider's results, newest first.
	// limit: max results to return (0 means no limit)
	List(ctx context.Context, providerID string, limit int) ([]core.CheckResult, error)

	// Latest returns the newest result per provider.
	Latest(ctx context.Context) ([]core.CheckResult, error)

	// Providers returns the distinct provider IDs with stored history.
	Providers(ctx context.Context) ([]string, error)
}
