package adapter

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/stridelab/traincore/api"
)

// NewHealthHandler exposes liveness and readiness endpoints for a
// deployment embedding the session core. Readiness probes the snapshot
// store with a short load; liveness guards against goroutine leaks from
// the tick and delivery loops.
func NewHealthHandler(store api.SnapshotStore, maxGoroutines int) http.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(maxGoroutines))
	if store != nil {
		h.AddReadinessCheck("snapshot-store", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err := store.Load(ctx)
			return err
		})
	}
	return h
}
