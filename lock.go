package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/chrscato/workcomp-rates-etl/store"
)

// leaseKey is the writer-lease object. One writer owns the partition tree
// at a time; concurrent writers would race on read-merge-write.
const leaseKey = "_lock/run.json"

// leaseTTL is how long a lease is honored. A run that dies without
// releasing stops blocking new runs after this long.
const leaseTTL = 6 * time.Hour

type lease struct {
	RunID      string    `json:"run_id"`
	Hostname   string    `json:"hostname"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// acquireLease claims the writer lease or reports who holds it. A lease
// past its TTL is treated as abandoned and taken over.
func acquireLease(ctx context.Context, st store.Store, runID string) error {
	data, err := st.Get(ctx, leaseKey)
	switch {
	case err == nil:
		var held lease
		if jsonErr := json.Unmarshal(data, &held); jsonErr == nil {
			if time.Since(held.AcquiredAt) < leaseTTL {
				return fmt.Errorf("writer lease held by run %s on %s since %s",
					held.RunID, held.Hostname, held.AcquiredAt.Format(time.RFC3339))
			}
		}
		// Stale or unreadable lease, take over.
	case errors.Is(err, store.ErrNotExist):
	default:
		return fmt.Errorf("checking writer lease: %w", err)
	}

	host, _ := os.Hostname()
	mine := lease{
		RunID:      runID,
		Hostname:   host,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
	}
	out, err := json.Marshal(mine)
	if err != nil {
		return fmt.Errorf("encoding writer lease: %w", err)
	}
	if err := st.Put(ctx, leaseKey, out); err != nil {
		return fmt.Errorf("claiming writer lease: %w", err)
	}
	return nil
}

// releaseLease drops the lease if this run still holds it.
func releaseLease(ctx context.Context, st store.Store, runID string) error {
	data, err := st.Get(ctx, leaseKey)
	if err != nil {
		if errors.Is(err, store.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading writer lease for release: %w", err)
	}
	var held lease
	if err := json.Unmarshal(data, &held); err == nil && held.RunID != runID {
		// Someone took over a stale lease; leave theirs alone.
		return nil
	}
	if err := st.Delete(ctx, leaseKey); err != nil {
		return fmt.Errorf("releasing writer lease: %w", err)
	}
	return nil
}
