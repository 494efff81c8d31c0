package main

import (
	"context"
	"testing"

	"github.com/chrscato/workcomp-rates-etl/partition"
	"github.com/chrscato/workcomp-rates-etl/store"
)

func TestPartitionInventory(t *testing.T) {
	ctx := context.Background()
	st := store.NewFSStore(t.TempDir())
	enc := &partition.Encoder{Prefix: "partitioned"}

	keys := []partition.Key{
		{
			PayerSlug: "acme", State: "GA", BillingClass: "professional",
			ProcedureSet: "Evaluation", ProcedureClass: "Office Visits",
			PrimaryTaxonomyCode: "207Q00000X", StatAreaName: "Atlanta",
			Year: "2025", Month: "08",
		},
		{
			PayerSlug: "acme", State: "FL", BillingClass: partition.SentinelNull,
			ProcedureSet: partition.SentinelMissing, ProcedureClass: partition.SentinelMissing,
			PrimaryTaxonomyCode: partition.SentinelMissing, StatAreaName: partition.SentinelMissing,
			Year: "2025", Month: "07",
		},
	}
	for _, k := range keys {
		if err := st.Put(ctx, enc.Encode(k), []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	// Non-partition objects under the prefix are not inventoried.
	if err := st.Put(ctx, "partitioned/manifest.json", []byte("{}")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := PartitionInventory(ctx, st, enc)
	if err != nil {
		t.Fatalf("PartitionInventory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if enc.Encode(e.Key) != e.Path {
			t.Fatalf("decoded key does not round-trip: %+v", e)
		}
	}
}

func TestPartitionInventoryEmpty(t *testing.T) {
	st := store.NewFSStore(t.TempDir())
	entries, err := PartitionInventory(context.Background(), st, &partition.Encoder{Prefix: "partitioned"})
	if err != nil {
		t.Fatalf("PartitionInventory: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %v, want none", entries)
	}
}
