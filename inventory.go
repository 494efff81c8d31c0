package main

import (
	"context"
	"strings"

	"github.com/chrscato/workcomp-rates-etl/partition"
	"github.com/chrscato/workcomp-rates-etl/store"
)

// InventoryEntry pairs one committed partition object with its decoded
// logical key.
type InventoryEntry struct {
	Path string        `json:"path"`
	Key  partition.Key `json:"key"`
}

// PartitionInventory lists the fact objects under the partition prefix and
// decodes each path back to its logical key. Objects under the prefix that
// are not partition files (scratch, unrelated uploads) are skipped.
func PartitionInventory(ctx context.Context, st store.Store, enc *partition.Encoder) ([]InventoryEntry, error) {
	keys, err := st.List(ctx, strings.TrimSuffix(enc.Prefix, "/")+"/")
	if err != nil {
		return nil, err
	}
	var out []InventoryEntry
	for _, key := range keys {
		if !strings.HasSuffix(key, "/"+partition.FactFileName) {
			continue
		}
		k, err := enc.Decode(key)
		if err != nil {
			continue
		}
		out = append(out, InventoryEntry{Path: key, Key: k})
	}
	return out, nil
}
