package merge

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/chrscato/workcomp-rates-etl/codec"
	"github.com/chrscato/workcomp-rates-etl/store"
)

type row struct {
	UID  string `parquet:"uid"`
	Rate float64 `parquet:"rate"`
}

func uidKey(r row) string { return r.UID }

func TestConcatOnly(t *testing.T) {
	s := ConcatOnly[row]()
	out := s.Merge(
		[]row{{UID: "a"}, {UID: "b"}},
		[]row{{UID: "a"}, {UID: "c"}},
	)
	if len(out) != 4 {
		t.Fatalf("concat produced %d rows, want 4", len(out))
	}
}

func TestDedupLastWriteWins(t *testing.T) {
	s := DedupByKey(uidKey)
	out := s.Merge(
		[]row{{UID: "a", Rate: 1}, {UID: "b", Rate: 2}},
		[]row{{UID: "a", Rate: 9}, {UID: "c", Rate: 3}},
	)
	if len(out) != 3 {
		t.Fatalf("got %d rows, want 3", len(out))
	}
	if out[0].UID != "a" || out[0].Rate != 9 {
		t.Fatalf("last write did not win: %+v", out[0])
	}
	if out[1].UID != "b" || out[2].UID != "c" {
		t.Fatalf("order not stable: %+v", out)
	}
}

func TestMergeIdempotent(t *testing.T) {
	s := DedupByKey(uidKey)
	batch := []row{{UID: "a", Rate: 1}, {UID: "b", Rate: 2}}

	once := s.Merge(batch)
	twice := s.Merge(once, batch)
	if len(twice) != len(once) {
		t.Fatalf("replay grew the row set: %d -> %d", len(once), len(twice))
	}
}

func TestMergeAssociative(t *testing.T) {
	s := DedupByKey(uidKey)
	a := []row{{UID: "1", Rate: 1}, {UID: "2", Rate: 2}}
	b := []row{{UID: "2", Rate: 20}, {UID: "3", Rate: 3}}
	c := []row{{UID: "3", Rate: 30}, {UID: "4", Rate: 4}}

	left := s.Merge(s.Merge(a, b), c)
	right := s.Merge(a, s.Merge(b, c))
	flat := s.Merge(a, b, c)

	for _, got := range [][]row{right, flat} {
		if len(got) != len(left) {
			t.Fatalf("grouping changed row count: %d vs %d", len(got), len(left))
		}
		for i := range left {
			if left[i] != got[i] {
				t.Fatalf("grouping changed result at %d: %+v vs %+v", i, left[i], got[i])
			}
		}
	}
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	st := store.NewFSStore(t.TempDir())
	m := NewMerger(st, DedupByKey(uidKey), zap.NewNop())
	key := "partitioned/state=GA/fact_rate_enriched.parquet"

	res, err := m.Upsert(ctx, key, []row{{UID: "a", Rate: 1}, {UID: "b", Rate: 2}})
	if err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if res.Existing != 0 || res.Final != 2 || res.Added() != 2 {
		t.Fatalf("first Upsert result: %+v", res)
	}

	// Overlapping rerun, one updated and one new row.
	res, err = m.Upsert(ctx, key, []row{{UID: "b", Rate: 22}, {UID: "c", Rate: 3}})
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if res.Existing != 2 || res.Final != 3 || res.Added() != 1 {
		t.Fatalf("second Upsert result: %+v", res)
	}

	data, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	rows, err := codec.Read[row](data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	byUID := map[string]float64{}
	for _, r := range rows {
		byUID[r.UID] = r.Rate
	}
	if byUID["b"] != 22 {
		t.Fatalf("updated row not overwritten: %v", byUID)
	}

	// Exact replay converges.
	res, err = m.Upsert(ctx, key, []row{{UID: "b", Rate: 22}, {UID: "c", Rate: 3}})
	if err != nil {
		t.Fatalf("replay Upsert: %v", err)
	}
	if res.Final != 3 || res.Added() != 0 {
		t.Fatalf("replay was not a no-op: %+v", res)
	}
}

func stageFiles(t *testing.T, st store.Store, n, rowsPer int) []string {
	t.Helper()
	ctx := context.Background()
	var keys []string
	for i := 0; i < n; i++ {
		var rows []row
		for j := 0; j < rowsPer; j++ {
			// Every file repeats uid r0 so dedup has work to do.
			uid := fmt.Sprintf("f%d-r%d", i, j)
			if j == 0 {
				uid = "shared"
			}
			rows = append(rows, row{UID: uid, Rate: float64(i)})
		}
		data, err := codec.Write(rows)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		key := fmt.Sprintf("_staging/chunk-%03d.parquet", i)
		if err := st.Put(ctx, key, data); err != nil {
			t.Fatalf("Put: %v", err)
		}
		keys = append(keys, key)
	}
	return keys
}

func TestCompactWaves(t *testing.T) {
	ctx := context.Background()
	st := store.NewFSStore(t.TempDir())
	c := NewCompactor(st, DedupByKey(uidKey), 10, zap.NewNop())

	// 37 files at wave size 10 forces two wave levels.
	keys := stageFiles(t, st, 37, 3)
	rows, err := c.Compact(ctx, keys, "_staging/_waves")
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}

	// 37 files x 2 unique rows each, plus one shared uid.
	want := 37*2 + 1
	if len(rows) != want {
		t.Fatalf("compacted to %d rows, want %d", len(rows), want)
	}
	var shared *row
	for i := range rows {
		if rows[i].UID == "shared" {
			shared = &rows[i]
			break
		}
	}
	if shared == nil {
		t.Fatal("shared uid missing from compaction output")
	}
	if shared.Rate != 36 {
		t.Fatalf("shared uid rate = %v, want last file's 36", shared.Rate)
	}

	// Scratch waves were cleaned up.
	leftover, err := st.List(ctx, "_staging/_waves/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(leftover) != 0 {
		t.Fatalf("scratch files left behind: %v", leftover)
	}
}

func TestCompactSingleFile(t *testing.T) {
	ctx := context.Background()
	st := store.NewFSStore(t.TempDir())
	c := NewCompactor(st, DedupByKey(uidKey), 10, zap.NewNop())

	keys := stageFiles(t, st, 1, 4)
	rows, err := c.Compact(ctx, keys, "_staging/_waves")
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
}

func TestCompactEmpty(t *testing.T) {
	st := store.NewFSStore(t.TempDir())
	c := NewCompactor(st, DedupByKey(uidKey), 10, zap.NewNop())
	rows, err := c.Compact(context.Background(), nil, "_staging/_waves")
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if rows != nil {
		t.Fatalf("expected nil, got %d rows", len(rows))
	}
}
