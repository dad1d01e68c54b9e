package splits

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tealflight/tealflight/sqlast"
)

// writeHiveTable lays out dt=.../p=.../file.parquet under a temp dir and
// returns the table root.
func writeHiveTable(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "hive_table")
	leaves := []string{
		"dt=2024-01-01/p=1/part-0.parquet",
		"dt=2024-01-01/p=2/part-0.parquet",
		"dt=2024-01-02/p=1/part-0.parquet",
	}
	for _, leaf := range leaves {
		full := filepath.Join(root, leaf)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestInspectHivePath(t *testing.T) {
	root := writeHiveTable(t)
	cols, err := InspectHivePath(root)
	if err != nil {
		t.Fatal(err)
	}
	want := []sqlast.HiveColumn{{Name: "dt", Type: "DATE"}, {Name: "p", Type: "VARCHAR"}}
	if len(cols) != len(want) {
		t.Fatalf("got %v, want %v", cols, want)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("column %d = %v, want %v", i, cols[i], want[i])
		}
	}
}

func TestInspectHivePathThroughGlob(t *testing.T) {
	root := writeHiveTable(t)
	cols, err := InspectHivePath(root + "/*/*/*.parquet")
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 2 {
		t.Fatalf("got %d columns through glob, want 2", len(cols))
	}
}

func TestInspectHivePathMissing(t *testing.T) {
	if _, err := InspectHivePath(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("want error for missing root")
	}
}

func TestPlanParquetSplitsDirectory(t *testing.T) {
	root := writeHiveTable(t)
	hive := []sqlast.HiveColumn{{Name: "dt", Type: "DATE"}, {Name: "p", Type: "VARCHAR"}}
	shards, err := PlanParquetSplits(root, hive, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 3 {
		t.Fatalf("got %d shards, want 3", len(shards))
	}
	for _, s := range shards {
		if len(s) != 1 {
			t.Fatalf("shard size %d, want 1", len(s))
		}
	}
}

func TestPlanParquetSplitsGrouping(t *testing.T) {
	root := writeHiveTable(t)
	hive := []sqlast.HiveColumn{{Name: "dt", Type: "DATE"}, {Name: "p", Type: "VARCHAR"}}
	shards, err := PlanParquetSplits(root, hive, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 2 {
		t.Fatalf("got %d shards with split size 2, want 2", len(shards))
	}
	if len(shards[0]) != 2 || len(shards[1]) != 1 {
		t.Fatalf("uneven grouping wrong: %d, %d", len(shards[0]), len(shards[1]))
	}
}

func TestPlanParquetSplitsExplicitGlob(t *testing.T) {
	root := writeHiveTable(t)
	shards, err := PlanParquetSplits(root+"/*/*/*.parquet", nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 3 {
		t.Fatalf("got %d shards, want 3", len(shards))
	}
}

func TestPlanParquetSplitsMissingRoot(t *testing.T) {
	_, err := PlanParquetSplits(filepath.Join(t.TempDir(), "nope"), nil, 1)
	if err == nil {
		t.Fatal("want not-found error")
	}
}

func TestPlanParquetSplitsZeroMatches(t *testing.T) {
	empty := t.TempDir()
	shards, err := PlanParquetSplits(empty, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 0 {
		t.Fatalf("got %d shards for empty dir, want 0", len(shards))
	}
}
