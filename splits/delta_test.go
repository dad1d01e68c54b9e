package splits

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const deltaSchemaString = `{\"type\":\"struct\",\"fields\":[` +
	`{\"name\":\"id\",\"type\":\"long\",\"nullable\":true,\"metadata\":{}},` +
	`{\"name\":\"dt\",\"type\":\"date\",\"nullable\":true,\"metadata\":{}},` +
	`{\"name\":\"region\",\"type\":\"string\",\"nullable\":true,\"metadata\":{}}]}`

func writeDeltaTable(t *testing.T, adds []string, removes []string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "delta_table")
	logDir := filepath.Join(root, "_delta_log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}

	var first strings.Builder
	first.WriteString(`{"metaData": {"id": "m1", "partitionColumns": ["dt", "region"], "schemaString": "` +
		deltaSchemaString + `"}}` + "\n")
	for _, p := range adds {
		fmt.Fprintf(&first, `{"add": {"path": %q, "partitionValues": {}}}`+"\n", p)
	}
	if err := os.WriteFile(filepath.Join(logDir, "00000000000000000000.json"), []byte(first.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	if len(removes) > 0 {
		var second strings.Builder
		for _, p := range removes {
			fmt.Fprintf(&second, `{"remove": {"path": %q}}`+"\n", p)
		}
		if err := os.WriteFile(filepath.Join(logDir, "00000000000000000001.json"), []byte(second.String()), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestReadDeltaSnapshot(t *testing.T) {
	adds := make([]string, 8)
	for i := range adds {
		adds[i] = fmt.Sprintf("dt=2024-01-0%d/region=eu/part-%d.parquet", i%3+1, i)
	}
	root := writeDeltaTable(t, adds, nil)

	snapshot, err := ReadDeltaSnapshot(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Files) != 8 {
		t.Fatalf("got %d files, want 8", len(snapshot.Files))
	}
	if !strings.HasPrefix(snapshot.Files[0], root) {
		t.Fatalf("file paths should be rooted at the table: %s", snapshot.Files[0])
	}
	if len(snapshot.Partitions) != 2 {
		t.Fatalf("got partitions %v, want dt and region", snapshot.Partitions)
	}
	if snapshot.Partitions[0].Name != "dt" || snapshot.Partitions[0].Type != "DATE" {
		t.Fatalf("dt partition = %v", snapshot.Partitions[0])
	}
	if snapshot.Partitions[1].Type != "VARCHAR" {
		t.Fatalf("region partition = %v", snapshot.Partitions[1])
	}
}

func TestReadDeltaSnapshotAppliesRemoves(t *testing.T) {
	root := writeDeltaTable(t,
		[]string{"a.parquet", "b.parquet", "c.parquet"},
		[]string{"b.parquet"})
	snapshot, err := ReadDeltaSnapshot(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Files) != 2 {
		t.Fatalf("got %d files after remove, want 2", len(snapshot.Files))
	}
	for _, f := range snapshot.Files {
		if strings.HasSuffix(f, "b.parquet") {
			t.Fatal("removed file still in snapshot")
		}
	}
}

func TestReadDeltaSnapshotMissingTable(t *testing.T) {
	if _, err := ReadDeltaSnapshot(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("want error for missing table")
	}
}

func TestReadDeltaSnapshotRejectsCheckpoints(t *testing.T) {
	root := writeDeltaTable(t, []string{"a.parquet"}, nil)
	if err := os.WriteFile(filepath.Join(root, "_delta_log", "_last_checkpoint"), []byte(`{"version":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadDeltaSnapshot(root); err == nil {
		t.Fatal("checkpointed table must be rejected")
	}
}

func TestPlanDeltaSplits(t *testing.T) {
	adds := make([]string, 8)
	for i := range adds {
		adds[i] = fmt.Sprintf("dt=2024-01-01/region=eu/part-%d.parquet", i)
	}
	root := writeDeltaTable(t, adds, nil)

	shards, partitions, err := PlanDeltaSplits(root, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 8 {
		t.Fatalf("got %d shards, want 8", len(shards))
	}
	if len(partitions) != 2 {
		t.Fatalf("got %d partition columns, want 2", len(partitions))
	}

	shards, _, err = PlanDeltaSplits(root, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 3 {
		t.Fatalf("got %d shards with split size 3, want 3", len(shards))
	}
}
