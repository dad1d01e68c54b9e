// Package splits enumerates the physical shards behind partitioned
// file-format sources so a query can be answered by several independently
// fetchable endpoints.
package splits

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tealflight/tealflight/sqlast"
)

// ErrNotFound marks planning failures caused by an unreachable source path.
var ErrNotFound = errors.New("path not found")

// globRoot returns the longest directory prefix of a path that contains no
// glob metacharacters.
func globRoot(path string) string {
	segs := strings.Split(path, "/")
	root := make([]string, 0, len(segs))
	for _, s := range segs {
		if strings.ContainsAny(s, "*?[") {
			break
		}
		root = append(root, s)
	}
	return strings.Join(root, "/")
}

func hasGlobMeta(path string) bool {
	return strings.ContainsAny(path, "*?[")
}

// InspectHivePath derives the hive partition columns of a dataset root by
// following the first directory chain down to a leaf file and reading the
// key=value path segments. Values that parse as ISO dates map to DATE,
// everything else to VARCHAR.
func InspectHivePath(path string) ([]sqlast.HiveColumn, error) {
	root := globRoot(path)
	if root == "" {
		root = "."
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
	}
	if !info.IsDir() {
		return nil, nil
	}

	var cols []sqlast.HiveColumn
	dir := root
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read hive dir %s: %w", dir, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		var next string
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			key, value, ok := strings.Cut(e.Name(), "=")
			if !ok {
				continue
			}
			cols = append(cols, sqlast.HiveColumn{Name: key, Type: hiveValueType(value)})
			next = filepath.Join(dir, e.Name())
			break
		}
		if next == "" {
			return cols, nil
		}
		dir = next
	}
}

func hiveValueType(value string) string {
	if _, err := time.Parse("2006-01-02", value); err == nil {
		return "DATE"
	}
	return "VARCHAR"
}

// PlanParquetSplits expands a read_parquet source into groups of data files,
// one group per shard. A bare directory path is expanded with one glob level
// per hive partition column plus a *.parquet leaf. An unreachable root is an
// error; a reachable root with zero matching files yields zero shards.
func PlanParquetSplits(path string, hive []sqlast.HiveColumn, splitSize int) ([][]string, error) {
	pattern := path
	if !hasGlobMeta(path) {
		pattern = strings.TrimRight(path, "/") + strings.Repeat("/*", len(hive)) + "/*.parquet"
	}
	root := globRoot(pattern)
	if root != "" {
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
	}
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("expand glob %s: %w", pattern, err)
	}
	sort.Strings(files)
	return groupFiles(files, splitSize), nil
}

// groupFiles slices the file list into shards of at most size files each.
func groupFiles(files []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	shards := make([][]string, 0, (len(files)+size-1)/size)
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		shards = append(shards, files[start:end])
	}
	return shards
}
