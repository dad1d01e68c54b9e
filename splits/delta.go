package splits

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tealflight/tealflight/sqlast"
)

// DeltaSnapshot is the current state of a Delta table: the live data files
// and the hive partition columns encoded in their paths.
type DeltaSnapshot struct {
	Files      []string
	Partitions []sqlast.HiveColumn
}

// deltaAction is one line of a Delta commit file. Only the actions that
// affect the file set or the schema are decoded.
type deltaAction struct {
	Add *struct {
		Path            string            `json:"path"`
		PartitionValues map[string]string `json:"partitionValues"`
	} `json:"add"`
	Remove *struct {
		Path string `json:"path"`
	} `json:"remove"`
	MetaData *struct {
		PartitionColumns []string `json:"partitionColumns"`
		SchemaString     string   `json:"schemaString"`
	} `json:"metaData"`
}

type deltaField struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

type deltaSchema struct {
	Fields []deltaField `json:"fields"`
}

// ReadDeltaSnapshot replays the table's JSON commit log and returns the
// current add-file set. Tables that have been checkpointed are rejected:
// replaying only the post-checkpoint commits would silently drop files.
func ReadDeltaSnapshot(tablePath string) (*DeltaSnapshot, error) {
	logDir := filepath.Join(tablePath, "_delta_log")
	if _, err := os.Stat(logDir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tablePath)
	}
	if _, err := os.Stat(filepath.Join(logDir, "_last_checkpoint")); err == nil {
		return nil, fmt.Errorf("delta table %s uses checkpoints; only pure JSON logs are supported", tablePath)
	}

	commits, err := filepath.Glob(filepath.Join(logDir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("delta table %s has no commits", tablePath)
	}
	sort.Strings(commits)

	live := map[string]bool{}
	order := []string{}
	var partitionColumns []string
	var schema deltaSchema

	for _, commit := range commits {
		if err := replayCommit(commit, live, &order, &partitionColumns, &schema); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(live))
	for _, p := range order {
		if live[p] {
			files = append(files, filepath.Join(tablePath, p))
			live[p] = false // each path once, in first-add order
		}
	}

	return &DeltaSnapshot{
		Files:      files,
		Partitions: deltaPartitionColumns(partitionColumns, schema),
	}, nil
}

func replayCommit(path string, live map[string]bool, order *[]string, partitionColumns *[]string, schema *deltaSchema) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open delta commit: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var action deltaAction
		if err := json.Unmarshal([]byte(line), &action); err != nil {
			return fmt.Errorf("decode delta action in %s: %w", path, err)
		}
		switch {
		case action.Add != nil:
			if !live[action.Add.Path] {
				*order = append(*order, action.Add.Path)
			}
			live[action.Add.Path] = true
		case action.Remove != nil:
			live[action.Remove.Path] = false
		case action.MetaData != nil:
			*partitionColumns = action.MetaData.PartitionColumns
			if action.MetaData.SchemaString != "" {
				if err := json.Unmarshal([]byte(action.MetaData.SchemaString), schema); err != nil {
					return fmt.Errorf("decode delta schema: %w", err)
				}
			}
		}
	}
	return scanner.Err()
}

// deltaPartitionColumns resolves the SQL type of each partition column from
// the table schema, falling back to VARCHAR for complex or unknown types.
func deltaPartitionColumns(names []string, schema deltaSchema) []sqlast.HiveColumn {
	byName := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		var primitive string
		if err := json.Unmarshal(f.Type, &primitive); err != nil {
			primitive = "" // struct/array/map types never partition
		}
		byName[f.Name] = deltaTypeToSQL(primitive)
	}
	cols := make([]sqlast.HiveColumn, 0, len(names))
	for _, n := range names {
		t := byName[n]
		if t == "" {
			t = "VARCHAR"
		}
		cols = append(cols, sqlast.HiveColumn{Name: n, Type: t})
	}
	return cols
}

func deltaTypeToSQL(deltaType string) string {
	if strings.HasPrefix(deltaType, "decimal(") {
		return strings.ToUpper(deltaType)
	}
	switch deltaType {
	case "string":
		return "VARCHAR"
	case "long":
		return "BIGINT"
	case "integer":
		return "INTEGER"
	case "short":
		return "SMALLINT"
	case "byte":
		return "TINYINT"
	case "double":
		return "DOUBLE"
	case "float":
		return "FLOAT"
	case "boolean":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "timestamp":
		return "TIMESTAMP"
	case "binary":
		return "BLOB"
	default:
		return "VARCHAR"
	}
}

// PlanDeltaSplits shards a Delta table's current snapshot into groups of at
// most splitSize data files.
func PlanDeltaSplits(tablePath string, splitSize int) ([][]string, []sqlast.HiveColumn, error) {
	snapshot, err := ReadDeltaSnapshot(tablePath)
	if err != nil {
		return nil, nil, err
	}
	return groupFiles(snapshot.Files, splitSize), snapshot.Partitions, nil
}
