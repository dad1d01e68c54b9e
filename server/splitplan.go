package server

import (
	"errors"
	"fmt"

	"github.com/tealflight/tealflight/splits"
	"github.com/tealflight/tealflight/sqlast"
)

// planShards turns an authorized query over a partitioned source into one
// rewritten tree per shard. The second return reports whether the query was
// recognized as splittable at all; non-splittable queries fall back to a
// single endpoint.
func planShards(doc sqlast.Node, splitSize int) ([]sqlast.Node, bool, error) {
	fn, ok := sqlast.FindTableFunction(doc)
	if !ok {
		return nil, false, nil
	}
	path := sqlast.TableFunctionPath(fn)
	if path == "" {
		return nil, false, nil
	}

	switch sqlast.TableFunctionName(fn) {
	case "read_parquet":
		hive, err := splits.InspectHivePath(path)
		if err != nil {
			return nil, true, err
		}
		shards, err := splits.PlanParquetSplits(path, hive, splitSize)
		if err != nil {
			return nil, true, err
		}
		docs, err := shardDocuments(doc, shards, hive, false)
		return docs, true, err
	case "read_delta":
		shards, partitions, err := splits.PlanDeltaSplits(path, splitSize)
		if err != nil {
			return nil, true, err
		}
		docs, err := shardDocuments(doc, shards, partitions, true)
		return docs, true, err
	default:
		return nil, false, nil
	}
}

// shardDocuments clones the query once per shard and pins each clone's
// source to the shard's file subset. Delta shards additionally become plain
// read_parquet calls carrying the table's partition typing.
func shardDocuments(doc sqlast.Node, shards [][]string, hive []sqlast.HiveColumn, fromDelta bool) ([]sqlast.Node, error) {
	docs := make([]sqlast.Node, 0, len(shards))
	for _, files := range shards {
		clone, err := sqlast.CloneDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("clone query for shard: %w", err)
		}
		fn, ok := sqlast.FindTableFunction(clone)
		if !ok {
			return nil, errors.New("shard clone lost its table function")
		}
		if fromDelta {
			sqlast.RenameTableFunction(fn, "read_parquet")
		}
		if err := sqlast.ReplaceTableFunctionPath(fn, files); err != nil {
			return nil, err
		}
		sqlast.SetTableFunctionHive(fn, hive)
		docs = append(docs, clone)
	}
	return docs, nil
}
