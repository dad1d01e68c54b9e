package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/tealflight/tealflight/handles"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ingestPathOption names the target file, relative to the warehouse root.
const ingestPathOption = "path"

// DoPutCommandStatementIngest streams the client's Arrow batches into a new
// Parquet file under the warehouse root. Semantics are at-most-once per
// path: an existing target fails the call and stays untouched, and a failed
// upload never leaves a partial file behind.
func (p *Producer) DoPutCommandStatementIngest(ctx context.Context, cmd flightsql.StatementIngest, rdr flight.MessageReader) (int64, error) {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return 0, err
	}
	queriesTotal.WithLabelValues("ingest").Inc()

	relPath := cmd.GetOptions()[ingestPathOption]
	if relPath == "" {
		return 0, status.Errorf(codes.InvalidArgument, "ingest requires the %q option", ingestPathOption)
	}
	target, err := p.warehouseTarget(relPath)
	if err != nil {
		return 0, err
	}

	entry := p.registry.Insert(handles.Ingest, identity.User, relPath, nil)
	defer p.registry.Remove(entry.ID)

	ingestCtx, cancel := context.WithCancel(ctx)
	release := entry.AttachCancel(cancel)
	defer release()
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, status.Errorf(codes.Internal, "create warehouse directory: %v", err)
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return 0, status.Errorf(codes.AlreadyExists, "ingest target %s already exists", relPath)
		}
		return 0, status.Errorf(codes.Internal, "create ingest target: %v", err)
	}

	discard := func() {
		_ = f.Close()
		_ = os.Remove(target)
	}

	writer, err := pqarrow.NewFileWriter(rdr.Schema(), f,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps())
	if err != nil {
		discard()
		return 0, status.Errorf(codes.Internal, "open parquet writer: %v", err)
	}

	var rows int64
	for rdr.Next() {
		if ingestCtx.Err() != nil {
			discard()
			return 0, status.Error(codes.Canceled, "ingest cancelled")
		}
		record := rdr.RecordBatch()
		if record == nil {
			continue
		}
		if err := writer.Write(record); err != nil {
			discard()
			return 0, status.Errorf(codes.Internal, "write parquet: %v", err)
		}
		rows += record.NumRows()
	}
	if err := rdr.Err(); err != nil {
		discard()
		return 0, status.Errorf(codes.Internal, "read ingest stream: %v", err)
	}
	if err := writer.Close(); err != nil {
		discard()
		return 0, status.Errorf(codes.Internal, "finish parquet: %v", err)
	}
	_ = f.Close()

	ingestFilesTotal.Inc()
	return rows, nil
}

// warehouseTarget resolves a client-supplied relative path inside the
// warehouse root, rejecting escapes.
func (p *Producer) warehouseTarget(relPath string) (string, error) {
	if p.cfg.WarehousePath == "" {
		return "", status.Error(codes.FailedPrecondition, "no warehouse path configured")
	}
	root := filepath.Clean(p.cfg.WarehousePath)
	target := filepath.Clean(filepath.Join(root, relPath))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", status.Errorf(codes.InvalidArgument, "ingest path %q escapes the warehouse", relPath)
	}
	if target == root {
		return "", status.Error(codes.InvalidArgument, "ingest path must name a file")
	}
	return target, nil
}
