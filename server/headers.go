package server

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"google.golang.org/grpc/metadata"
)

// Per-call headers understood by the producer. All values are strings on
// the wire.
const (
	HeaderDatabase    = "database"
	HeaderSchema      = "schema"
	HeaderFetchSize   = "fetch-size"
	HeaderSplitSize   = "split-size"
	HeaderParallelize = "parallelize"
	HeaderDataSchema  = "data-schema"
)

// CallHeaders are the decoded per-call options.
type CallHeaders struct {
	Database    string
	Schema      string
	FetchSize   int
	SplitSize   int
	Parallelize bool
	// DataSchema, when set, coerces single-scalar results to the requested
	// schema (simple client-driven casts).
	DataSchema *arrow.Schema
}

// ParseCallHeaders decodes the recognized headers, applying server
// defaults. Invalid values are rejected rather than silently ignored.
func ParseCallHeaders(ctx context.Context, defaultFetchSize int) (CallHeaders, error) {
	h := CallHeaders{
		FetchSize: defaultFetchSize,
		SplitSize: 1,
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return h, nil
	}
	h.Database = headerValue(md, HeaderDatabase)
	h.Schema = headerValue(md, HeaderSchema)

	if v := headerValue(md, HeaderFetchSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return h, fmt.Errorf("invalid %s header %q", HeaderFetchSize, v)
		}
		h.FetchSize = n
	}
	if v := headerValue(md, HeaderSplitSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return h, fmt.Errorf("invalid %s header %q", HeaderSplitSize, v)
		}
		h.SplitSize = n
	}
	if v := headerValue(md, HeaderParallelize); v != "" {
		h.Parallelize = strings.EqualFold(v, "true")
	}
	if v := headerValue(md, HeaderDataSchema); v != "" {
		schema, err := ParseDataSchema(v)
		if err != nil {
			return h, fmt.Errorf("invalid %s header: %v", HeaderDataSchema, err)
		}
		h.DataSchema = schema
	}
	return h, nil
}

func headerValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// ParseDataSchema decodes a URL-encoded "name type, name type" schema
// string into an Arrow schema.
func ParseDataSchema(encoded string) (*arrow.Schema, error) {
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return nil, err
	}
	var fields []arrow.Field
	for _, part := range strings.Split(decoded, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typeName, ok := strings.Cut(part, " ")
		if !ok {
			return nil, fmt.Errorf("malformed field %q (want \"name type\")", part)
		}
		dt, err := dataSchemaType(strings.TrimSpace(typeName))
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: strings.TrimSpace(name), Type: dt, Nullable: true})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	return arrow.NewSchema(fields, nil), nil
}

func dataSchemaType(name string) (arrow.DataType, error) {
	switch strings.ToLower(name) {
	case "string", "varchar", "text":
		return arrow.BinaryTypes.String, nil
	case "int", "integer", "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "bigint", "long", "int64":
		return arrow.PrimitiveTypes.Int64, nil
	case "float", "float32":
		return arrow.PrimitiveTypes.Float32, nil
	case "double", "float64":
		return arrow.PrimitiveTypes.Float64, nil
	case "bool", "boolean":
		return arrow.FixedWidthTypes.Boolean, nil
	case "date":
		return arrow.FixedWidthTypes.Date32, nil
	case "timestamp":
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	default:
		return nil, fmt.Errorf("unsupported type %q", name)
	}
}
