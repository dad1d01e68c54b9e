package engine

import (
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
	duckdb "github.com/duckdb/duckdb-go/v2"
)

// SchemaFromColumns builds an Arrow schema from engine column metadata.
func SchemaFromColumns(cols []ColumnType) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: TypeFromDuckDB(c.DatabaseType), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// TypeFromDuckDB maps an engine type name to an Arrow DataType. Unknown
// types fall back to strings, which the engine can always render.
func TypeFromDuckDB(dbType string) arrow.DataType {
	upper := strings.ToUpper(strings.TrimSpace(dbType))

	if strings.HasSuffix(upper, "[]") {
		return arrow.ListOf(TypeFromDuckDB(dbType[:len(dbType)-2]))
	}
	if strings.HasPrefix(upper, "DECIMAL(") || strings.HasPrefix(upper, "NUMERIC(") {
		p, s := parseDecimalParams(dbType)
		return &arrow.Decimal128Type{Precision: int32(p), Scale: int32(s)}
	}

	switch upper {
	case "TINYINT":
		return arrow.PrimitiveTypes.Int8
	case "SMALLINT":
		return arrow.PrimitiveTypes.Int16
	case "INTEGER", "INT":
		return arrow.PrimitiveTypes.Int32
	case "BIGINT":
		return arrow.PrimitiveTypes.Int64
	case "UTINYINT":
		return arrow.PrimitiveTypes.Uint8
	case "USMALLINT":
		return arrow.PrimitiveTypes.Uint16
	case "UINTEGER":
		return arrow.PrimitiveTypes.Uint32
	case "UBIGINT":
		return arrow.PrimitiveTypes.Uint64
	case "HUGEINT", "UHUGEINT":
		return &arrow.Decimal128Type{Precision: 38, Scale: 0}
	case "FLOAT", "REAL":
		return arrow.PrimitiveTypes.Float32
	case "DOUBLE":
		return arrow.PrimitiveTypes.Float64
	case "BOOLEAN", "BOOL":
		return arrow.FixedWidthTypes.Boolean
	case "BLOB", "BYTEA":
		return arrow.BinaryTypes.Binary
	case "DATE":
		return arrow.FixedWidthTypes.Date32
	case "TIME", "TIMETZ":
		return arrow.FixedWidthTypes.Time64us
	case "TIMESTAMP":
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	case "TIMESTAMP_S":
		return &arrow.TimestampType{Unit: arrow.Second}
	case "TIMESTAMP_MS":
		return &arrow.TimestampType{Unit: arrow.Millisecond}
	case "TIMESTAMP_NS":
		return &arrow.TimestampType{Unit: arrow.Nanosecond}
	case "TIMESTAMPTZ":
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case "INTERVAL":
		return arrow.FixedWidthTypes.MonthDayNanoInterval
	case "DECIMAL", "NUMERIC":
		return &arrow.Decimal128Type{Precision: 18, Scale: 3}
	default:
		return arrow.BinaryTypes.String
	}
}

func parseDecimalParams(typeName string) (precision, scale int) {
	lparen := strings.IndexByte(typeName, '(')
	rparen := strings.LastIndexByte(typeName, ')')
	if lparen < 0 || rparen <= lparen {
		return 18, 3
	}
	if n, _ := fmt.Sscanf(typeName[lparen+1:rparen], "%d,%d", &precision, &scale); n == 2 {
		return precision, scale
	}
	return 18, 3
}

// RowsToRecord drains up to batchSize rows into an Arrow record batch of
// the given schema. Returns nil when the cursor is exhausted.
func RowsToRecord(alloc memory.Allocator, rows *sql.Rows, schema *arrow.Schema, batchSize int) (arrow.RecordBatch, error) {
	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()

	numFields := schema.NumFields()
	count := 0
	for count < batchSize && rows.Next() {
		values := make([]any, numFields)
		ptrs := make([]any, numFields)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, val := range values {
			AppendValue(builder.Field(i), val)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	return builder.NewRecordBatch(), nil
}

// AppendValue appends one scanned value to a builder, coercing the handful
// of representations the duckdb driver produces.
func AppendValue(builder array.Builder, val any) {
	if val == nil {
		builder.AppendNull()
		return
	}

	switch b := builder.(type) {
	case *array.Int8Builder:
		if v, ok := asInt64(val); ok {
			b.Append(int8(v))
		} else {
			b.AppendNull()
		}
	case *array.Int16Builder:
		if v, ok := asInt64(val); ok {
			b.Append(int16(v))
		} else {
			b.AppendNull()
		}
	case *array.Int32Builder:
		if v, ok := asInt64(val); ok {
			b.Append(int32(v))
		} else {
			b.AppendNull()
		}
	case *array.Int64Builder:
		if v, ok := asInt64(val); ok {
			b.Append(v)
		} else {
			b.AppendNull()
		}
	case *array.Uint8Builder:
		if v, ok := asUint64(val); ok {
			b.Append(uint8(v))
		} else {
			b.AppendNull()
		}
	case *array.Uint16Builder:
		if v, ok := asUint64(val); ok {
			b.Append(uint16(v))
		} else {
			b.AppendNull()
		}
	case *array.Uint32Builder:
		if v, ok := asUint64(val); ok {
			b.Append(uint32(v))
		} else {
			b.AppendNull()
		}
	case *array.Uint64Builder:
		if v, ok := asUint64(val); ok {
			b.Append(v)
		} else {
			b.AppendNull()
		}
	case *array.Float32Builder:
		if v, ok := asFloat64(val); ok {
			b.Append(float32(v))
		} else {
			b.AppendNull()
		}
	case *array.Float64Builder:
		if v, ok := asFloat64(val); ok {
			b.Append(v)
		} else {
			b.AppendNull()
		}
	case *array.BooleanBuilder:
		if v, ok := val.(bool); ok {
			b.Append(v)
		} else {
			b.AppendNull()
		}
	case *array.Date32Builder:
		if v, ok := val.(time.Time); ok {
			// Days since epoch rounded toward negative infinity so
			// pre-epoch dates land on the right day.
			unix := v.Unix()
			days := unix / 86400
			if unix%86400 < 0 {
				days--
			}
			b.Append(arrow.Date32(days))
		} else {
			b.AppendNull()
		}
	case *array.TimestampBuilder:
		if v, ok := val.(time.Time); ok {
			b.AppendTime(v)
		} else {
			b.AppendNull()
		}
	case *array.Time64Builder:
		if v, ok := val.(time.Time); ok {
			micros := int64(v.Hour())*3600000000 + int64(v.Minute())*60000000 +
				int64(v.Second())*1000000 + int64(v.Nanosecond())/1000
			b.Append(arrow.Time64(micros))
		} else {
			b.AppendNull()
		}
	case *array.MonthDayNanoIntervalBuilder:
		if v, ok := val.(duckdb.Interval); ok {
			b.Append(arrow.MonthDayNanoInterval{
				Months:      v.Months,
				Days:        v.Days,
				Nanoseconds: v.Micros * 1000,
			})
		} else {
			b.AppendNull()
		}
	case *array.Decimal128Builder:
		switch v := val.(type) {
		case duckdb.Decimal:
			b.Append(decimal128.FromBigInt(v.Value))
		case *big.Int:
			b.Append(decimal128.FromBigInt(v))
		default:
			b.AppendNull()
		}
	case *array.ListBuilder:
		if v, ok := val.([]any); ok {
			b.Append(true)
			vb := b.ValueBuilder()
			for _, elem := range v {
				AppendValue(vb, elem)
			}
		} else {
			b.AppendNull()
		}
	case *array.StringBuilder:
		switch v := val.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		case duckdb.UUID:
			b.Append(v.String())
		default:
			b.Append(fmt.Sprintf("%v", v))
		}
	case *array.BinaryBuilder:
		switch v := val.(type) {
		case []byte:
			b.Append(v)
		case string:
			b.Append([]byte(v))
		default:
			b.AppendNull()
		}
	default:
		builder.AppendNull()
	}
}

func asInt64(val any) (int64, bool) {
	switch v := val.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case int:
		return int64(v), true
	case uint64:
		return int64(v), true
	case uint32:
		return int64(v), true
	default:
		return 0, false
	}
}

func asUint64(val any) (uint64, bool) {
	switch v := val.(type) {
	case uint64:
		return v, true
	case uint32:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func asFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}
