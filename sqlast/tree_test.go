package sqlast

import (
	"encoding/json"
	"testing"
)

// docFromJSON builds a parse-tree document from the serialized form the
// engine emits.
func docFromJSON(t *testing.T, s string) Node {
	t.Helper()
	doc, err := ParseDocument([]byte(s))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	return doc
}

func selectDoc(fromTable string) string {
	return `{"error": false, "statements": [{"node": {
		"type": "SELECT_NODE",
		"cte_map": {"map": []},
		"select_list": [{"class": "STAR", "type": "STAR"}],
		"from_table": ` + fromTable + `,
		"where_clause": null
	}}]}`
}

const baseTableRef = `{"type": "BASE_TABLE", "alias": "", "catalog_name": "", "schema_name": "", "table_name": "events"}`

const readParquetRef = `{"type": "TABLE_FUNCTION", "alias": "", "function": {
	"class": "FUNCTION", "type": "FUNCTION", "function_name": "read_parquet",
	"children": [{"class": "CONSTANT", "type": "VALUE_CONSTANT",
		"value": {"type": {"id": "VARCHAR"}, "is_null": false, "value": "example/hive_table"}}]
}}`

func TestParseDocumentRejectsEngineError(t *testing.T) {
	_, err := ParseDocument([]byte(`{"error": true, "error_message": "syntax error at or near \"select\""}`))
	if err == nil {
		t.Fatal("expected error for failed parse")
	}
}

func TestFirstStatementMissing(t *testing.T) {
	doc := docFromJSON(t, `{"error": false, "statements": []}`)
	if _, err := FirstStatement(doc); err == nil {
		t.Fatal("expected error for empty statement list")
	}
}

func TestAllTablesOrPathsBaseTableDefaults(t *testing.T) {
	doc := docFromJSON(t, selectDoc(baseTableRef))
	stmt, err := FirstStatement(doc)
	if err != nil {
		t.Fatal(err)
	}
	refs, err := AllTablesOrPaths(stmt, "prod", "analytics")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 {
		t.Fatalf("got %d refs, want 1", len(refs))
	}
	ref := refs[0]
	if ref.Catalog != "prod" || ref.Schema != "analytics" || ref.TableOrPath != "events" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if ref.Type != BaseTable {
		t.Fatalf("want BASE_TABLE, got %v", ref.Type)
	}
}

func TestAllTablesOrPathsTableFunction(t *testing.T) {
	doc := docFromJSON(t, selectDoc(readParquetRef))
	stmt, _ := FirstStatement(doc)
	refs, err := AllTablesOrPaths(stmt, "db", "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 {
		t.Fatalf("got %d refs, want 1", len(refs))
	}
	if refs[0].Type != TableFunction || refs[0].FunctionName != "read_parquet" {
		t.Fatalf("unexpected ref %+v", refs[0])
	}
	if refs[0].TableOrPath != "example/hive_table" {
		t.Fatalf("path = %q", refs[0].TableOrPath)
	}
}

func TestAllTablesOrPathsJoinAndSubquery(t *testing.T) {
	join := `{"type": "JOIN",
		"left": ` + baseTableRef + `,
		"right": {"type": "SUBQUERY", "subquery": {"node": {
			"type": "SELECT_NODE",
			"cte_map": {"map": []},
			"from_table": {"type": "BASE_TABLE", "catalog_name": "other", "schema_name": "s2", "table_name": "users"}
		}}}}`
	doc := docFromJSON(t, selectDoc(join))
	stmt, _ := FirstStatement(doc)
	refs, err := AllTablesOrPaths(stmt, "db", "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	if refs[1].Catalog != "other" || refs[1].Schema != "s2" {
		t.Fatalf("qualified ref not preserved: %+v", refs[1])
	}
}

func TestAllTablesOrPathsCTEShadowing(t *testing.T) {
	withCTE := `{"error": false, "statements": [{"node": {
		"type": "SELECT_NODE",
		"cte_map": {"map": [{"key": "t", "value": {"query": {"node": {
			"type": "SELECT_NODE",
			"cte_map": {"map": []},
			"from_table": ` + baseTableRef + `
		}}}}]},
		"from_table": {"type": "BASE_TABLE", "catalog_name": "", "schema_name": "", "table_name": "t"}
	}}]}`
	doc := docFromJSON(t, withCTE)
	stmt, _ := FirstStatement(doc)
	refs, err := AllTablesOrPaths(stmt, "db", "s")
	if err != nil {
		t.Fatal(err)
	}
	// The CTE body's base table is reported; the reference to the CTE name is not.
	if len(refs) != 1 {
		t.Fatalf("got %d refs, want 1: %+v", len(refs), refs)
	}
	if refs[0].TableOrPath != "events" {
		t.Fatalf("unexpected ref %+v", refs[0])
	}
}

func TestAllTablesOrPathsSetOperation(t *testing.T) {
	setop := `{"error": false, "statements": [{"node": {
		"type": "SET_OPERATION_NODE",
		"left": {"type": "SELECT_NODE", "cte_map": {"map": []}, "from_table": ` + baseTableRef + `},
		"right": {"type": "SELECT_NODE", "cte_map": {"map": []}, "from_table": {"type": "BASE_TABLE", "catalog_name": "", "schema_name": "", "table_name": "clicks"}}
	}}]}`
	doc := docFromJSON(t, setop)
	stmt, _ := FirstStatement(doc)
	refs, err := AllTablesOrPaths(stmt, "db", "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
}

func TestWithUpdatedDatabaseSchema(t *testing.T) {
	doc := docFromJSON(t, selectDoc(baseTableRef))
	WithUpdatedDatabaseSchema(doc, "prod", "analytics")
	stmt, _ := FirstStatement(doc)
	from := stmt["from_table"].(Node)
	if from["catalog_name"] != "prod" || from["schema_name"] != "analytics" {
		t.Fatalf("reference not stamped: %+v", from)
	}
}

func TestWithUpdatedDatabaseSchemaKeepsQualified(t *testing.T) {
	qualified := `{"type": "BASE_TABLE", "catalog_name": "c1", "schema_name": "s1", "table_name": "t1"}`
	doc := docFromJSON(t, selectDoc(qualified))
	WithUpdatedDatabaseSchema(doc, "prod", "analytics")
	stmt, _ := FirstStatement(doc)
	from := stmt["from_table"].(Node)
	if from["catalog_name"] != "c1" || from["schema_name"] != "s1" {
		t.Fatalf("qualified reference overwritten: %+v", from)
	}
}

func filterNode(t *testing.T) Node {
	wrapper := `{"error": false, "statements": [{"node": {
		"type": "SELECT_NODE",
		"cte_map": {"map": []},
		"from_table": {"type": "EMPTY"},
		"where_clause": {"class": "COMPARISON", "type": "COMPARE_EQUAL",
			"left": {"class": "COLUMN_REF", "type": "COLUMN_REF", "column_names": ["p"]},
			"right": {"class": "CONSTANT", "type": "VALUE_CONSTANT",
				"value": {"type": {"id": "VARCHAR"}, "is_null": false, "value": "1"}}}
	}}]}`
	doc := docFromJSON(t, wrapper)
	filter, err := FilterFromStatement(doc)
	if err != nil {
		t.Fatalf("FilterFromStatement: %v", err)
	}
	return filter
}

func TestAddFilterToBaseTableWrapsInSubquery(t *testing.T) {
	doc := docFromJSON(t, selectDoc(baseTableRef))
	if err := AddFilterToBaseTable(doc, filterNode(t)); err != nil {
		t.Fatal(err)
	}
	stmt, _ := FirstStatement(doc)
	from := stmt["from_table"].(Node)
	if nodeType(from) != "SUBQUERY" {
		t.Fatalf("base table not wrapped, got %q", nodeType(from))
	}
	if from["alias"] != "events" {
		t.Fatalf("subquery alias = %v, want events", from["alias"])
	}
	inner := from["subquery"].(Node)["node"].(Node)
	if inner["where_clause"] == nil {
		t.Fatal("wrapped subquery has no filter")
	}
	if nodeType(inner["from_table"].(Node)) != "BASE_TABLE" {
		t.Fatal("original base table lost")
	}
}

func TestAddFilterToTableFunctionInjectsHive(t *testing.T) {
	doc := docFromJSON(t, selectDoc(readParquetRef))
	hive := []HiveColumn{{Name: "dt", Type: "DATE"}, {Name: "p", Type: "VARCHAR"}}
	if err := AddFilterToTableFunction(doc, filterNode(t), hive); err != nil {
		t.Fatal(err)
	}
	stmt, _ := FirstStatement(doc)
	if stmt["where_clause"] == nil {
		t.Fatal("filter not applied to where clause")
	}
	fn, ok := FindTableFunction(doc)
	if !ok {
		t.Fatal("table function lost")
	}
	if !hasNamedArgument(fn, "hive_partitioning") || !hasNamedArgument(fn, "hive_types") {
		t.Fatalf("hive arguments not injected: %v", fn["children"])
	}
}

func TestAddFilterToTableFunctionKeepsExistingWhere(t *testing.T) {
	withWhere := `{"error": false, "statements": [{"node": {
		"type": "SELECT_NODE",
		"cte_map": {"map": []},
		"from_table": ` + readParquetRef + `,
		"where_clause": {"class": "COMPARISON", "type": "COMPARE_GREATERTHAN",
			"left": {"class": "COLUMN_REF", "type": "COLUMN_REF", "column_names": ["x"]},
			"right": {"class": "CONSTANT", "type": "VALUE_CONSTANT",
				"value": {"type": {"id": "INTEGER"}, "is_null": false, "value": 5}}}
	}}]}`
	doc := docFromJSON(t, withWhere)
	if err := AddFilterToTableFunction(doc, filterNode(t), nil); err != nil {
		t.Fatal(err)
	}
	stmt, _ := FirstStatement(doc)
	where := stmt["where_clause"].(Node)
	if nodeType(where) != "CONJUNCTION_AND" {
		t.Fatalf("existing predicate not AND-combined, got %q", nodeType(where))
	}
}

func TestAddFilterToTableFunctionExistingHiveNotDuplicated(t *testing.T) {
	withHive := `{"type": "TABLE_FUNCTION", "function": {
		"class": "FUNCTION", "type": "FUNCTION", "function_name": "read_parquet",
		"children": [
			{"class": "CONSTANT", "type": "VALUE_CONSTANT",
				"value": {"type": {"id": "VARCHAR"}, "is_null": false, "value": "p"}},
			{"class": "COMPARISON", "type": "COMPARE_EQUAL",
				"left": {"class": "COLUMN_REF", "type": "COLUMN_REF", "column_names": ["hive_types"]},
				"right": {"class": "FUNCTION", "type": "FUNCTION", "function_name": "struct_pack", "children": []}}
		]}}`
	doc := docFromJSON(t, selectDoc(withHive))
	hive := []HiveColumn{{Name: "dt", Type: "DATE"}}
	if err := AddFilterToTableFunction(doc, filterNode(t), hive); err != nil {
		t.Fatal(err)
	}
	fn, _ := FindTableFunction(doc)
	count := 0
	for _, c := range fn["children"].([]any) {
		child := c.(Node)
		if nodeType(child) != "COMPARE_EQUAL" {
			continue
		}
		names, _ := child["left"].(Node)["column_names"].([]any)
		if len(names) == 1 && names[0] == "hive_types" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("hive_types argument appears %d times, want 1", count)
	}
}

func TestReplaceTableFunctionPath(t *testing.T) {
	doc := docFromJSON(t, selectDoc(readParquetRef))
	fn, _ := FindTableFunction(doc)
	if err := ReplaceTableFunctionPath(fn, []string{"a.parquet", "b.parquet"}); err != nil {
		t.Fatal(err)
	}
	children := fn["children"].([]any)
	list := children[0].(Node)
	if !isListValue(list) {
		t.Fatalf("path not replaced with list literal: %v", list)
	}
	if got := len(list["children"].([]any)); got != 2 {
		t.Fatalf("list has %d entries, want 2", got)
	}
	// Round-trip through JSON to make sure the edited tree still serializes.
	if _, err := MarshalDocument(doc); err != nil {
		t.Fatal(err)
	}
}

func TestRenameTableFunction(t *testing.T) {
	doc := docFromJSON(t, selectDoc(readParquetRef))
	fn, _ := FindTableFunction(doc)
	RenameTableFunction(fn, "read_csv")
	if fn["function_name"] != "read_csv" {
		t.Fatal("function not renamed")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	doc := docFromJSON(t, selectDoc(baseTableRef))
	data, err := MarshalDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	var again Node
	if err := json.Unmarshal(data, &again); err != nil {
		t.Fatal(err)
	}
}
