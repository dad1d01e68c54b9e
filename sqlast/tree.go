// Package sqlast manipulates the JSON parse trees produced by DuckDB's
// json_serialize_sql. All functions are pure tree edits; parsing and
// deparsing are the engine's job.
package sqlast

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Node is one object of the serialized parse tree.
type Node = map[string]any

// TableType distinguishes the two kinds of relation references the
// authorizer cares about.
type TableType int

const (
	BaseTable TableType = iota
	TableFunction
)

func (t TableType) String() string {
	if t == TableFunction {
		return "TABLE_FUNCTION"
	}
	return "BASE_TABLE"
}

// CatalogSchemaTable is a single relation reference extracted from a query.
type CatalogSchemaTable struct {
	Catalog      string
	Schema       string
	TableOrPath  string
	Type         TableType
	FunctionName string
}

func (c CatalogSchemaTable) String() string {
	if c.Type == TableFunction {
		if c.TableOrPath != "" {
			return fmt.Sprintf("%s(%s)", c.FunctionName, c.TableOrPath)
		}
		return c.FunctionName + "()"
	}
	return fmt.Sprintf("%s.%s.%s", c.Catalog, c.Schema, c.TableOrPath)
}

// HiveColumn is one hive partition column with its SQL type, in path order.
type HiveColumn struct {
	Name string
	Type string
}

// ParseDocument decodes a serialized parse tree. A document with the engine
// error flag set is rejected with the embedded message.
func ParseDocument(data []byte) (Node, error) {
	var doc Node
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode parse tree: %w", err)
	}
	if errFlag, _ := doc["error"].(bool); errFlag {
		msg, _ := doc["error_message"].(string)
		if msg == "" {
			msg = "parser error"
		}
		return nil, fmt.Errorf("parse: %s", msg)
	}
	return doc, nil
}

// MarshalDocument serializes a tree back to the JSON the engine's
// json_deserialize_sql accepts.
func MarshalDocument(doc Node) ([]byte, error) {
	return json.Marshal(doc)
}

// FirstStatement returns the node of the first top-level statement.
func FirstStatement(doc Node) (Node, error) {
	stmts, ok := doc["statements"].([]any)
	if !ok || len(stmts) == 0 {
		return nil, fmt.Errorf("no statements in parse tree")
	}
	wrapper, ok := stmts[0].(Node)
	if !ok {
		return nil, fmt.Errorf("malformed statement entry")
	}
	node, ok := wrapper["node"].(Node)
	if !ok {
		return nil, fmt.Errorf("statement has no node")
	}
	return node, nil
}

func nodeType(n Node) string {
	t, _ := n["type"].(string)
	return t
}

func nodeClass(n Node) string {
	c, _ := n["class"].(string)
	return c
}

func childNode(n Node, key string) Node {
	c, _ := n[key].(Node)
	return c
}

// cteEntries returns the map entries of a select node's cte_map.
func cteEntries(selectNode Node) []Node {
	cteMap := childNode(selectNode, "cte_map")
	if cteMap == nil {
		return nil
	}
	raw, _ := cteMap["map"].([]any)
	entries := make([]Node, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(Node); ok {
			entries = append(entries, m)
		}
	}
	return entries
}

// constantString extracts the value of a VALUE_CONSTANT expression node,
// or "" when the node is not a string constant.
func constantString(n Node) string {
	if nodeClass(n) != "CONSTANT" {
		return ""
	}
	value := childNode(n, "value")
	if value == nil {
		return ""
	}
	if isNull, _ := value["is_null"].(bool); isNull {
		return ""
	}
	s, _ := value["value"].(string)
	return s
}

// Node constructors. These emit the same shapes json_serialize_sql produces
// so an edited tree deparses cleanly.

func varcharConstant(v string) Node {
	return Node{
		"class": "CONSTANT",
		"type":  "VALUE_CONSTANT",
		"alias": "",
		"value": Node{
			"type":    Node{"id": "VARCHAR", "type_info": nil},
			"is_null": false,
			"value":   v,
		},
	}
}

func boolConstant(v bool) Node {
	return Node{
		"class": "CONSTANT",
		"type":  "VALUE_CONSTANT",
		"alias": "",
		"value": Node{
			"type":    Node{"id": "BOOLEAN", "type_info": nil},
			"is_null": false,
			"value":   v,
		},
	}
}

func columnRef(names ...string) Node {
	cols := make([]any, len(names))
	for i, n := range names {
		cols[i] = n
	}
	return Node{
		"class":        "COLUMN_REF",
		"type":         "COLUMN_REF",
		"alias":        "",
		"column_names": cols,
	}
}

// namedArgument builds the COMPARE_EQUAL node DuckDB uses for
// name = value arguments of table functions.
func namedArgument(name string, value Node) Node {
	return Node{
		"class": "COMPARISON",
		"type":  "COMPARE_EQUAL",
		"alias": "",
		"left":  columnRef(name),
		"right": value,
	}
}

// structPack builds the struct literal {'k': V, ...} used by hive_types.
// Values are type identifiers, which parse as bare column references.
func structPack(cols []HiveColumn) Node {
	children := make([]any, 0, len(cols))
	for _, c := range cols {
		ref := columnRef(c.Type)
		ref["alias"] = c.Name
		children = append(children, ref)
	}
	return Node{
		"class":         "FUNCTION",
		"type":          "FUNCTION",
		"alias":         "",
		"function_name": "struct_pack",
		"schema":        "",
		"children":      children,
		"filter":        nil,
		"order_bys":     Node{"type": "ORDER_MODIFIER", "orders": []any{}},
		"distinct":      false,
		"is_operator":   false,
		"export_state":  false,
		"catalog":       "",
	}
}

// listValue builds a ['a', 'b', ...] literal.
func listValue(values []string) Node {
	children := make([]any, 0, len(values))
	for _, v := range values {
		children = append(children, varcharConstant(v))
	}
	return Node{
		"class":         "FUNCTION",
		"type":          "FUNCTION",
		"alias":         "",
		"function_name": "list_value",
		"schema":        "",
		"children":      children,
		"filter":        nil,
		"order_bys":     Node{"type": "ORDER_MODIFIER", "orders": []any{}},
		"distinct":      false,
		"is_operator":   true,
		"export_state":  false,
		"catalog":       "",
	}
}

func conjunctionAnd(left, right Node) Node {
	return Node{
		"class":    "CONJUNCTION",
		"type":     "CONJUNCTION_AND",
		"alias":    "",
		"children": []any{left, right},
	}
}

func starSelectList() []any {
	return []any{Node{
		"class":         "STAR",
		"type":          "STAR",
		"alias":         "",
		"relation_name": "",
		"exclude_list":  []any{},
		"replace_list":  []any{},
		"columns":       false,
		"expr":          nil,
	}}
}
