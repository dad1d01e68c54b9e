package sqlast

import (
	"encoding/json"
	"fmt"
)

// FilterFromStatement extracts the WHERE clause of a parsed
// "SELECT 1 WHERE <fragment>" wrapper statement. Combined with the engine's
// parser this turns a textual filter into a tree node without this package
// doing any parsing itself.
func FilterFromStatement(doc Node) (Node, error) {
	stmt, err := FirstStatement(doc)
	if err != nil {
		return nil, err
	}
	if nodeType(stmt) != "SELECT_NODE" {
		return nil, fmt.Errorf("filter wrapper is not a select")
	}
	where := childNode(stmt, "where_clause")
	if where == nil {
		return nil, fmt.Errorf("filter compiled to an empty predicate")
	}
	return where, nil
}

// firstSelect returns the first statement of the document, which must be a
// plain SELECT node.
func firstSelect(doc Node) (Node, error) {
	stmt, err := FirstStatement(doc)
	if err != nil {
		return nil, err
	}
	if nodeType(stmt) != "SELECT_NODE" {
		return nil, fmt.Errorf("statement is not a select")
	}
	return stmt, nil
}

// AddFilterToBaseTable wraps the first base table referenced by the
// document's FROM clause in a subquery restricted by the given predicate.
// Any predicate already scoped to that table keeps applying; the new filter
// is the subquery's WHERE clause.
func AddFilterToBaseTable(doc Node, filter Node) error {
	sel, err := firstSelect(doc)
	if err != nil {
		return err
	}
	if wrapBaseTable(sel, "from_table", filter) {
		return nil
	}
	return fmt.Errorf("no base table found to filter")
}

// wrapBaseTable looks for a BASE_TABLE under parent[key], descending through
// joins, and replaces the first one found with a filtered subquery.
func wrapBaseTable(parent Node, key string, filter Node) bool {
	ref := childNode(parent, key)
	if ref == nil {
		return false
	}
	switch nodeType(ref) {
	case "BASE_TABLE":
		alias, _ := ref["alias"].(string)
		if alias == "" {
			alias, _ = ref["table_name"].(string)
		}
		inner := Node{
			"type":               "SELECT_NODE",
			"modifiers":          []any{},
			"cte_map":            Node{"map": []any{}},
			"select_list":        starSelectList(),
			"from_table":         ref,
			"where_clause":       filter,
			"group_expressions":  []any{},
			"group_sets":         []any{},
			"aggregate_handling": "STANDARD_HANDLING",
			"having":             nil,
			"sample":             nil,
			"qualify":            nil,
		}
		parent[key] = Node{
			"type":              "SUBQUERY",
			"alias":             alias,
			"sample":            nil,
			"subquery":          Node{"node": inner},
			"column_name_alias": []any{},
		}
		return true
	case "JOIN":
		if wrapBaseTable(ref, "left", filter) {
			return true
		}
		return wrapBaseTable(ref, "right", filter)
	}
	return false
}

// AddFilterToTableFunction ANDs the predicate into the statement's WHERE
// clause. When the top-level source is read_parquet and hive hints are
// supplied, hive_partitioning and hive_types named arguments are injected
// unless the caller already passed them.
func AddFilterToTableFunction(doc Node, filter Node, hive []HiveColumn) error {
	sel, err := firstSelect(doc)
	if err != nil {
		return err
	}
	fn := findTableFunction(childNode(sel, "from_table"))
	if fn == nil {
		return fmt.Errorf("no table function found to filter")
	}
	name, _ := fn["function_name"].(string)
	if name == "read_parquet" && len(hive) > 0 {
		injectHiveArguments(fn, hive)
	}
	if existing := childNode(sel, "where_clause"); existing != nil {
		sel["where_clause"] = conjunctionAnd(existing, filter)
	} else {
		sel["where_clause"] = filter
	}
	return nil
}

// findTableFunction locates the first TABLE_FUNCTION in a FROM tree and
// returns its function node.
func findTableFunction(ref Node) Node {
	if ref == nil {
		return nil
	}
	switch nodeType(ref) {
	case "TABLE_FUNCTION":
		return childNode(ref, "function")
	case "JOIN":
		if fn := findTableFunction(childNode(ref, "left")); fn != nil {
			return fn
		}
		return findTableFunction(childNode(ref, "right"))
	}
	return nil
}

// FindTableFunction exposes the top-level table function of the first
// statement, used by the split planner to recognize partitioned sources.
func FindTableFunction(doc Node) (Node, bool) {
	sel, err := firstSelect(doc)
	if err != nil {
		return nil, false
	}
	fn := findTableFunction(childNode(sel, "from_table"))
	return fn, fn != nil
}

func hasNamedArgument(fn Node, name string) bool {
	children, _ := fn["children"].([]any)
	for _, c := range children {
		child, ok := c.(Node)
		if !ok || nodeType(child) != "COMPARE_EQUAL" {
			continue
		}
		left := childNode(child, "left")
		if left == nil {
			continue
		}
		names, _ := left["column_names"].([]any)
		if len(names) == 1 {
			if s, _ := names[0].(string); s == name {
				return true
			}
		}
	}
	return false
}

func injectHiveArguments(fn Node, hive []HiveColumn) {
	children, _ := fn["children"].([]any)
	if !hasNamedArgument(fn, "hive_partitioning") {
		children = append(children, namedArgument("hive_partitioning", boolConstant(true)))
	}
	if !hasNamedArgument(fn, "hive_types") {
		children = append(children, namedArgument("hive_types", structPack(hive)))
	}
	fn["children"] = children
}

// ReplaceTableFunctionPath substitutes the function's path argument with a
// list literal of the given files, leaving named arguments intact. Used by
// the split planner to pin a shard to its file subset.
func ReplaceTableFunctionPath(fn Node, files []string) error {
	children, _ := fn["children"].([]any)
	for i, c := range children {
		child, ok := c.(Node)
		if !ok || nodeType(child) == "COMPARE_EQUAL" {
			continue
		}
		if constantString(child) != "" || isListValue(child) {
			children[i] = listValue(files)
			fn["children"] = children
			return nil
		}
	}
	return fmt.Errorf("table function has no path argument")
}

func isListValue(n Node) bool {
	if nodeClass(n) != "FUNCTION" {
		return false
	}
	name, _ := n["function_name"].(string)
	return name == "list_value"
}

// SetTableFunctionHive injects hive arguments into a bare function node;
// the split planner uses this to carry delta-derived partition types on the
// rewritten per-shard read_parquet call.
func SetTableFunctionHive(fn Node, hive []HiveColumn) {
	if len(hive) == 0 {
		return
	}
	injectHiveArguments(fn, hive)
}

// RenameTableFunction rewrites the function name in place, preserving
// arguments. The delta planner turns read_delta into read_parquet over the
// snapshot's data files.
func RenameTableFunction(fn Node, name string) {
	fn["function_name"] = name
}

// TableFunctionName returns the name of a function node.
func TableFunctionName(fn Node) string {
	name, _ := fn["function_name"].(string)
	return name
}

// TableFunctionPath returns the function's first string path argument,
// descending into list literals.
func TableFunctionPath(fn Node) string {
	return functionPathArgument(fn)
}

// CloneDocument deep-copies a parse tree so per-shard rewrites don't alias
// each other.
func CloneDocument(doc Node) (Node, error) {
	data, err := MarshalDocument(doc)
	if err != nil {
		return nil, err
	}
	var out Node
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
