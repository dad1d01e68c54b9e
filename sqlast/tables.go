package sqlast

import "fmt"

// AllTablesOrPaths walks every FROM clause, join, FROM-clause subquery, set
// operation and CTE body reachable from the given statement node and returns
// the relation references found. Subqueries inside expressions (the select
// list, WHERE or HAVING) are not walked. Unqualified base-table references
// take the supplied default catalog and schema. References to CTE names
// defined in an enclosing scope are not reported.
func AllTablesOrPaths(stmt Node, defaultDB, defaultSchema string) ([]CatalogSchemaTable, error) {
	if stmt == nil {
		return nil, fmt.Errorf("nil statement")
	}
	var out []CatalogSchemaTable
	collectQueryNode(stmt, defaultDB, defaultSchema, map[string]bool{}, &out)
	return out, nil
}

func collectQueryNode(n Node, db, schema string, ctes map[string]bool, out *[]CatalogSchemaTable) {
	if n == nil {
		return
	}
	switch nodeType(n) {
	case "SELECT_NODE":
		scope := ctes
		entries := cteEntries(n)
		if len(entries) > 0 {
			scope = make(map[string]bool, len(ctes)+len(entries))
			for k := range ctes {
				scope[k] = true
			}
			for _, e := range entries {
				if name, ok := e["key"].(string); ok {
					scope[name] = true
				}
			}
			for _, e := range entries {
				value := childNode(e, "value")
				if value == nil {
					continue
				}
				if query := childNode(value, "query"); query != nil {
					collectQueryNode(childNode(query, "node"), db, schema, scope, out)
				}
			}
		}
		collectTableRef(childNode(n, "from_table"), db, schema, scope, out)
	case "SET_OPERATION_NODE":
		collectQueryNode(childNode(n, "left"), db, schema, ctes, out)
		collectQueryNode(childNode(n, "right"), db, schema, ctes, out)
	}
}

func collectTableRef(ref Node, db, schema string, ctes map[string]bool, out *[]CatalogSchemaTable) {
	if ref == nil {
		return
	}
	switch nodeType(ref) {
	case "BASE_TABLE":
		name, _ := ref["table_name"].(string)
		catalog, _ := ref["catalog_name"].(string)
		schemaName, _ := ref["schema_name"].(string)
		if catalog == "" && schemaName == "" && ctes[name] {
			return
		}
		if catalog == "" {
			catalog = db
		}
		if schemaName == "" {
			schemaName = schema
		}
		*out = append(*out, CatalogSchemaTable{
			Catalog:     catalog,
			Schema:      schemaName,
			TableOrPath: name,
			Type:        BaseTable,
		})
	case "TABLE_FUNCTION":
		fn := childNode(ref, "function")
		if fn == nil {
			return
		}
		name, _ := fn["function_name"].(string)
		*out = append(*out, CatalogSchemaTable{
			TableOrPath:  functionPathArgument(fn),
			Type:         TableFunction,
			FunctionName: name,
		})
	case "JOIN":
		collectTableRef(childNode(ref, "left"), db, schema, ctes, out)
		collectTableRef(childNode(ref, "right"), db, schema, ctes, out)
	case "SUBQUERY":
		sub := childNode(ref, "subquery")
		if sub != nil {
			collectQueryNode(childNode(sub, "node"), db, schema, ctes, out)
		}
	}
}

// functionPathArgument returns the first string-constant argument of a table
// function, descending into list literals. Empty for functions like
// generate_series that take no path.
func functionPathArgument(fn Node) string {
	children, _ := fn["children"].([]any)
	for _, c := range children {
		child, ok := c.(Node)
		if !ok {
			continue
		}
		if nodeType(child) == "COMPARE_EQUAL" {
			continue // named argument
		}
		if s := constantString(child); s != "" {
			return s
		}
		if nodeClass(child) == "FUNCTION" {
			if name, _ := child["function_name"].(string); name == "list_value" {
				if s := functionPathArgument(child); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// WithUpdatedDatabaseSchema stamps every unqualified base-table reference in
// the document with the given catalog and schema, so later rewrites and the
// engine resolve names identically. The document is edited in place and
// returned for chaining.
func WithUpdatedDatabaseSchema(doc Node, db, schema string) Node {
	stmts, _ := doc["statements"].([]any)
	for _, s := range stmts {
		wrapper, ok := s.(Node)
		if !ok {
			continue
		}
		stampQueryNode(childNode(wrapper, "node"), db, schema, map[string]bool{})
	}
	return doc
}

func stampQueryNode(n Node, db, schema string, ctes map[string]bool) {
	if n == nil {
		return
	}
	switch nodeType(n) {
	case "SELECT_NODE":
		scope := ctes
		entries := cteEntries(n)
		if len(entries) > 0 {
			scope = make(map[string]bool, len(ctes)+len(entries))
			for k := range ctes {
				scope[k] = true
			}
			for _, e := range entries {
				if name, ok := e["key"].(string); ok {
					scope[name] = true
				}
			}
			for _, e := range entries {
				value := childNode(e, "value")
				if value == nil {
					continue
				}
				if query := childNode(value, "query"); query != nil {
					stampQueryNode(childNode(query, "node"), db, schema, scope)
				}
			}
		}
		stampTableRef(childNode(n, "from_table"), db, schema, scope)
	case "SET_OPERATION_NODE":
		stampQueryNode(childNode(n, "left"), db, schema, ctes)
		stampQueryNode(childNode(n, "right"), db, schema, ctes)
	}
}

func stampTableRef(ref Node, db, schema string, ctes map[string]bool) {
	if ref == nil {
		return
	}
	switch nodeType(ref) {
	case "BASE_TABLE":
		name, _ := ref["table_name"].(string)
		catalog, _ := ref["catalog_name"].(string)
		schemaName, _ := ref["schema_name"].(string)
		if catalog == "" && schemaName == "" && ctes[name] {
			return
		}
		if catalog == "" {
			ref["catalog_name"] = db
		}
		if schemaName == "" {
			ref["schema_name"] = schema
		}
	case "JOIN":
		stampTableRef(childNode(ref, "left"), db, schema, ctes)
		stampTableRef(childNode(ref, "right"), db, schema, ctes)
	case "SUBQUERY":
		if sub := childNode(ref, "subquery"); sub != nil {
			stampQueryNode(childNode(sub, "node"), db, schema, ctes)
		}
	}
}
