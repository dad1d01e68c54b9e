package authz

import (
	"context"
	"time"

	"github.com/tealflight/tealflight/sqlast"
)

// Parser turns SQL text into the engine's JSON parse tree. The engine pool
// implements it; tests substitute fixtures.
type Parser interface {
	Parse(ctx context.Context, sql string) (sqlast.Node, error)
}

// HiveInspectFunc derives hive partition columns for a path so filter
// injection can carry hive_partitioning/hive_types hints. May return an
// empty slice when the path is not hive-partitioned.
type HiveInspectFunc func(path string) ([]sqlast.HiveColumn, error)

// Authorizer validates a parsed query against policy and returns the tree
// the engine should execute.
type Authorizer interface {
	Authorize(ctx context.Context, identity Identity, database, schema string, doc sqlast.Node) (sqlast.Node, error)
}

// AllowAll trusts the caller: no access checks, no filters. Used in
// complete access mode. The default-schema stamp still happens so
// unqualified names resolve the same way in both modes.
type AllowAll struct{}

func (AllowAll) Authorize(_ context.Context, _ Identity, database, schema string, doc sqlast.Node) (sqlast.Node, error) {
	return sqlast.WithUpdatedDatabaseSchema(doc, database, schema), nil
}

// Static enforces rules loaded from configuration at startup.
type Static struct {
	parser     Parser
	inspect    HiveInspectFunc
	rows       []AccessRow
	userGroups map[string][]string
}

func NewStatic(parser Parser, inspect HiveInspectFunc, rows []AccessRow, userGroups map[string][]string) *Static {
	return &Static{
		parser:     parser,
		inspect:    inspect,
		rows:       rows,
		userGroups: userGroups,
	}
}

func (s *Static) Authorize(ctx context.Context, identity Identity, database, schema string, doc sqlast.Node) (sqlast.Node, error) {
	principals := s.principalsFor(identity)
	now := time.Now()
	find := func(ref sqlast.CatalogSchemaTable) *AccessRow {
		for i := range s.rows {
			row := &s.rows[i]
			if !principals[row.Principal] || row.expired(now) {
				continue
			}
			if row.matches(ref) {
				return row
			}
		}
		return nil
	}
	return applyPolicy(ctx, s.parser, s.inspect, identity, database, schema, doc, find)
}

func (s *Static) principalsFor(identity Identity) map[string]bool {
	principals := map[string]bool{identity.User: true}
	for _, g := range identity.Groups {
		principals[g] = true
	}
	for _, g := range s.userGroups[identity.User] {
		principals[g] = true
	}
	return principals
}

// applyPolicy runs the shared authorization algorithm: every reference must
// match a row, the first matched row carrying a filter is compiled and woven
// into the tree once, and unqualified names are stamped with the defaults.
func applyPolicy(ctx context.Context, parser Parser, inspect HiveInspectFunc,
	_ Identity, database, schema string, doc sqlast.Node,
	find func(sqlast.CatalogSchemaTable) *AccessRow) (sqlast.Node, error) {

	stmt, err := sqlast.FirstStatement(doc)
	if err != nil {
		return nil, unauthorizedf("unsupported query: %v", err)
	}
	refs, err := sqlast.AllTablesOrPaths(stmt, database, schema)
	if err != nil {
		return nil, unauthorizedf("unsupported query: %v", err)
	}
	if len(refs) == 0 {
		return nil, unauthorizedf("no table or path found in query")
	}

	// Only the first filter encountered is applied; the rewrite scopes it to
	// the reference kind it was matched against.
	var filterRow *AccessRow
	var filterRef sqlast.CatalogSchemaTable
	for _, ref := range refs {
		row := find(ref)
		if row == nil {
			return nil, unauthorizedf("no access to %s", ref)
		}
		if filterRow == nil && row.Filter != "" {
			filterRow = row
			filterRef = ref
		}
	}

	rewritten := sqlast.WithUpdatedDatabaseSchema(doc, database, schema)
	if filterRow == nil {
		return rewritten, nil
	}

	filterDoc, err := parser.Parse(ctx, "SELECT 1 WHERE "+filterRow.Filter)
	if err != nil {
		return nil, unauthorizedf("invalid row filter %q: %v", filterRow.Filter, err)
	}
	filter, err := sqlast.FilterFromStatement(filterDoc)
	if err != nil {
		return nil, unauthorizedf("invalid row filter %q: %v", filterRow.Filter, err)
	}

	if filterRef.Type == sqlast.TableFunction {
		var hive []sqlast.HiveColumn
		if inspect != nil && filterRef.TableOrPath != "" {
			hive, _ = inspect(filterRef.TableOrPath)
		}
		if err := sqlast.AddFilterToTableFunction(rewritten, filter, hive); err != nil {
			return nil, unauthorizedf("cannot apply row filter: %v", err)
		}
		return rewritten, nil
	}
	if err := sqlast.AddFilterToBaseTable(rewritten, filter); err != nil {
		return nil, unauthorizedf("cannot apply row filter: %v", err)
	}
	return rewritten, nil
}
