package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/tealflight/tealflight/authz"
	"github.com/tealflight/tealflight/engine"
	"github.com/tealflight/tealflight/handles"
	"github.com/tealflight/tealflight/splits"
	"github.com/tealflight/tealflight/sqlast"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaxGRPCMessageSize is the max gRPC message size for Flight SQL traffic.
// Query results easily exceed the default 4MB limit.
const MaxGRPCMessageSize = 1 << 30 // 1GB

// Producer is the Flight SQL request dispatcher: it ties headers to an
// identity, the identity to the authorizer, the rewritten query to the
// planner and engine, and owns the handle registry.
type Producer struct {
	flightsql.BaseServer

	cfg      Config
	pool     *engine.Pool
	registry *handles.Registry
	auth     *Authenticator
	static   authz.Authorizer
	redirect authz.Authorizer
	alloc    memory.Allocator
}

func NewProducer(cfg Config, pool *engine.Pool, registry *handles.Registry, auth *Authenticator) (*Producer, error) {
	p := &Producer{
		cfg:      cfg,
		pool:     pool,
		registry: registry,
		auth:     auth,
		alloc:    memory.DefaultAllocator,
	}

	inspect := func(path string) ([]sqlast.HiveColumn, error) {
		return splits.InspectHivePath(path)
	}
	if cfg.AccessMode == AccessModeRestricted {
		p.static = authz.NewStatic(pool, inspect, cfg.AccessRules, cfg.UserGroups)
	} else {
		p.static = authz.AllowAll{}
	}
	p.redirect = authz.NewRedirect(cfg.LoginURL, pool, inspect)

	if err := p.RegisterSqlInfo(flightsql.SqlInfoFlightSqlServerName, "tealflight"); err != nil {
		return nil, fmt.Errorf("register sql info server name: %w", err)
	}
	if err := p.RegisterSqlInfo(flightsql.SqlInfoFlightSqlServerVersion, "1.0.0"); err != nil {
		return nil, fmt.Errorf("register sql info server version: %w", err)
	}
	if err := p.RegisterSqlInfo(flightsql.SqlInfoFlightSqlServerReadOnly, false); err != nil {
		return nil, fmt.Errorf("register sql info read only: %w", err)
	}
	return p, nil
}

// authorizerFor routes redirect-token callers through the resolve endpoint;
// everyone else gets the configured static policy.
func (p *Producer) authorizerFor(identity authz.Identity) authz.Authorizer {
	if identity.Claims[authz.ClaimTokenType] == authz.TokenTypeRedirect {
		return p.redirect
	}
	return p.static
}

// statusFromError maps internal failures onto Flight status codes.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}
	switch {
	case authz.ErrIsUnauthorized(err):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, splits.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, handles.ErrNotFound):
		return status.Error(codes.InvalidArgument, "unknown handle")
	case errors.Is(err, handles.ErrWrongOwner):
		return status.Error(codes.PermissionDenied, "handle owned by another user")
	case errors.Is(err, handles.ErrCancelled), errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "query cancelled")
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// rewrite parses and authorizes a statement, returning the tree the engine
// may execute and its deparsed text.
func (p *Producer) rewrite(ctx context.Context, identity authz.Identity, h CallHeaders, query string) (sqlast.Node, string, error) {
	doc, err := p.pool.Parse(ctx, query)
	if err != nil {
		return nil, "", status.Errorf(codes.InvalidArgument, "failed to parse query: %v", err)
	}
	doc, err = p.authorizerFor(identity).Authorize(ctx, identity, h.Database, h.Schema, doc)
	if err != nil {
		return nil, "", statusFromError(err)
	}
	sql, err := p.pool.Deparse(ctx, doc)
	if err != nil {
		return nil, "", status.Errorf(codes.Internal, "failed to deparse query: %v", err)
	}
	return doc, sql, nil
}

// serializedSchemaFor probes the statement's result schema without
// executing it. Binding errors are deferred to stream time, so a failed
// probe yields an empty schema rather than failing the call.
func (p *Producer) serializedSchemaFor(ctx context.Context, sql string, h CallHeaders) []byte {
	if h.DataSchema != nil {
		return flight.SerializeSchema(h.DataSchema, p.alloc)
	}
	cols, err := p.pool.QuerySchema(ctx, sql)
	if err != nil {
		return flight.SerializeSchema(arrow.NewSchema(nil, nil), p.alloc)
	}
	return flight.SerializeSchema(engine.SchemaFromColumns(cols), p.alloc)
}

func (p *Producer) GetFlightInfoStatement(ctx context.Context, cmd flightsql.StatementQuery, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	h, err := ParseCallHeaders(ctx, p.cfg.FetchSize)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	queriesTotal.WithLabelValues("statement").Inc()

	doc, sql, err := p.rewrite(ctx, identity, h, cmd.GetQuery())
	if err != nil {
		return nil, err
	}
	return p.flightInfoForQuery(ctx, identity, h, doc, sql, desc)
}

// flightInfoForQuery registers the running-query handle, optionally shards
// the source, and assembles the FlightInfo.
func (p *Producer) flightInfoForQuery(ctx context.Context, identity authz.Identity, h CallHeaders,
	doc sqlast.Node, sql string, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {

	serializedSchema := p.serializedSchemaFor(ctx, sql, h)
	entry := p.registry.Insert(handles.Query, identity.User, sql, serializedSchema)

	var shardSQL []string
	if h.Parallelize {
		shards, splittable, err := p.shardStatements(ctx, doc, h.SplitSize)
		if err != nil {
			p.registry.Remove(entry.ID)
			return nil, statusFromError(err)
		}
		if splittable {
			shardSQL = shards
		}
	}

	var endpoints []*flight.FlightEndpoint
	if shardSQL != nil {
		endpoints = make([]*flight.FlightEndpoint, 0, len(shardSQL))
		for _, text := range shardSQL {
			ticket, err := encodeTicket(ticketPayload{
				Kind:      ticketShard,
				QueryID:   entry.ID.String(),
				SQL:       text,
				FetchSize: h.FetchSize,
			})
			if err != nil {
				p.registry.Remove(entry.ID)
				return nil, status.Error(codes.Internal, err.Error())
			}
			endpoints = append(endpoints, &flight.FlightEndpoint{Ticket: &flight.Ticket{Ticket: ticket}})
		}
		splitEndpointsTotal.Add(float64(len(endpoints)))
	} else {
		ticket, err := encodeTicket(ticketPayload{
			Kind:      ticketStatement,
			QueryID:   entry.ID.String(),
			SQL:       sql,
			FetchSize: h.FetchSize,
		})
		if err != nil {
			p.registry.Remove(entry.ID)
			return nil, status.Error(codes.Internal, err.Error())
		}
		endpoints = []*flight.FlightEndpoint{{Ticket: &flight.Ticket{Ticket: ticket}}}
	}

	return &flight.FlightInfo{
		Schema:           entry.SerializedSchema,
		FlightDescriptor: desc,
		Endpoint:         endpoints,
		TotalRecords:     -1,
		TotalBytes:       -1,
		AppMetadata:      []byte(entry.ID.String()),
	}, nil
}

// shardStatements plans the shards of a splittable source and deparses each
// per-shard tree to the SQL its endpoint ticket will carry.
func (p *Producer) shardStatements(ctx context.Context, doc sqlast.Node, splitSize int) ([]string, bool, error) {
	shardDocs, splittable, err := planShards(doc, splitSize)
	if err != nil || !splittable {
		return nil, splittable, err
	}
	shardSQL := make([]string, 0, len(shardDocs))
	for _, shardDoc := range shardDocs {
		text, err := p.pool.Deparse(ctx, shardDoc)
		if err != nil {
			return nil, true, fmt.Errorf("failed to deparse shard: %w", err)
		}
		shardSQL = append(shardSQL, text)
	}
	return shardSQL, true, nil
}

func (p *Producer) GetSchemaStatement(ctx context.Context, cmd flightsql.StatementQuery, _ *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	h, err := ParseCallHeaders(ctx, p.cfg.FetchSize)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	_, sql, err := p.rewrite(ctx, identity, h, cmd.GetQuery())
	if err != nil {
		return nil, err
	}
	return &flight.SchemaResult{Schema: p.serializedSchemaFor(ctx, sql, h)}, nil
}

func (p *Producer) DoGetStatement(ctx context.Context, ticket flightsql.StatementQueryTicket) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	return p.doGetStatement(ctx, ticket.GetStatementHandle())
}

// doGetStatement serves a decoded statement handle: every endpoint the
// server hands out routes here, whatever RPC minted it.
func (p *Producer) doGetStatement(ctx context.Context, statementHandle []byte) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	h, err := ParseCallHeaders(ctx, p.cfg.FetchSize)
	if err != nil {
		return nil, nil, status.Error(codes.InvalidArgument, err.Error())
	}
	payload, err := decodeTicket(statementHandle)
	if err != nil {
		return nil, nil, status.Error(codes.InvalidArgument, err.Error())
	}

	sql := payload.SQL
	if payload.Kind == ticketPrepared {
		id, err := uuid.Parse(payload.Handle)
		if err != nil {
			return nil, nil, status.Error(codes.InvalidArgument, "malformed prepared handle")
		}
		prepared, err := p.registry.Get(id, identity.User)
		if err != nil {
			return nil, nil, statusFromError(err)
		}
		sql = prepared.SQL
	}
	if sql == "" {
		return nil, nil, status.Error(codes.InvalidArgument, "ticket carries no statement")
	}

	fetchSize := h.FetchSize
	if payload.FetchSize > 0 && fetchSize == p.cfg.FetchSize {
		fetchSize = payload.FetchSize
	}

	// The query handle is best-effort: a reaped handle still executes (the
	// ticket is self-describing), but a cancelled one refuses the stream.
	var entry *handles.Entry
	if payload.QueryID != "" {
		if id, parseErr := uuid.Parse(payload.QueryID); parseErr == nil {
			if e, getErr := p.registry.Get(id, identity.User); getErr == nil {
				entry = e
			} else if errors.Is(getErr, handles.ErrWrongOwner) {
				return nil, nil, statusFromError(getErr)
			}
		}
	}
	if entry != nil && entry.Cancelled() {
		return nil, nil, status.Error(codes.Canceled, "query cancelled")
	}

	return p.streamQuery(ctx, entry, sql, fetchSize, h.DataSchema)
}

// streamQuery executes the statement and pushes batches of at most
// fetchSize rows until exhaustion, error or cancellation. Every resource is
// released on every exit path.
func (p *Producer) streamQuery(ctx context.Context, entry *handles.Entry, sql string, fetchSize int, override *arrow.Schema) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	release := func() {}
	if entry != nil {
		release = entry.AttachCancel(cancel)
	}

	rows, err := p.pool.QueryContext(streamCtx, sql)
	if err != nil {
		cancelled := streamCtx.Err() != nil
		release()
		cancel()
		if cancelled {
			return nil, nil, status.Error(codes.Canceled, "query cancelled")
		}
		return nil, nil, status.Errorf(codes.Internal, "failed to execute query: %v", err)
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		release()
		cancel()
		return nil, nil, status.Errorf(codes.Internal, "failed to read result schema: %v", err)
	}
	cols := make([]engine.ColumnType, len(colTypes))
	for i, ct := range colTypes {
		cols[i] = engine.ColumnType{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}
	schema := engine.SchemaFromColumns(cols)
	if override != nil && override.NumFields() == schema.NumFields() {
		schema = override
	}

	ch := make(chan flight.StreamChunk, 10)
	activeStreams.Inc()
	go func() {
		defer close(ch)
		defer func() {
			activeStreams.Dec()
			_ = rows.Close()
			release()
			cancel()
		}()

		for {
			record, recErr := engine.RowsToRecord(p.alloc, rows, schema, fetchSize)
			if recErr != nil {
				if streamCtx.Err() != nil {
					recErr = status.Error(codes.Canceled, "query cancelled")
				}
				_ = sendStreamChunk(ctx, ch, flight.StreamChunk{Err: recErr})
				return
			}
			if record == nil {
				return
			}
			if !sendStreamChunk(ctx, ch, flight.StreamChunk{Data: record}) {
				record.Release()
				return
			}
		}
	}()

	return schema, ch, nil
}

func sendStreamChunk(ctx context.Context, ch chan<- flight.StreamChunk, chunk flight.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- chunk:
		return true
	}
}

func (p *Producer) CreatePreparedStatement(ctx context.Context, req flightsql.ActionCreatePreparedStatementRequest) (flightsql.ActionCreatePreparedStatementResult, error) {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return flightsql.ActionCreatePreparedStatementResult{}, err
	}
	h, err := ParseCallHeaders(ctx, p.cfg.FetchSize)
	if err != nil {
		return flightsql.ActionCreatePreparedStatementResult{}, status.Error(codes.InvalidArgument, err.Error())
	}
	queriesTotal.WithLabelValues("prepare").Inc()

	_, sql, err := p.rewrite(ctx, identity, h, req.GetQuery())
	if err != nil {
		return flightsql.ActionCreatePreparedStatementResult{}, err
	}

	serializedSchema := p.serializedSchemaFor(ctx, sql, h)
	entry := p.registry.Insert(handles.Prepared, identity.User, sql, serializedSchema)

	schema, err := flight.DeserializeSchema(entry.SerializedSchema, p.alloc)
	if err != nil {
		schema = arrow.NewSchema(nil, nil)
	}
	return flightsql.ActionCreatePreparedStatementResult{
		Handle:        []byte(entry.ID.String()),
		DatasetSchema: schema,
	}, nil
}

func (p *Producer) ClosePreparedStatement(ctx context.Context, req flightsql.ActionClosePreparedStatementRequest) error {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(string(req.GetPreparedStatementHandle()))
	if err != nil {
		return status.Error(codes.InvalidArgument, "malformed prepared handle")
	}
	if _, err := p.registry.Get(id, identity.User); err != nil {
		return statusFromError(err)
	}
	p.registry.Remove(id)
	return nil
}

func (p *Producer) GetFlightInfoPreparedStatement(ctx context.Context, cmd flightsql.PreparedStatementQuery, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	h, err := ParseCallHeaders(ctx, p.cfg.FetchSize)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	queriesTotal.WithLabelValues("prepared").Inc()

	id, err := uuid.Parse(string(cmd.GetPreparedStatementHandle()))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed prepared handle")
	}
	prepared, err := p.registry.Get(id, identity.User)
	if err != nil {
		return nil, statusFromError(err)
	}

	// Each execution gets its own cancellable query handle; cancelling it
	// leaves the prepared statement itself intact.
	execution := p.registry.Insert(handles.Query, identity.User, prepared.SQL, prepared.SerializedSchema)
	ticket, err := encodeTicket(ticketPayload{
		Kind:      ticketPrepared,
		Handle:    prepared.ID.String(),
		QueryID:   execution.ID.String(),
		FetchSize: h.FetchSize,
	})
	if err != nil {
		p.registry.Remove(execution.ID)
		return nil, status.Error(codes.Internal, err.Error())
	}

	return &flight.FlightInfo{
		Schema:           prepared.SerializedSchema,
		FlightDescriptor: desc,
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: ticket},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
		AppMetadata:  []byte(execution.ID.String()),
	}, nil
}

func (p *Producer) DoGetPreparedStatement(ctx context.Context, cmd flightsql.PreparedStatementQuery) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	h, err := ParseCallHeaders(ctx, p.cfg.FetchSize)
	if err != nil {
		return nil, nil, status.Error(codes.InvalidArgument, err.Error())
	}
	id, err := uuid.Parse(string(cmd.GetPreparedStatementHandle()))
	if err != nil {
		return nil, nil, status.Error(codes.InvalidArgument, "malformed prepared handle")
	}
	prepared, err := p.registry.Get(id, identity.User)
	if err != nil {
		return nil, nil, statusFromError(err)
	}
	return p.streamQuery(ctx, nil, prepared.SQL, h.FetchSize, h.DataSchema)
}

func (p *Producer) DoPutCommandStatementUpdate(ctx context.Context, cmd flightsql.StatementUpdate) (int64, error) {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return 0, err
	}
	h, err := ParseCallHeaders(ctx, p.cfg.FetchSize)
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, err.Error())
	}
	queriesTotal.WithLabelValues("update").Inc()

	// The engine's AST bridge only serializes SELECT statements. DML runs
	// as-is for trusted callers; restricted mode has no policy objects for
	// writes, so the rewrite failure stands as the denial.
	sql := cmd.GetQuery()
	if p.cfg.AccessMode == AccessModeRestricted {
		var err error
		_, sql, err = p.rewrite(ctx, identity, h, cmd.GetQuery())
		if err != nil {
			return 0, err
		}
	}
	res, err := p.pool.ExecContext(ctx, sql)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "failed to execute update: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

func (p *Producer) CancelFlightInfo(ctx context.Context, request *flight.CancelFlightInfoRequest) (flight.CancelFlightInfoResult, error) {
	result := flight.CancelFlightInfoResult{Status: flight.CancelStatusUnspecified}
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return result, err
	}
	info := request.GetInfo()
	if info == nil || len(info.AppMetadata) == 0 {
		return result, status.Error(codes.InvalidArgument, "flight info carries no query handle")
	}
	id, err := uuid.Parse(string(info.AppMetadata))
	if err != nil {
		return result, status.Error(codes.InvalidArgument, "malformed query handle")
	}
	if _, err := p.registry.Get(id, identity.User); err != nil {
		if errors.Is(err, handles.ErrNotFound) {
			// Cancel after disposal is a no-op by contract.
			result.Status = flight.CancelStatusNotCancellable
			return result, nil
		}
		return result, statusFromError(err)
	}
	p.registry.Cancel(id)
	result.Status = flight.CancelStatusCancelled
	return result, nil
}

// Metadata RPCs are answered by running metadata SQL against the engine and
// streaming the result like any other statement.

const (
	catalogsSQL = "select distinct(database_name) as TABLE_CAT from duckdb_columns() order by database_name"
	schemasSQL  = "select distinct database_name as TABLE_CATALOG, schema_name as TABLE_SCHEM from duckdb_columns()"
	tablesSQL   = "select database_name as TABLE_CAT, schema_name as TABLE_SCHEM, table_name as TABLE_NAME, 'BASE TABLE' as TABLE_TYPE from duckdb_tables()"
)

// metadataFlightInfo registers a query handle for a metadata statement and
// wraps it in a single-endpoint FlightInfo.
func (p *Producer) metadataFlightInfo(ctx context.Context, kind string, sql string, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	identity, err := p.auth.IdentityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	h, err := ParseCallHeaders(ctx, p.cfg.FetchSize)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	queriesTotal.WithLabelValues(kind).Inc()

	serializedSchema := p.serializedSchemaFor(ctx, sql, CallHeaders{})
	entry := p.registry.Insert(handles.Query, identity.User, sql, serializedSchema)
	ticket, err := encodeTicket(ticketPayload{
		Kind:      ticketStatement,
		QueryID:   entry.ID.String(),
		SQL:       sql,
		FetchSize: h.FetchSize,
	})
	if err != nil {
		p.registry.Remove(entry.ID)
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &flight.FlightInfo{
		Schema:           serializedSchema,
		FlightDescriptor: desc,
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: ticket},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
		AppMetadata:  []byte(entry.ID.String()),
	}, nil
}

func (p *Producer) GetFlightInfoCatalogs(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	return p.metadataFlightInfo(ctx, "catalogs", catalogsSQL, desc)
}

func (p *Producer) GetFlightInfoSchemas(ctx context.Context, cmd flightsql.GetDBSchemas, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	sql := schemasSQL
	var clauses []string
	if catalog := cmd.GetCatalog(); catalog != nil && *catalog != "" {
		clauses = append(clauses, fmt.Sprintf("database_name = %s", quoteLiteral(*catalog)))
	}
	if pattern := cmd.GetDBSchemaFilterPattern(); pattern != nil && *pattern != "" {
		clauses = append(clauses, fmt.Sprintf("schema_name LIKE %s", quoteLiteral(*pattern)))
	}
	sql = appendWhere(sql, clauses) + " order by TABLE_CATALOG, TABLE_SCHEM"
	return p.metadataFlightInfo(ctx, "schemas", sql, desc)
}

func (p *Producer) GetFlightInfoTables(ctx context.Context, cmd flightsql.GetTables, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	sql := tablesSQL
	var clauses []string
	if catalog := cmd.GetCatalog(); catalog != nil && *catalog != "" {
		clauses = append(clauses, fmt.Sprintf("database_name = %s", quoteLiteral(*catalog)))
	}
	if pattern := cmd.GetDBSchemaFilterPattern(); pattern != nil && *pattern != "" {
		clauses = append(clauses, fmt.Sprintf("schema_name LIKE %s", quoteLiteral(*pattern)))
	}
	if pattern := cmd.GetTableNameFilterPattern(); pattern != nil && *pattern != "" {
		clauses = append(clauses, fmt.Sprintf("table_name LIKE %s", quoteLiteral(*pattern)))
	}
	sql = appendWhere(sql, clauses) + " order by TABLE_CAT, TABLE_SCHEM, TABLE_NAME"
	return p.metadataFlightInfo(ctx, "tables", sql, desc)
}

func appendWhere(sql string, clauses []string) string {
	for i, c := range clauses {
		if i == 0 {
			sql += " where " + c
		} else {
			sql += " and " + c
		}
	}
	return sql
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
