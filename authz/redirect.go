package authz

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tealflight/tealflight/sqlast"
)

// ResolveResponse is the document returned by the remote resolve endpoint:
// the full set of tables and functions the bearer may access.
type ResolveResponse struct {
	Tables    []AccessRow `json:"tables"`
	Functions []AccessRow `json:"functions"`
	Version   string      `json:"version"`
}

// Redirect authorizes callers whose token carries token_type=redirect by
// fetching their access rows from a resolve endpoint on every decision,
// forwarding the original bearer. Any transport failure or non-200 response
// denies the request; the network is never allowed to fail open.
type Redirect struct {
	resolveURL string
	client     *http.Client
	parser     Parser
	inspect    HiveInspectFunc
}

// ResolveURLFromLogin derives the resolve endpoint from the configured login
// URL by replacing a trailing /login segment.
func ResolveURLFromLogin(loginURL string) string {
	if loginURL == "" {
		return ""
	}
	if rest, ok := strings.CutSuffix(loginURL, "/login"); ok {
		return rest + "/resolve"
	}
	return loginURL + "/resolve"
}

func NewRedirect(loginURL string, parser Parser, inspect HiveInspectFunc) *Redirect {
	return &Redirect{
		resolveURL: ResolveURLFromLogin(loginURL),
		client:     &http.Client{Timeout: 30 * time.Second},
		parser:     parser,
		inspect:    inspect,
	}
}

func (r *Redirect) Authorize(ctx context.Context, identity Identity, database, schema string, doc sqlast.Node) (sqlast.Node, error) {
	bearer := identity.Claims[ClaimBearerToken]
	if bearer == "" {
		return nil, unauthorizedf("no bearer token available for redirect authorization")
	}
	resp, err := r.resolve(ctx, bearer)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	find := func(ref sqlast.CatalogSchemaTable) *AccessRow {
		candidates := resp.Tables
		if ref.Type == sqlast.TableFunction {
			candidates = resp.Functions
		}
		for i := range candidates {
			row := &candidates[i]
			if row.expired(now) {
				continue
			}
			if row.matches(ref) {
				return row
			}
		}
		return nil
	}
	return applyPolicy(ctx, r.parser, r.inspect, identity, database, schema, doc, find)
}

func (r *Redirect) resolve(ctx context.Context, bearer string) (*ResolveResponse, error) {
	if r.resolveURL == "" {
		return nil, unauthorizedf("redirect authorization requested but login_url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.resolveURL, nil)
	if err != nil {
		return nil, unauthorizedf("resolve request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, unauthorizedf("resolve endpoint unreachable: %v", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, unauthorizedf("resolve endpoint returned status %d", resp.StatusCode)
	}
	var out ResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, unauthorizedf("resolve response: %v", err)
	}
	return &out, nil
}

// ErrIsUnauthorized reports whether err is a policy denial (as opposed to an
// internal failure). Callers map denials to PERMISSION_DENIED.
func ErrIsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}
