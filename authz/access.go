// Package authz decides whether an identity may run a query and rewrites the
// query tree so the engine only ever sees what the caller is allowed to read.
package authz

import (
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/tealflight/tealflight/sqlast"
)

// Identity is the authenticated caller of a single request.
type Identity struct {
	User   string
	Groups []string
	// Claims carries verified JWT claims, including the raw bearer token
	// under ClaimBearerToken for redirect authorization.
	Claims map[string]string
}

const (
	ClaimBearerToken = "bearer_token"
	ClaimTokenType   = "token_type"

	TokenTypeRedirect = "redirect"
)

// AccessRow is one policy rule: a principal (user or group) may read one
// object, optionally restricted to rows satisfying Filter.
type AccessRow struct {
	Principal    string   `yaml:"principal" json:"principal"`
	Database     string   `yaml:"database" json:"database"`
	Schema       string   `yaml:"schema" json:"schema"`
	TableOrPath  string   `yaml:"table-or-path" json:"tableOrPath"`
	Kind         string   `yaml:"type" json:"tableType"`
	Columns      []string `yaml:"columns" json:"columns"`
	Filter       string   `yaml:"filter" json:"filter"`
	FunctionName string   `yaml:"function" json:"functionName"`
	Expiration   string   `yaml:"expiration" json:"expiration"`
}

const (
	KindBaseTable     = "BASE_TABLE"
	KindTableFunction = "TABLE_FUNCTION"
)

// UnauthorizedError is returned for every policy denial.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return "unauthorized: " + e.Reason
}

func unauthorizedf(format string, args ...any) error {
	return &UnauthorizedError{Reason: fmt.Sprintf(format, args...)}
}

// expired reports whether the row's expiration date has passed. The value
// may be a full datetime; only the leading date is significant. Unparsable
// values count as not expired.
func (r AccessRow) expired(now time.Time) bool {
	if r.Expiration == "" {
		return false
	}
	datePart := r.Expiration
	if len(datePart) > 10 {
		datePart = datePart[:10]
	}
	exp, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		slog.Warn("Could not parse access row expiration, treating as not expired.", "expiration", r.Expiration)
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.After(exp)
}

// kindMatches reports whether the row applies to references of the given type.
func (r AccessRow) kindMatches(t sqlast.TableType) bool {
	switch r.Kind {
	case KindTableFunction:
		return t == sqlast.TableFunction
	case KindBaseTable, "":
		return t == sqlast.BaseTable
	default:
		return false
	}
}

// matches reports whether the row grants access to the reference.
func (r AccessRow) matches(ref sqlast.CatalogSchemaTable) bool {
	if !r.kindMatches(ref.Type) {
		return false
	}
	if ref.Type == sqlast.BaseTable {
		return r.Database == ref.Catalog &&
			r.Schema == ref.Schema &&
			tableNameMatch(r.TableOrPath, ref.TableOrPath)
	}
	if r.TableOrPath != "" && pathPrefixMatch(r.TableOrPath, ref.TableOrPath) {
		return true
	}
	return r.FunctionName != "" && r.FunctionName == ref.FunctionName
}

// tableNameMatch accepts exact names and trailing-* prefixes
// ("staging_*" grants every table with the staging_ prefix).
func tableNameMatch(granted, requested string) bool {
	if granted == requested {
		return true
	}
	if prefix, ok := strings.CutSuffix(granted, "*"); ok {
		return strings.HasPrefix(requested, prefix)
	}
	return false
}

// pathPrefixMatch reports whether the granted path covers the requested one.
// Paths are compared segment-wise; granted segments may contain globs, and a
// granted path that is a proper prefix of the requested path matches.
func pathPrefixMatch(granted, requested string) bool {
	if granted == "" || requested == "" {
		return false
	}
	gsegs := strings.Split(strings.Trim(granted, "/"), "/")
	rsegs := strings.Split(strings.Trim(requested, "/"), "/")
	if len(gsegs) > len(rsegs) {
		return false
	}
	for i, g := range gsegs {
		if g == rsegs[i] {
			continue
		}
		ok, err := path.Match(g, rsegs[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}
