// Package sql checks the probe statement issued by the query worker.
package sql

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ErrInvalidProbe is returned for a probe that is not a single read-only SELECT.
var ErrInvalidProbe = errors.New("invalid probe query")

// Probe is a validated probe statement.
type Probe struct {
	Query       string
	Normalized  string
	Fingerprint string
}

// ParseProbe parses query with the PostgreSQL parser and accepts it only when it is
// exactly one SELECT returning a single column, with no INTO, no row locking and no
// data-modifying CTE. The worker scans the probe row into one destination.
func ParseProbe(query string) (*Probe, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty statement", ErrInvalidProbe)
	}

	result, err := pg_query.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProbe, err)
	}
	if len(result.Stmts) != 1 {
		return nil, fmt.Errorf("%w: expected one statement, got %d", ErrInvalidProbe, len(result.Stmts))
	}

	sel := result.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil {
		return nil, fmt.Errorf("%w: only SELECT is allowed", ErrInvalidProbe)
	}
	if err := checkReadOnly(sel); err != nil {
		return nil, err
	}
	if err := checkSingleColumn(sel); err != nil {
		return nil, err
	}

	normalized, err := pg_query.Normalize(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProbe, err)
	}
	fingerprint, err := pg_query.Fingerprint(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProbe, err)
	}

	return &Probe{Query: query, Normalized: normalized, Fingerprint: fingerprint}, nil
}

// ValidateProbe reports whether query is acceptable as a probe.
func ValidateProbe(query string) error {
	_, err := ParseProbe(query)
	return err
}

func checkReadOnly(sel *pg_query.SelectStmt) error {
	if sel.GetIntoClause() != nil {
		return fmt.Errorf("%w: SELECT INTO creates a table", ErrInvalidProbe)
	}
	if len(sel.GetLockingClause()) > 0 {
		return fmt.Errorf("%w: row locking clause is not allowed", ErrInvalidProbe)
	}

	// UNION and friends keep their arms in Larg/Rarg.
	for _, arm := range []*pg_query.SelectStmt{sel.GetLarg(), sel.GetRarg()} {
		if arm != nil {
			if err := checkReadOnly(arm); err != nil {
				return err
			}
		}
	}

	if with := sel.GetWithClause(); with != nil {
		for _, node := range with.GetCtes() {
			cte := node.GetCommonTableExpr()
			if cte == nil {
				continue
			}
			inner := cte.GetCtequery().GetSelectStmt()
			if inner == nil {
				return fmt.Errorf("%w: data-modifying WITH %q", ErrInvalidProbe, cte.GetCtename())
			}
			if err := checkReadOnly(inner); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkSingleColumn requires one output column. Set operations are checked arm by arm, and
// a star is rejected since its width depends on the relation.
func checkSingleColumn(sel *pg_query.SelectStmt) error {
	if sel.GetOp() != pg_query.SetOperation_SETOP_NONE {
		for _, arm := range []*pg_query.SelectStmt{sel.GetLarg(), sel.GetRarg()} {
			if arm == nil {
				return fmt.Errorf("%w: incomplete set operation", ErrInvalidProbe)
			}
			if err := checkSingleColumn(arm); err != nil {
				return err
			}
		}
		return nil
	}

	targets := sel.GetTargetList()
	if len(targets) != 1 {
		return fmt.Errorf("%w: must return exactly one column, got %d", ErrInvalidProbe, len(targets))
	}
	if ref := targets[0].GetResTarget().GetVal().GetColumnRef(); ref != nil {
		for _, field := range ref.GetFields() {
			if field.GetAStar() != nil {
				return fmt.Errorf("%w: * may expand to several columns", ErrInvalidProbe)
			}
		}
	}
	return nil
}
