// Package store provides the relational store the data protection subsystem
// reads snapshots from, restores into and keeps its catalog in.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"dataguard/internal/collections"
)

// Record is an opaque row keyed by its collection's primary key.
type Record = map[string]any

// Reader is the read side used while assembling a snapshot.
type Reader interface {
	SelectAll(ctx context.Context, collection string) ([]Record, error)
	SelectModifiedSince(ctx context.Context, collection string, since time.Time) ([]Record, error)
}

// RelationalStore is the client-side view of the relational database. Every
// write is a single-row statement; no multi-row call is atomic unless a
// capability interface says so.
type RelationalStore interface {
	Reader
	SelectWhere(ctx context.Context, collection string, where Predicate) ([]Record, error)
	Upsert(ctx context.Context, collection string, record Record) error
	DeleteWhere(ctx context.Context, collection string, where Predicate) (int64, error)
	Count(ctx context.Context, collection string, where Predicate) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Snapshotter is implemented by stores that can run the read phase of a
// backup inside one consistent read-only transaction.
type Snapshotter interface {
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error
}

// Execer is implemented by stores that can run raw migration statements.
// Statements run in order inside one transaction where the database allows
// it; DDL on MySQL commits implicitly.
type Execer interface {
	ExecStatements(ctx context.Context, statements []string) error
}

// Op is a comparison operator in a Condition
type Op string

const (
	OpEq  Op = "="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Condition compares one column with a value.
type Condition struct {
	Column string
	Op     Op
	Value  any
}

// Predicate is a conjunction of conditions. An empty predicate matches all rows.
type Predicate []Condition

// Where builds a Predicate.
func Where(conds ...Condition) Predicate {
	return Predicate(conds)
}

// Eq matches column = value.
func Eq(column string, value any) Condition { return Condition{Column: column, Op: OpEq, Value: value} }

// Lt matches column < value.
func Lt(column string, value any) Condition { return Condition{Column: column, Op: OpLt, Value: value} }

// Gt matches column > value.
func Gt(column string, value any) Condition { return Condition{Column: column, Op: OpGt, Value: value} }

// Validate rejects unknown operators and unsafe column names.
func (p Predicate) Validate() error {
	for _, c := range p {
		if !collections.ValidIdentifier(c.Column) {
			return fmt.Errorf("invalid column name %q", c.Column)
		}
		switch c.Op {
		case OpEq, OpLt, OpLte, OpGt, OpGte:
		default:
			return fmt.Errorf("unsupported operator %q", c.Op)
		}
	}
	return nil
}

// Match evaluates the predicate against an in-memory record. A missing column
// never matches.
func (p Predicate) Match(r Record) (bool, error) {
	for _, c := range p {
		v, ok := r[c.Column]
		if !ok || v == nil {
			return false, nil
		}
		cmp, err := compareValues(v, c.Value)
		if err != nil {
			return false, fmt.Errorf("column %s: %w", c.Column, err)
		}
		var hit bool
		switch c.Op {
		case OpEq:
			hit = cmp == 0
		case OpLt:
			hit = cmp < 0
		case OpLte:
			hit = cmp <= 0
		case OpGt:
			hit = cmp > 0
		case OpGte:
			hit = cmp >= 0
		}
		if !hit {
			return false, nil
		}
	}
	return true, nil
}

// compareValues orders two scalar values. Times compare with times or RFC3339
// strings, numbers with numbers, everything else by string form.
func compareValues(a, b any) (int, error) {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb), nil
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1, nil
			case fa > fb:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare bool with %T", b)
		}
		if ba == bb {
			return 0, nil
		}
		return 1, nil
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), nil
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// PrimaryKey extracts the primary key value of r for c, rejecting records
// without one.
func PrimaryKey(c collections.Collection, r Record) (any, error) {
	v, ok := r[c.PrimaryKey]
	if !ok || v == nil {
		return nil, fmt.Errorf("record in %s has no %s", c.Name, c.PrimaryKey)
	}
	if s, ok := v.(string); ok && s == "" {
		return nil, fmt.Errorf("record in %s has an empty %s", c.Name, c.PrimaryKey)
	}
	return v, nil
}

// KeyString renders a primary key for map lookups. json.Number("7"),
// int64(7) and "7" all collapse to "7".
func KeyString(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case json.Number:
		return k.String()
	case float64:
		if k == float64(int64(k)) {
			return fmt.Sprintf("%d", int64(k))
		}
	}
	return fmt.Sprint(v)
}
