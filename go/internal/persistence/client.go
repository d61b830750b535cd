// Package persistence defines the generic CRUD boundary the game core talks to.
//
// Every backend (the PostgREST client, the direct Postgres store and the in-memory
// store) implements Client over the same five collections and the same small query
// surface: comparison filters, one ordering field and a row limit.
package persistence

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Update when no record matched the id and preconditions.
var ErrNotFound = errors.New("record not found")

// Table names a record collection.
type Table string

const (
	TableSessions      Table = "game_sessions"
	TableTeams         Table = "teams"
	TableQuestions     Table = "questions"
	TableAnswers       Table = "quiz_answers"
	TablePowerupEvents Table = "powerup_events"
)

// Tables lists every collection the core reads or writes.
var Tables = []Table{TableSessions, TableTeams, TableQuestions, TableAnswers, TablePowerupEvents}

// Valid reports whether t is one of the known collections.
func (t Table) Valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

// Record is one row as a field map. Values follow encoding/json conventions.
type Record map[string]any

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	// OpIs matches null, true or false.
	OpIs Op = "is"
)

// Filter is a single predicate on a field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func (f Filter) String() string {
	return fmt.Sprintf("%s=%s.%v", f.Field, f.Op, f.Value)
}

func Eq(field string, value any) Filter  { return Filter{Field: field, Op: OpEq, Value: value} }
func Neq(field string, value any) Filter { return Filter{Field: field, Op: OpNeq, Value: value} }
func Gt(field string, value any) Filter  { return Filter{Field: field, Op: OpGt, Value: value} }
func Gte(field string, value any) Filter { return Filter{Field: field, Op: OpGte, Value: value} }
func Lt(field string, value any) Filter  { return Filter{Field: field, Op: OpLt, Value: value} }
func Lte(field string, value any) Filter { return Filter{Field: field, Op: OpLte, Value: value} }

// IsNull matches records whose field is null or absent.
func IsNull(field string) Filter { return Filter{Field: field, Op: OpIs, Value: nil} }

// Order sorts results by one field.
type Order struct {
	Field string
	Desc  bool
}

// Query is the full read surface: filters joined by AND, an optional order and limit.
// A zero Limit means no limit.
type Query struct {
	Filters []Filter
	Order   *Order
	Limit   int
}

// Where returns a query with the given filters.
func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

// OrderBy returns a copy of q ordered by field ascending.
func (q Query) OrderBy(field string) Query {
	q.Order = &Order{Field: field}
	return q
}

// OrderByDesc returns a copy of q ordered by field descending.
func (q Query) OrderByDesc(field string) Query {
	q.Order = &Order{Field: field, Desc: true}
	return q
}

// WithLimit returns a copy of q capped at n rows.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Client is generic CRUD over the record collections.
type Client interface {
	// List returns the records matching q.
	List(ctx context.Context, table Table, q Query) ([]Record, error)
	// Create inserts fields and returns the stored record, including generated
	// id and created_at.
	Create(ctx context.Context, table Table, fields Record) (Record, error)
	// Update applies fields to the record with the given id, only if every
	// precondition also holds. It returns ErrNotFound when nothing matched.
	Update(ctx context.Context, table Table, id string, fields Record, preconditions ...Filter) (Record, error)
	// Delete removes every record matching filters. At least one filter is required.
	Delete(ctx context.Context, table Table, filters ...Filter) error
}

// ErrUnfilteredDelete is returned by Delete when called without filters.
var ErrUnfilteredDelete = errors.New("delete requires at least one filter")
