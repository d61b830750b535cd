package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Memory is an in-process Client. It backs tests and the offline agent mode.
//
// Values are normalised through encoding/json on the way in, so a record read
// back from Memory has the same shape it would have after a round trip through
// the REST backend.
type Memory struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	tables map[Table][]Record
	// unique lists, per table, field groups that must not repeat.
	unique map[Table][][]string
}

// NewMemory creates an empty store stamping created_at from clock.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:  clock,
		tables: make(map[Table][]Record),
		unique: map[Table][][]string{
			TableSessions: {{"session_code"}},
			TableTeams:    {{"session_id", "team_name"}},
			TableAnswers:  {{"question_id", "team_id"}},
		},
	}
}

// ErrConflict is returned when a create would violate a uniqueness rule.
var ErrConflict = errors.New("unique constraint violated")

func (m *Memory) List(ctx context.Context, table Table, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !table.Valid() {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	filters, err := normaliseFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	var out []Record
	for _, rec := range m.tables[table] {
		if matchesAll(rec, filters) {
			out = append(out, maps.Clone(rec))
		}
	}
	m.mu.Unlock()

	if q.Order != nil {
		field, desc := q.Order.Field, q.Order.Desc
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][field], out[j][field])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Create(ctx context.Context, table Table, fields Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !table.Valid() {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	rec, err := normaliseRecord(fields)
	if err != nil {
		return nil, err
	}
	if _, ok := rec["id"]; !ok {
		rec["id"] = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = m.clock.Now().UTC().Format(time.RFC3339Nano)
	}
	for _, group := range m.unique[table] {
		for _, existing := range m.tables[table] {
			if sameFields(existing, rec, group) {
				return nil, fmt.Errorf("%s %s: %w", table, strings.Join(group, ","), ErrConflict)
			}
		}
	}
	m.tables[table] = append(m.tables[table], rec)
	return maps.Clone(rec), nil
}

func (m *Memory) Update(ctx context.Context, table Table, id string, fields Record, preconditions ...Filter) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !table.Valid() {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	patch, err := normaliseRecord(fields)
	if err != nil {
		return nil, err
	}
	filters, err := normaliseFilters(append([]Filter{Eq("id", id)}, preconditions...))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, rec := range m.tables[table] {
		if !matchesAll(rec, filters) {
			continue
		}
		updated := maps.Clone(rec)
		maps.Copy(updated, patch)
		updated["id"] = rec["id"]
		m.tables[table][i] = updated
		return maps.Clone(updated), nil
	}
	return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
}

func (m *Memory) Delete(ctx context.Context, table Table, filters ...Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !table.Valid() {
		return fmt.Errorf("unknown table %q", table)
	}
	if len(filters) == 0 {
		return ErrUnfilteredDelete
	}
	normalised, err := normaliseFilters(filters)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.tables[table][:0]
	for _, rec := range m.tables[table] {
		if !matchesAll(rec, normalised) {
			kept = append(kept, rec)
		}
	}
	m.tables[table] = kept
	return nil
}

func normaliseRecord(fields Record) (Record, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var out Record
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if out == nil {
		out = Record{}
	}
	return out, nil
}

func normaliseFilters(filters []Filter) ([]Filter, error) {
	out := make([]Filter, len(filters))
	for i, f := range filters {
		raw, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode filter %s: %w", f.Field, err)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode filter %s: %w", f.Field, err)
		}
		out[i] = Filter{Field: f.Field, Op: f.Op, Value: v}
	}
	return out, nil
}

func matchesAll(rec Record, filters []Filter) bool {
	for _, f := range filters {
		if !matches(rec[f.Field], f) {
			return false
		}
	}
	return true
}

func matches(v any, f Filter) bool {
	switch f.Op {
	case OpIs:
		return v == f.Value
	case OpEq:
		return v != nil && compare(v, f.Value) == 0
	case OpNeq:
		return v != nil && compare(v, f.Value) != 0
	case OpGt:
		return v != nil && compare(v, f.Value) > 0
	case OpGte:
		return v != nil && compare(v, f.Value) >= 0
	case OpLt:
		return v != nil && compare(v, f.Value) < 0
	case OpLte:
		return v != nil && compare(v, f.Value) <= 0
	default:
		return false
	}
}

func sameFields(a, b Record, fields []string) bool {
	for _, f := range fields {
		if a[f] == nil || compare(a[f], b[f]) != 0 {
			return false
		}
	}
	return true
}

// compare orders two normalised values. Nulls sort first, numbers compare
// numerically, RFC 3339 strings compare as instants and everything else
// compares by its string form.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if af, ok := a.(float64); ok {
		if bf, ok := b.(float64); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			}
			return 1
		}
	}

	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return at.Compare(bt)
		}
	}
	return strings.Compare(as, bs)
}
