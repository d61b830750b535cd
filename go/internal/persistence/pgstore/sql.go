package pgstore

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mcdev12/classroom/go/internal/persistence"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ErrBadIdentifier is returned for table or column names that are not plain
// lower-case identifiers. Identifiers are interpolated, never parameterised.
var ErrBadIdentifier = errors.New("invalid identifier")

var comparisonOps = map[persistence.Op]string{
	persistence.OpEq:  "=",
	persistence.OpNeq: "<>",
	persistence.OpGt:  ">",
	persistence.OpGte: ">=",
	persistence.OpLt:  "<",
	persistence.OpLte: "<=",
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%q: %w", name, ErrBadIdentifier)
	}
	return nil
}

func checkTable(table persistence.Table) error {
	if !table.Valid() {
		return fmt.Errorf("unknown table %q", table)
	}
	return nil
}

// whereClause renders filters as "WHERE ..." with placeholders starting at $start.
func whereClause(filters []persistence.Filter, start int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	conds := make([]string, 0, len(filters))
	var args []any
	n := start
	for _, f := range filters {
		if err := checkIdent(f.Field); err != nil {
			return "", nil, err
		}
		if f.Op == persistence.OpIs {
			switch f.Value {
			case nil:
				conds = append(conds, "t."+f.Field+" IS NULL")
			case true:
				conds = append(conds, "t."+f.Field+" IS TRUE")
			case false:
				conds = append(conds, "t."+f.Field+" IS FALSE")
			default:
				return "", nil, fmt.Errorf("is filter on %s needs null or a bool, got %v", f.Field, f.Value)
			}
			continue
		}
		op, ok := comparisonOps[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
		conds = append(conds, fmt.Sprintf("t.%s %s $%d", f.Field, op, n))
		args = append(args, f.Value)
		n++
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func buildSelect(table persistence.Table, q persistence.Query) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	where, args, err := whereClause(q.Filters, 1)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT to_jsonb(t) FROM %s t", table)
	if where != "" {
		b.WriteString(" " + where)
	}
	if q.Order != nil {
		if err := checkIdent(q.Order.Field); err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if q.Order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY t.%s %s", q.Order.Field, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

// sortedColumns returns the record's keys in a stable order.
func sortedColumns(fields persistence.Record) ([]string, error) {
	cols := make([]string, 0, len(fields))
	for k := range fields {
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

func buildInsert(table persistence.Table, fields persistence.Record) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	cols, err := sortedColumns(fields)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s AS t DEFAULT VALUES RETURNING to_jsonb(t)", table), nil, nil
	}
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = fields[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) RETURNING to_jsonb(t)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return sql, args, nil
}

func buildUpdate(table persistence.Table, id string, fields persistence.Record, preconditions []persistence.Filter) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	cols, err := sortedColumns(fields)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("update %s %s: no fields", table, id)
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1+len(preconditions))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
		args = append(args, fields[c])
	}
	filters := append([]persistence.Filter{persistence.Eq("id", id)}, preconditions...)
	where, whereArgs, err := whereClause(filters, len(cols)+1)
	if err != nil {
		return "", nil, err
	}
	args = append(args, whereArgs...)
	sql := fmt.Sprintf("UPDATE %s AS t SET %s %s RETURNING to_jsonb(t)", table, strings.Join(sets, ", "), where)
	return sql, args, nil
}

func buildDelete(table persistence.Table, filters []persistence.Filter) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	if len(filters) == 0 {
		return "", nil, persistence.ErrUnfilteredDelete
	}
	where, args, err := whereClause(filters, 1)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s AS t %s", table, where), args, nil
}
