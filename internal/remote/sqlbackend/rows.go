package sqlbackend

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"sonar/internal/remote"
)

var reIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func ident(s string) (string, error) {
	if !reIdent.MatchString(s) {
		return "", fmt.Errorf("invalid identifier %q", s)
	}
	return s, nil
}

func whereClause(preds []remote.Predicate) (string, []any, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(preds))
	args := make([]any, 0, len(preds))
	for _, p := range preds {
		col, err := ident(p.Column)
		if err != nil {
			return "", nil, err
		}
		switch p.Op {
		case remote.OpEq:
			parts = append(parts, col+" = ?")
		case remote.OpILike:
			parts = append(parts, "LOWER("+col+") LIKE LOWER(?)")
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", p.Op)
		}
		args = append(args, p.Value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func (b *Backend) Select(ctx context.Context, q remote.Query, dest any) (int, error) {
	table, err := ident(q.Table)
	if err != nil {
		return 0, err
	}
	cols := "*"
	if len(q.Columns) > 0 {
		names := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			if names[i], err = ident(c); err != nil {
				return 0, err
			}
		}
		cols = strings.Join(names, ", ")
	}
	where, args, err := whereClause(q.Where)
	if err != nil {
		return 0, err
	}

	query := "SELECT " + cols + " FROM " + table + where
	if len(q.Order) > 0 {
		terms := make([]string, len(q.Order))
		for i, o := range q.Order {
			col, err := ident(o.Column)
			if err != nil {
				return 0, err
			}
			dir := "DESC"
			if o.Ascending {
				dir = "ASC"
			}
			terms[i] = col + " " + dir
		}
		query += " ORDER BY " + strings.Join(terms, ", ")
	}
	pageArgs := args
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		pageArgs = append(append([]any{}, args...), q.Limit, q.Offset)
	}

	if err := b.db.SelectContext(ctx, dest, query, pageArgs...); err != nil {
		return 0, fmt.Errorf("select %s: %w", table, err)
	}
	if !q.Count {
		return 0, nil
	}
	var n int
	if err := b.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table+where, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func sortedColumns(values map[string]any) ([]string, []any, error) {
	cols := make([]string, 0, len(values))
	for c := range values {
		if _, err := ident(c); err != nil {
			return nil, nil, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	return cols, args, nil
}

func (b *Backend) Insert(ctx context.Context, table string, values map[string]any, dest any) error {
	table, err := ident(table)
	if err != nil {
		return err
	}
	cols, args, err := sortedColumns(values)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("insert %s: no values", table)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	res, err := b.db.ExecContext(ctx,
		"INSERT INTO "+table+" ("+strings.Join(cols, ", ")+") VALUES ("+marks+")", args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if dest == nil {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if err := b.db.GetContext(ctx, dest, "SELECT * FROM "+table+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("insert %s: read back: %w", table, err)
	}
	return nil
}

func (b *Backend) Update(ctx context.Context, table string, values map[string]any, where []remote.Predicate, dest any) (int, error) {
	table, err := ident(table)
	if err != nil {
		return 0, err
	}
	cols, args, err := sortedColumns(values)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("update %s: no values", table)
	}
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = c + " = ?"
	}
	w, wargs, err := whereClause(where)
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, "UPDATE "+table+" SET "+strings.Join(set, ", ")+w, append(args, wargs...)...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	if dest != nil && n > 0 {
		if err := b.db.SelectContext(ctx, dest, "SELECT * FROM "+table+w, wargs...); err != nil {
			return int(n), fmt.Errorf("update %s: read back: %w", table, err)
		}
	}
	return int(n), nil
}
