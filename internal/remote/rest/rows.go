package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"sonar/internal/remote"
)

func filterValue(p remote.Predicate) (string, error) {
	v := fmt.Sprint(p.Value)
	switch p.Op {
	case remote.OpEq:
		return "eq." + v, nil
	case remote.OpILike:
		return "ilike." + v, nil
	}
	return "", fmt.Errorf("rest: unsupported operator %q", p.Op)
}

func encodeWhere(vals url.Values, where []remote.Predicate) error {
	for _, p := range where {
		f, err := filterValue(p)
		if err != nil {
			return err
		}
		vals.Add(p.Column, f)
	}
	return nil
}

func tablePath(table string, vals url.Values) string {
	p := "/rest/v1/" + url.PathEscape(table)
	if q := vals.Encode(); q != "" {
		p += "?" + q
	}
	return p
}

func (c *Client) Select(ctx context.Context, q remote.Query, dest any) (int, error) {
	vals := url.Values{}
	sel := "*"
	if len(q.Columns) > 0 {
		sel = strings.Join(q.Columns, ",")
	}
	vals.Set("select", sel)
	if err := encodeWhere(vals, q.Where); err != nil {
		return 0, err
	}
	if len(q.Order) > 0 {
		terms := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "desc"
			if o.Ascending {
				dir = "asc"
			}
			terms[i] = o.Column + "." + dir
		}
		vals.Set("order", strings.Join(terms, ","))
	}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
		vals.Set("offset", strconv.Itoa(q.Offset))
	}

	r := request{method: fiber.MethodGet, path: tablePath(q.Table, vals)}
	if q.Count {
		r.headers = map[string]string{"Prefer": "count=exact"}
	}
	resp, err := c.do(ctx, r)
	if err != nil {
		return 0, err
	}
	if err := decodeStrict(resp.body, dest); err != nil {
		return 0, fmt.Errorf("rest: decode %s: %w", q.Table, err)
	}
	if !q.Count {
		return 0, nil
	}
	return parseContentRange(resp.contentRange)
}

// parseContentRange reads the total from "0-9/42" or "*/0".
func parseContentRange(h string) (int, error) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || h[i+1:] == "*" {
		return 0, fmt.Errorf("rest: no exact count in content-range %q", h)
	}
	n, err := strconv.Atoi(h[i+1:])
	if err != nil {
		return 0, fmt.Errorf("rest: content-range %q: %w", h, err)
	}
	return n, nil
}

var representation = map[string]string{"Prefer": "return=representation"}

func (c *Client) Insert(ctx context.Context, table string, values map[string]any, dest any) error {
	resp, err := c.do(ctx, request{
		method:  fiber.MethodPost,
		path:    tablePath(table, nil),
		headers: representation,
		json:    values,
	})
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return fmt.Errorf("rest: decode %s: %w", table, err)
	}
	if len(rows) == 0 {
		return errors.New("rest: insert returned no row")
	}
	if err := decodeStrict(rows[0], dest); err != nil {
		return fmt.Errorf("rest: decode %s: %w", table, err)
	}
	return nil
}

func (c *Client) Update(ctx context.Context, table string, values map[string]any, where []remote.Predicate, dest any) (int, error) {
	vals := url.Values{}
	if err := encodeWhere(vals, where); err != nil {
		return 0, err
	}
	resp, err := c.do(ctx, request{
		method:  fiber.MethodPatch,
		path:    tablePath(table, vals),
		headers: representation,
		json:    values,
	})
	if err != nil {
		return 0, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return 0, fmt.Errorf("rest: decode %s: %w", table, err)
	}
	if dest != nil && len(rows) > 0 {
		if err := decodeStrict(resp.body, dest); err != nil {
			return len(rows), fmt.Errorf("rest: decode %s: %w", table, err)
		}
	}
	return len(rows), nil
}
