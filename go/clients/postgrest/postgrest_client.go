// Package postgrest implements persistence.Client against a PostgREST (Supabase) endpoint.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/classroom/go/clients"
	"github.com/mcdev12/classroom/go/internal/persistence"
)

type PostgrestClient struct {
	*clients.BaseClient
}

var _ persistence.Client = (*PostgrestClient)(nil)

// NewPostgrestClient builds a client for projectURL (e.g. https://xyz.supabase.co)
// authenticated with the project's anon or service key.
func NewPostgrestClient(projectURL, apiKey string) *PostgrestClient {
	client := &PostgrestClient{
		BaseClient: clients.NewBaseClient(strings.TrimRight(projectURL, "/") + RestPath),
	}

	client.SetHeader(APIKeyHeader, apiKey)
	client.SetHeader(AuthorizationHeader, "Bearer "+apiKey)
	client.SetHeader(JsonHeader, JsonContentType)
	client.SetHeader(AcceptHeader, JsonContentType)
	client.SetHeader(PreferHeader, ReturnRepresentation)

	return client
}

func (c *PostgrestClient) List(ctx context.Context, table persistence.Table, q persistence.Query) ([]persistence.Record, error) {
	endpoint := string(table)
	if qs := EncodeQuery(q); qs != "" {
		endpoint += "?" + qs
	}
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	return decodeRecords(body)
}

func (c *PostgrestClient) Create(ctx context.Context, table persistence.Table, fields persistence.Record) (persistence.Record, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s record: %w", table, err)
	}
	body, err := c.Post(ctx, string(table), bytes.NewReader(payload))
	if err != nil {
		// PostgREST reports unique violations (23505) as 409.
		var statusErr *clients.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict {
			return nil, fmt.Errorf("failed to create %s: %w: %s", table, persistence.ErrConflict, statusErr.Body)
		}
		return nil, fmt.Errorf("failed to create %s: %w", table, err)
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("create %s returned no representation", table)
	}
	return records[0], nil
}

func (c *PostgrestClient) Update(ctx context.Context, table persistence.Table, id string, fields persistence.Record, preconditions ...persistence.Filter) (persistence.Record, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s patch: %w", table, err)
	}
	filters := append([]persistence.Filter{persistence.Eq("id", id)}, preconditions...)
	endpoint := string(table) + "?" + EncodeQuery(persistence.Where(filters...))

	body, err := c.Patch(ctx, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", table, id, err)
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, err
	}
	// PostgREST answers 200 with an empty array when the filters matched nothing.
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %s: %w", table, id, persistence.ErrNotFound)
	}
	return records[0], nil
}

func (c *PostgrestClient) Delete(ctx context.Context, table persistence.Table, filters ...persistence.Filter) error {
	if len(filters) == 0 {
		return persistence.ErrUnfilteredDelete
	}
	endpoint := string(table) + "?" + EncodeQuery(persistence.Where(filters...))
	if _, err := c.BaseClient.Delete(ctx, endpoint); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// EncodeQuery renders q in PostgREST's horizontal filtering syntax, keeping
// filter order stable: field=op.value&...&order=field.asc&limit=n.
func EncodeQuery(q persistence.Query) string {
	parts := make([]string, 0, len(q.Filters)+2)
	for _, f := range q.Filters {
		parts = append(parts, url.QueryEscape(f.Field)+"="+string(f.Op)+"."+url.QueryEscape(FormatValue(f.Value)))
	}
	if q.Order != nil {
		dir := "asc"
		if q.Order.Desc {
			dir = "desc"
		}
		parts = append(parts, orderParam+"="+url.QueryEscape(q.Order.Field)+"."+dir)
	}
	if q.Limit > 0 {
		parts = append(parts, limitParam+"="+strconv.Itoa(q.Limit))
	}
	return strings.Join(parts, "&")
}

// FormatValue renders a filter operand the way PostgREST expects it.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return "null"
		}
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func decodeRecords(body []byte) ([]persistence.Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var records []persistence.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return records, nil
}
