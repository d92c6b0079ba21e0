// REST client for the hosted backend's table API
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/cadenza/internal/backend"
	"github.com/desertthunder/cadenza/internal/shared"
)

// RESTOptions tunes a [RESTClient].
type RESTOptions struct {
	HTTPClient  *http.Client // base transport, defaults to [http.DefaultClient]
	AccessToken string       // user token, defaults to the API key
	RateLimit   float64      // requests per second, zero for unlimited
	Timeout     time.Duration
	Logger      *log.Logger
}

// RESTClient implements [backend.Client] over the hosted backend's PostgREST-style API.
//
// Requests carry the project key in the apikey header and a bearer token supplied by an
// [oauth2.TokenSource].
type RESTClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewRESTClient creates a client for the backend at baseURL.
func NewRESTClient(baseURL, apiKey string, opts RESTOptions) *RESTClient {
	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}

	token := opts.AccessToken
	if token == "" {
		token = apiKey
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	client.Timeout = opts.Timeout

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}

	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: client,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     shared.WithLogger(logger, "component", "rest"),
	}
}

// Select runs q as a GET on the table endpoint.
func (c *RESTClient) Select(ctx context.Context, q *backend.Query) ([]backend.Row, error) {
	params := url.Values{}
	if len(q.Columns) > 0 {
		params.Set("select", strings.Join(q.Columns, ","))
	}
	encodeFilters(params, q.Filters)

	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		params.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	return c.do(ctx, http.MethodGet, q.Table, params, nil, "")
}

// Insert POSTs row and returns the stored representation.
func (c *RESTClient) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	rows, err := c.do(ctx, http.MethodPost, table, nil, row, "return=representation")
	if err != nil {
		return nil, err
	}
	return first(rows)
}

// Upsert POSTs row with merge-duplicates resolution on the onConflict columns.
func (c *RESTClient) Upsert(ctx context.Context, table string, row backend.Row, onConflict []string) (backend.Row, error) {
	params := url.Values{}
	params.Set("on_conflict", strings.Join(onConflict, ","))

	rows, err := c.do(ctx, http.MethodPost, table, params, row, "resolution=merge-duplicates,return=representation")
	if err != nil {
		return nil, err
	}
	return first(rows)
}

// Update PATCHes every row matching filters and returns how many changed.
func (c *RESTClient) Update(ctx context.Context, table string, values backend.Row, filters ...backend.Filter) (int, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: update without filters", shared.ErrInvalidInput)
	}

	params := url.Values{}
	encodeFilters(params, filters)

	rows, err := c.do(ctx, http.MethodPatch, table, params, values, "return=representation")
	return len(rows), err
}

// Delete removes every row matching filters and returns how many were removed.
func (c *RESTClient) Delete(ctx context.Context, table string, filters ...backend.Filter) (int, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: delete without filters", shared.ErrInvalidInput)
	}

	params := url.Values{}
	encodeFilters(params, filters)

	rows, err := c.do(ctx, http.MethodDelete, table, params, nil, "return=representation")
	return len(rows), err
}

func (c *RESTClient) do(ctx context.Context, method, table string, params url.Values, body backend.Row, prefer string) ([]backend.Row, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fullURL := c.baseURL + "/rest/v1/" + url.PathEscape(table)
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(encodeRow(body))
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", shared.ErrBackendUnavailable, method, table, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrBackendUnavailable, err)
	}

	c.logger.Debug("backend request", "method", method, "table", table, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode >= 300 {
		return nil, decodeError(resp.StatusCode, data)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var rows []backend.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return rows, nil
}

func decodeError(status int, data []byte) error {
	be := &backend.Error{Status: status}
	if err := json.Unmarshal(data, be); err != nil || (be.Code == "" && be.Message == "") {
		be.Message = strings.TrimSpace(string(data))
		if be.Message == "" {
			be.Message = http.StatusText(status)
		}
	}
	return be
}

func first(rows []backend.Row) (backend.Row, error) {
	if len(rows) == 0 {
		return nil, &backend.Error{Code: backend.CodeNoRows, Message: "no rows returned"}
	}
	return rows[0], nil
}

func encodeFilters(params url.Values, filters []backend.Filter) {
	for _, f := range filters {
		switch f.Op {
		case backend.OpIsNull:
			params.Add(f.Column, "is.null")
		case backend.OpIn:
			values, _ := f.Value.([]any)
			parts := make([]string, len(values))
			for i, v := range values {
				parts[i] = quoteValue(formatValue(v))
			}
			params.Add(f.Column, "in.("+strings.Join(parts, ",")+")")
		default:
			v := encodeValue(f.Value)
			if v == nil {
				params.Add(f.Column, "is.null")
				continue
			}
			params.Add(f.Column, string(f.Op)+"."+formatValue(v))
		}
	}
}

func encodeRow(row backend.Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return shared.FormatTimestamp(t)
	case *string:
		if t == nil {
			return nil
		}
		return *t
	}
	return v
}

func formatValue(v any) string {
	switch t := encodeValue(v).(type) {
	case string:
		return t
	case nil:
		return "null"
	default:
		return fmt.Sprint(t)
	}
}

// quoteValue wraps list members that contain PostgREST reserved characters in double quotes.
func quoteValue(s string) string {
	if !strings.ContainsAny(s, `,()".\ `) {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
