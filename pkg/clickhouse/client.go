// Package clickhouse talks to the ClickHouse HTTP interface: CSV inserts,
// last-export lookups and mutations.
package clickhouse

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/openedx/event-sink-clickhouse/pkg/compression"
	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/errors"
	"github.com/openedx/event-sink-clickhouse/pkg/metrics"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
)

// Request kinds used for metrics labels
const (
	KindInsert = "insert"
	KindSelect = "select"
	KindDelete = "delete"
)

// Request is a single call to the HTTP interface.
type Request struct {
	Method string
	// Kind labels the request in metrics and logs
	Kind string
	// Params are sent as the query string; the statement goes in "query"
	Params url.Values
	Body   []byte
	// ExpectedRows, when set, is compared with written_rows in the summary header
	ExpectedRows *int
	// Table is used for logging and metrics
	Table string
}

// Response is a successful answer from ClickHouse.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Summary    *Summary
}

// Client sends requests to one ClickHouse server.
type Client struct {
	cfg        config.ClickHouseConfig
	transport  config.TransportConfig
	httpClient *http.Client
	compressor compression.Compressor
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithTransport sets bulk insert parameters, compression and HTTP/2
func WithTransport(t config.TransportConfig) Option {
	return func(cl *Client) { cl.transport = t }
}

// NewClient creates a client for cfg.
func NewClient(cfg config.ClickHouseConfig, opts ...Option) (*Client, error) {
	c := &Client{
		cfg: cfg,
		transport: config.TransportConfig{
			AllowErrorsNum:   1,
			AllowErrorsRatio: 0.1,
			Compression:      string(compression.None),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "clickhouse_client"))

	comp, err := compression.NewCompressor(compression.Algorithm(c.transport.Compression))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid transport compression")
	}
	c.compressor = comp

	if c.httpClient == nil {
		c.httpClient = c.newHTTPClient()
	}
	return c, nil
}

func (c *Client) newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   c.cfg.Timeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if c.transport.HTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			c.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   c.cfg.Timeout(),
	}
}

// Config returns the connection parameters in use
func (c *Client) Config() config.ClickHouseConfig {
	return c.cfg
}

// Send performs one request. Non-2xx answers are logged with their headers and
// body and returned as errors; nothing is retried.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	httpResp, err := c.httpClient.Do(httpReq)
	metrics.RequestLatency.WithLabelValues(req.Kind).Observe(timer.Stop().Seconds())
	if err != nil {
		metrics.Requests.WithLabelValues(req.Kind, "error").Inc()
		c.logger.Error("clickhouse request failed",
			zap.String("kind", req.Kind),
			zap.String("table", req.Table),
			zap.Error(err))
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		metrics.Requests.WithLabelValues(req.Kind, "error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read clickhouse response")
	}
	metrics.Requests.WithLabelValues(req.Kind, strconv.Itoa(httpResp.StatusCode)).Inc()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		c.logger.Error("clickhouse returned an error",
			zap.String("kind", req.Kind),
			zap.String("table", req.Table),
			zap.Int("status", httpResp.StatusCode),
			zap.Any("headers", httpResp.Header),
			zap.ByteString("body", body))
		return nil, errors.Newf(errors.ErrorTypeQuery, "clickhouse returned %d: %s",
			httpResp.StatusCode, strings.TrimSpace(string(body))).
			WithDetail("status", httpResp.StatusCode)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}
	c.auditRowCount(req, resp)
	return resp, nil
}

// auditRowCount compares the rows ClickHouse reports as written with the rows
// sent. A mismatch is logged once and never fails the request.
func (c *Client) auditRowCount(req Request, resp *Response) {
	header := resp.Header.Get(SummaryHeader)
	if header == "" {
		return
	}
	summary, err := ParseSummary(header)
	if err != nil {
		c.logger.Warn("unreadable clickhouse summary header",
			zap.String("summary", header), zap.Error(err))
		return
	}
	resp.Summary = summary

	if req.ExpectedRows == nil {
		return
	}
	if written := int(summary.WrittenRows); written != *req.ExpectedRows {
		metrics.RowCountMismatches.WithLabelValues(req.Table).Inc()
		c.logger.Error(fmt.Sprintf("clickhouse wrote %d rows, expected %d", written, *req.ExpectedRows),
			zap.String("table", req.Table),
			zap.Int("expected_rows", *req.ExpectedRows),
			zap.Int("written_rows", written))
	}
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid clickhouse url")
	}
	params := url.Values{}
	for k, v := range req.Params {
		params[k] = v
	}

	body := req.Body
	encoding := ""
	if len(body) > 0 && c.compressor.ContentEncoding() != "" {
		body, err = c.compressor.Compress(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to compress request body")
		}
		encoding = c.compressor.ContentEncoding()
	}
	endpoint.RawQuery = encodeParams(params)

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build clickhouse request")
	}
	httpReq.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	if encoding != "" {
		httpReq.Header.Set("Content-Encoding", encoding)
	}
	return httpReq, nil
}

// encodeParams is url.Values.Encode with "query" last, which keeps settings
// ahead of the statement in server logs.
func encodeParams(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "query" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := params["query"]; ok {
		keys = append(keys, "query")
	}

	var b strings.Builder
	for _, k := range keys {
		for _, v := range params[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "clickhouse request timed out")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "clickhouse request failed")
}

func (c *Client) qualified(table string) string {
	return c.cfg.Database + "." + table
}

// Insert writes rows to table as CSV. An empty row set sends nothing.
func (c *Client) Insert(ctx context.Context, table string, rows []*models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	params := url.Values{}
	params.Set("input_format_allow_errors_num", strconv.Itoa(c.transport.AllowErrorsNum))
	params.Set("input_format_allow_errors_ratio", strconv.FormatFloat(c.transport.AllowErrorsRatio, 'f', -1, 64))
	params.Set("query", fmt.Sprintf("INSERT INTO %s FORMAT CSV", c.qualified(table)))
	if c.compressor.ContentEncoding() != "" {
		params.Set("enable_http_compression", "1")
	}

	expected := len(rows)
	_, err := c.Send(ctx, Request{
		Method:       http.MethodPost,
		Kind:         KindInsert,
		Table:        table,
		Params:       params,
		Body:         EncodeCSV(rows),
		ExpectedRows: &expected,
	})
	if err != nil {
		return err
	}
	metrics.RowsSent.WithLabelValues(table).Add(float64(len(rows)))
	return nil
}

// LastDumpedTimestamp returns the newest timestampField stored for the record whose
// uniqueKey column equals value. ok is false when the record was never exported.
func (c *Client) LastDumpedTimestamp(ctx context.Context, table, timestampField, uniqueKey, value string) (time.Time, bool, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf(
		"SELECT max(%s) as time_last_dumped FROM %s WHERE %s = '%s'",
		timestampField, c.qualified(table), uniqueKey, escapeString(value)))

	resp, err := c.Send(ctx, Request{
		Method: http.MethodGet,
		Kind:   KindSelect,
		Table:  table,
		Params: params,
	})
	if err != nil {
		return time.Time{}, false, err
	}

	text := strings.TrimSpace(string(resp.Body))
	if text == "" {
		return time.Time{}, false, nil
	}
	ts, err := ParseTimestamp(text)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// DeleteWhereIn removes the rows of table whose column is one of values. The
// values are inlined as given, callers pass numeric identifiers. Mutations report
// no row count, so none is checked.
func (c *Client) DeleteWhereIn(ctx context.Context, table, column string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	params := url.Values{}
	params.Set("query", fmt.Sprintf("ALTER TABLE %s DELETE WHERE %s in (%s)",
		c.qualified(table), column, strings.Join(values, ",")))

	_, err := c.Send(ctx, Request{
		Method: http.MethodPost,
		Kind:   KindDelete,
		Table:  table,
		Params: params,
	})
	return err
}

func escapeString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
