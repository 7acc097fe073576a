// Package crm talks to the Close.io REST API.
package crm

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

	"github.com/aureeaubert/hull-closeio/internal/model"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one write; exactly one of Record and Err is set.
type Result struct {
	Record *model.Record
	Err    error
}

// Client is what the sync agent needs from the CRM. Post and Put return one
// Result per payload, in payload order.
type Client interface {
	Post(ctx context.Context, kind model.EntityKind, payloads []*model.Record) []Result
	Put(ctx context.Context, kind model.EntityKind, payloads []*model.Record) []Result
	ListLeadStatuses(ctx context.Context) ([]model.LeadStatus, error)
	ListCustomFields(ctx context.Context) ([]model.CustomField, error)
}

type HTTPClient struct {
	baseURL     string
	dispatch    *Dispatcher
	concurrency int
	pageSize    int
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string, dispatch *Dispatcher, concurrency int) *HTTPClient {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		dispatch:    dispatch,
		concurrency: concurrency,
		pageSize:    100,
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("closeio %s %s: status=%d %s", e.Method, e.Path, e.Status, e.Body)
}

func objectPath(kind model.EntityKind) string {
	return "/" + kind.External() + "/"
}

func (c *HTTPClient) Post(ctx context.Context, kind model.EntityKind, payloads []*model.Record) []Result {
	return c.each(ctx, payloads, func(ctx context.Context, p *model.Record) (*model.Record, error) {
		var out model.Record
		if err := c.call(ctx, http.MethodPost, objectPath(kind), p, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

func (c *HTTPClient) Put(ctx context.Context, kind model.EntityKind, payloads []*model.Record) []Result {
	return c.each(ctx, payloads, func(ctx context.Context, p *model.Record) (*model.Record, error) {
		id, ok := p.String("id")
		if !ok || id == "" {
			return nil, fmt.Errorf("closeio put %s: payload has no id", kind.External())
		}
		body := p.Clone()
		body.Delete("id")

		var out model.Record
		if err := c.call(ctx, http.MethodPut, objectPath(kind)+url.PathEscape(id)+"/", body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// each runs fn for every payload with bounded concurrency; a failing payload
// never cancels its siblings.
func (c *HTTPClient) each(ctx context.Context, payloads []*model.Record, fn func(context.Context, *model.Record) (*model.Record, error)) []Result {
	results := make([]Result, len(payloads))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, p := range payloads {
		g.Go(func() error {
			rec, err := fn(ctx, p)
			results[i] = Result{Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type page[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

func (c *HTTPClient) ListLeadStatuses(ctx context.Context) ([]model.LeadStatus, error) {
	return list[model.LeadStatus](ctx, c, "/status/lead/")
}

// ListCustomFields returns lead and contact custom fields in one registry.
// A field id seen under both objects is kept once.
func (c *HTTPClient) ListCustomFields(ctx context.Context) ([]model.CustomField, error) {
	var out []model.CustomField
	seen := make(map[string]bool)
	for _, path := range []string{"/custom_fields/lead/", "/custom_fields/contact/"} {
		fields, err := list[model.CustomField](ctx, c, path)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			out = append(out, f)
		}
	}
	return out, nil
}

func list[T any](ctx context.Context, c *HTTPClient, path string) ([]T, error) {
	var all []T
	for skip := 0; ; skip += c.pageSize {
		q := url.Values{}
		q.Set("_skip", strconv.Itoa(skip))
		q.Set("_limit", strconv.Itoa(c.pageSize))

		var p page[T]
		if err := c.call(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Data...)
		if !p.HasMore || len(p.Data) == 0 {
			return all, nil
		}
	}
}

func (c *HTTPClient) call(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.dispatch.Do(ctx, req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &APIError{Method: method, Path: path, Status: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
