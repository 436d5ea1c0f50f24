// Package tables is a client for the hosted tabular-data API: table and
// column lookups, cursor-paginated and id-filtered row listing, and batched
// row insertion.
package tables

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://coda.io/apis/v1"

// TableRef addresses a table inside a document.
type TableRef struct {
	DocID   string `yaml:"doc_id" json:"docId"`
	TableID string `yaml:"table_id" json:"tableId"`
}

func (r TableRef) String() string { return r.DocID + "/" + r.TableID }

func (r TableRef) pathParams() map[string]string {
	return map[string]string{"doc": r.DocID, "table": r.TableID}
}

// ListRowsOptions selects a page of rows. RowIDs asks the service for only
// those rows; the service may ignore the filter, so callers must filter the
// response themselves.
type ListRowsOptions struct {
	PageToken string
	Limit     int
	RowIDs    []string
}

// RowsPage is one page of rows.
type RowsPage struct {
	Rows          []domain.Row
	NextPageToken string
}

// Cell is one column value of an inserted row.
type Cell struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

// Client talks to the tabular-data API.
type Client struct {
	http *resty.Client
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New creates a Client.
func New(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	h := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetAuthToken(opts.Token).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: h}
}

type tableResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RowCount int    `json:"rowCount"`
}

// GetTable fetches table metadata. It doubles as a read-access check.
func (c *Client) GetTable(ctx context.Context, ref TableRef) (*domain.Table, error) {
	var out tableResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(ref.pathParams()).
		SetResult(&out).
		Get("/docs/{doc}/tables/{table}")
	if err := check(resp, err); err != nil {
		return nil, errors.Wrapf(err, "get table %s", ref)
	}
	return &domain.Table{ID: out.ID, Name: out.Name, RowCount: out.RowCount}, nil
}

type columnsResponse struct {
	Items []struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Calculated bool   `json:"calculated"`
		Format     struct {
			Type string `json:"type"`
		} `json:"format"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// ListColumns returns the full column schema of a table.
func (c *Client) ListColumns(ctx context.Context, ref TableRef) ([]domain.Column, error) {
	var columns []domain.Column
	pageToken := ""
	for {
		var out columnsResponse
		req := c.http.R().
			SetContext(ctx).
			SetPathParams(ref.pathParams()).
			SetResult(&out)
		if pageToken != "" {
			req.SetQueryParam("pageToken", pageToken)
		}
		resp, err := req.Get("/docs/{doc}/tables/{table}/columns")
		if err := check(resp, err); err != nil {
			return nil, errors.Wrapf(err, "list columns of %s", ref)
		}

		for _, item := range out.Items {
			columns = append(columns, domain.Column{
				ID:         item.ID,
				Name:       item.Name,
				Type:       item.Format.Type,
				Calculated: item.Calculated,
			})
		}

		if out.NextPageToken == "" {
			return columns, nil
		}
		pageToken = out.NextPageToken
	}
}

type rowsResponse struct {
	Items []struct {
		ID     string                     `json:"id"`
		Name   string                     `json:"name"`
		Values map[string]json.RawMessage `json:"values"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// ListRows fetches one page of rows with rich-format values.
func (c *Client) ListRows(ctx context.Context, ref TableRef, opts ListRowsOptions) (*RowsPage, error) {
	var out rowsResponse
	req := c.http.R().
		SetContext(ctx).
		SetPathParams(ref.pathParams()).
		SetQueryParam("valueFormat", "rich").
		SetResult(&out)
	if opts.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(opts.Limit))
	}
	if opts.PageToken != "" {
		req.SetQueryParam("pageToken", opts.PageToken)
	}
	if len(opts.RowIDs) > 0 {
		req.SetQueryParam("rowIds", strings.Join(opts.RowIDs, ","))
	}

	resp, err := req.Get("/docs/{doc}/tables/{table}/rows")
	if err := check(resp, err); err != nil {
		return nil, errors.Wrapf(err, "list rows of %s", ref)
	}

	page := &RowsPage{NextPageToken: out.NextPageToken}
	for _, item := range out.Items {
		row := domain.Row{ID: item.ID, Name: item.Name, Values: make(map[string]domain.Value, len(item.Values))}
		for columnID, raw := range item.Values {
			v, err := domain.DecodeValue(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "row %s column %s", item.ID, columnID)
			}
			row.Values[columnID] = v
		}
		page.Rows = append(page.Rows, row)
	}
	return page, nil
}

type insertRequest struct {
	Rows []insertRow `json:"rows"`
}

type insertRow struct {
	Cells []Cell `json:"cells"`
}

type insertResponse struct {
	RequestID   string   `json:"requestId"`
	AddedRowIDs []string `json:"addedRowIds"`
}

// InsertRows submits rows in one request and returns the ids of the created
// rows. The service lists ids in request order.
func (c *Client) InsertRows(ctx context.Context, ref TableRef, rows [][]Cell) ([]string, error) {
	body := insertRequest{Rows: make([]insertRow, len(rows))}
	for i, cells := range rows {
		body.Rows[i] = insertRow{Cells: cells}
	}

	var out insertResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(ref.pathParams()).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/docs/{doc}/tables/{table}/rows")
	if err := check(resp, err); err != nil {
		return nil, errors.Wrapf(err, "insert %d rows into %s", len(rows), ref)
	}
	return out.AddedRowIDs, nil
}

// check converts transport failures and error statuses into connectivity errors.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Connectivity(errors.Wrap(err, "request failed"))
	}
	if resp.IsError() {
		return errors.Connectivity(&APIError{
			Method:     resp.Request.Method,
			Path:       resp.Request.URL,
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
		})
	}
	return nil
}
