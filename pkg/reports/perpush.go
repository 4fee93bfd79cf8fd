// Package reports wraps the Airship per-push reporting endpoints.
//
// Detail:
//
//	GET  /api/reports/perpush/detail/{push_id}
//	POST /api/reports/perpush/detail/        {"push_ids": [...]}  (1..100 ids)
//
// Series:
//
//	GET  /api/reports/perpush/series/{push_id}[?precision=P[&start=S&end=E]]
//
// Arguments are validated before anything is sent; a rejected call never
// reaches the network.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lzyats/airship-go/pkg/airship"
	"github.com/lzyats/airship-go/pkg/metrics"
)

// TimeFormat is the layout series start/end bounds are sent in (UTC).
const TimeFormat = "2006-01-02 15:04:05"

const (
	detailPath = "/api/reports/perpush/detail/"
	seriesPath = "/api/reports/perpush/series/"
)

const (
	OpDetail      = "perpush_detail"
	OpDetailBatch = "perpush_detail_batch"
	OpSeries      = "perpush_series"
)

// Requester is the part of *airship.Airship the client needs.
type Requester interface {
	Request(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error)
}

// PerPush fetches per-push analytics. It keeps no state between calls.
type PerPush struct {
	conn Requester
}

func NewPerPush(conn Requester) *PerPush {
	return &PerPush{conn: conn}
}

type batchRequest struct {
	PushIDs []string `json:"push_ids"`
}

// GetSingle returns the detail document for one push.
func (c *PerPush) GetSingle(ctx context.Context, pushID string) (*PushDetail, error) {
	if err := checkPushID(OpDetail, pushID); err != nil {
		return nil, reject(OpDetail, err)
	}
	data, err := c.conn.Request(ctx, OpDetail, http.MethodGet, detailPath+url.PathEscape(pushID), nil, nil)
	if err != nil {
		return nil, err
	}
	var d PushDetail
	if err := decode(OpDetail, data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetBatch returns detail documents for up to MaxBatchSize pushes in one
// request. An empty or oversized batch is rejected without a request, and
// any failure fails the whole batch.
func (c *PerPush) GetBatch(ctx context.Context, pushIDs []string) ([]PushDetail, error) {
	if len(pushIDs) == 0 {
		return nil, reject(OpDetailBatch, airship.ValidationError(OpDetailBatch, "at least one push id is required"))
	}
	if len(pushIDs) > airship.MaxBatchSize {
		return nil, reject(OpDetailBatch, airship.ValidationError(OpDetailBatch,
			"at most %d push ids per batch, got %d", airship.MaxBatchSize, len(pushIDs)))
	}
	for _, id := range pushIDs {
		if err := checkPushID(OpDetailBatch, id); err != nil {
			return nil, reject(OpDetailBatch, err)
		}
	}

	data, err := c.conn.Request(ctx, OpDetailBatch, http.MethodPost, detailPath, nil, batchRequest{PushIDs: pushIDs})
	if err != nil {
		return nil, err
	}
	var out []PushDetail
	if err := decode(OpDetailBatch, data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []PushDetail{}
	}
	return out, nil
}

// Get returns the series at the service's default precision.
func (c *PerPush) Get(ctx context.Context, pushID string) (*Series, error) {
	if err := checkPushID(OpSeries, pushID); err != nil {
		return nil, reject(OpSeries, err)
	}
	return c.series(ctx, pushID, nil)
}

func (c *PerPush) GetWithPrecision(ctx context.Context, pushID string, precision Precision) (*Series, error) {
	if err := checkSeriesArgs(pushID, precision); err != nil {
		return nil, reject(OpSeries, err)
	}
	q := url.Values{}
	q.Set("precision", precision.String())
	return c.series(ctx, pushID, q)
}

// GetWithPrecisionAndRange bounds the series to [start, end]. The range
// itself is not checked here; the service rejects bad ranges.
func (c *PerPush) GetWithPrecisionAndRange(ctx context.Context, pushID string, precision Precision, start, end time.Time) (*Series, error) {
	if err := checkSeriesArgs(pushID, precision); err != nil {
		return nil, reject(OpSeries, err)
	}
	q := url.Values{}
	q.Set("precision", precision.String())
	q.Set("start", start.UTC().Format(TimeFormat))
	q.Set("end", end.UTC().Format(TimeFormat))
	return c.series(ctx, pushID, q)
}

func (c *PerPush) series(ctx context.Context, pushID string, q url.Values) (*Series, error) {
	data, err := c.conn.Request(ctx, OpSeries, http.MethodGet, seriesPath+url.PathEscape(pushID), q, nil)
	if err != nil {
		return nil, err
	}
	var s Series
	if err := decode(OpSeries, data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func checkPushID(op, pushID string) error {
	if pushID == "" {
		return airship.ValidationError(op, "push id must not be empty")
	}
	return nil
}

func checkSeriesArgs(pushID string, precision Precision) error {
	if err := checkPushID(OpSeries, pushID); err != nil {
		return err
	}
	if !precision.Valid() {
		return airship.ValidationError(OpSeries, "precision must be HOURLY, DAILY or MONTHLY, got %q", string(precision))
	}
	return nil
}

func reject(op string, err error) error {
	metrics.APIRequests.WithLabelValues(op, metrics.OutcomeValidation).Inc()
	return err
}

// decode treats an undecodable 2xx body as a transport failure.
func decode(op string, data []byte, v any) error {
	if isNull(data) {
		return airship.TransportError(op, errors.New("malformed response: null document"))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return airship.TransportError(op, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
