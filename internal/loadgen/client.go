package loadgen

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/okian/gather/internal/domain/model"
)

// ingestReport is the part of the run report a load run reads back.
type ingestReport struct {
	ID           string `json:"id"`
	Fresh        int    `json:"fresh"`
	Unchanged    int    `json:"unchanged"`
	AutoMerged   int    `json:"auto_merged"`
	ManualReview int    `json:"manual_review"`
	Sources      []struct {
		Rejected []struct {
			RecordID string `json:"record_id"`
			Reason   string `json:"reason"`
		} `json:"rejected"`
	} `json:"sources"`
}

func (r ingestReport) rejected() int {
	n := 0
	for _, s := range r.Sources {
		n += len(s.Rejected)
	}
	return n
}

// decision is the part of a merge decision a load run verifies.
type decision struct {
	ID           string   `json:"id"`
	PrimaryID    string   `json:"primary_id"`
	DuplicateIDs []string `json:"duplicate_ids"`
	Status       string   `json:"status"`
}

// client talks to the ingestion API.
type client struct {
	http *resty.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	c.JSONMarshal = json.Marshal
	c.JSONUnmarshal = json.Unmarshal
	return &client{http: c}
}

// health checks GET /healthz.
func (c *client) health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %s", ErrUnhealthy, resp.Status())
	}
	return nil
}

// push posts one batch of raw records of a single source.
func (c *client) push(ctx context.Context, tag model.SourceTag, tz string, raws []json.RawMessage) (ingestReport, error) {
	body, err := json.Marshal(raws)
	if err != nil {
		return ingestReport{}, fmt.Errorf("%w: encode: %v", ErrSubmit, err)
	}
	var rep ingestReport
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("source", string(tag)).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&rep)
	if tz != "" {
		req.SetQueryParam("tz", tz)
	}
	resp, err := req.Post("/ingest")
	if err != nil {
		return ingestReport{}, fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	if resp.IsError() {
		return ingestReport{}, fmt.Errorf("%w: status %s: %s", ErrSubmit, resp.Status(), resp.String())
	}
	return rep, nil
}

// decisions reads the newest limit merge decisions.
func (c *client) decisions(ctx context.Context, limit int) ([]decision, error) {
	var out []decision
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&out).
		Get("/decisions")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list decisions: status %s", resp.Status())
	}
	return out, nil
}
