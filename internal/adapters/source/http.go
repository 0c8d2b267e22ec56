package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/okian/gather/internal/config"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/logger"
	"github.com/okian/gather/pkg/metrics"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Default HTTP adapter settings.
const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	defaultMaxPages        = 20
)

// HTTPAdapter pulls a JSON listing endpoint, optionally paginated. Requests
// are rate limited and guarded by a circuit breaker.
type HTTPAdapter struct {
	cfg     config.Source
	client  *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]RawRecord]
	log     logger.Logger
}

// NewHTTPAdapter creates an adapter for an http source.
func NewHTTPAdapter(sc config.Source, opts ...Option) *HTTPAdapter {
	o := buildOptions(sc.Name, opts)

	client := resty.New()
	if o.httpClient != nil {
		client = resty.NewWithClient(o.httpClient)
	}
	client.SetHeader("Accept", "application/json").SetHeaders(sc.Headers)
	if sc.Timeout > 0 {
		client.SetTimeout(sc.Timeout)
	}

	limit, burst := rate.Inf, sc.Burst
	if sc.RateLimit > 0 {
		limit = rate.Limit(sc.RateLimit)
	}
	if burst < 1 {
		burst = 1
	}

	failures := sc.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	timeout := sc.BreakerTimeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}

	a := &HTTPAdapter{
		cfg:     sc,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		log:     o.logger,
	}
	a.breaker = gobreaker.NewCircuitBreaker[[]RawRecord](gobreaker.Settings{
		Name:    sc.Name,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.log.Warn(context.Background(), "source circuit changed state",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			if to == gobreaker.StateOpen {
				metrics.RecordErrorByComponent("source", "circuit_open")
			}
		},
		// A caller giving up says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return a
}

// Name implements Adapter.
func (a *HTTPAdapter) Name() string { return a.cfg.Name }

// Tag implements Adapter.
func (a *HTTPAdapter) Tag() model.SourceTag { return model.SourceTag(a.cfg.Tag) }

// Timezone implements Adapter.
func (a *HTTPAdapter) Timezone() string { return a.cfg.Timezone }

// Fetch requests every page until an empty page or the page cap.
func (a *HTTPAdapter) Fetch(ctx context.Context) ([]RawRecord, error) {
	started := time.Now()
	maxPages := a.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if a.cfg.PageParam == "" {
		maxPages = 1
	}

	var all []RawRecord
	for n := range maxPages {
		page := a.cfg.FirstPage + n
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: rate limiter: %w", ErrFetch, a.cfg.Name, err)
		}
		recs, err := a.breaker.Execute(func() ([]RawRecord, error) {
			return a.fetchPage(ctx, page)
		})
		if err != nil {
			metrics.RecordSourceFetch(a.cfg.Name, "error", msSince(started))
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%w: %s: %v", ErrCircuitOpen, a.cfg.Name, err)
			}
			return nil, err
		}
		all = append(all, recs...)
		if len(recs) == 0 {
			break
		}
	}

	metrics.RecordSourceFetch(a.cfg.Name, "ok", msSince(started))
	a.log.Debug(ctx, "source fetched",
		logger.Int("records", len(all)),
		logger.Duration("took", time.Since(started)),
	)
	return all, nil
}

func (a *HTTPAdapter) fetchPage(ctx context.Context, page int) ([]RawRecord, error) {
	req := a.client.R().SetContext(ctx).SetQueryParams(a.cfg.Query)
	if a.cfg.PageParam != "" {
		req.SetQueryParam(a.cfg.PageParam, strconv.Itoa(page))
	}
	resp, err := req.Get(a.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, a.cfg.Name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s page %d: %s", ErrStatus, a.cfg.Name, page, resp.Status())
	}
	recs, err := extract(resp.Body(), a.cfg.RecordsPath)
	if err != nil {
		return nil, fmt.Errorf("%s page %d: %w", a.cfg.Name, page, err)
	}
	return recs, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Milliseconds())
}
