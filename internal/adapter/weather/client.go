// Package weather implements domain.WeatherProvider against the
// OpenWeatherMap current-conditions endpoint.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"

	"assistbot/internal/domain"
	"assistbot/internal/infra/config"
	"assistbot/internal/infra/tracer"
)

// maxBodySize caps how much of an upstream response is read.
const maxBodySize = 1 << 20

const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second

	defaultDescription = "unknown"
)

// response is the raw upstream reply that made it through the breaker.
type response struct {
	status int
	body   []byte
}

// Client queries OpenWeatherMap. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	units   string
	lang    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*response]
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Client) { w.client = c }
}

// New creates a Client from cfg.
func New(cfg config.WeatherConfig, logger *slog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		units:   cfg.Units,
		lang:    cfg.Lang,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
	for _, o := range opts {
		o(w)
	}
	w.breaker = newBreaker(cfg.Breaker, logger)
	return w
}

func newBreaker(cfg config.CircuitBreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[*response] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "weather",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// Query implements domain.WeatherProvider. It never returns an error; every
// failure is folded into the result kind.
func (w *Client) Query(ctx context.Context, city string) domain.WeatherResult {
	ctx, span := tracer.StartSpan(ctx, "weather.query")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("weather.city", city))

	result := w.query(ctx, city)
	tracer.RecordOutcome(span, result.Kind.String(), result.Err)
	return result
}

func (w *Client) query(ctx context.Context, city string) domain.WeatherResult {
	resp, err := w.breaker.Execute(func() (*response, error) {
		return w.fetch(ctx, city)
	})
	if err != nil {
		err = classify(ctx, err)
		w.logger.Warn("weather lookup failed", "city", city, "error", err)
		return domain.WeatherResult{Kind: domain.WeatherTransientError, City: city, Err: err}
	}

	switch {
	case resp.status == http.StatusNotFound:
		return domain.WeatherResult{
			Kind: domain.WeatherCityNotFound,
			City: city,
			Err:  domain.NewSubSystemError("weather", "weather.Query", domain.ErrNotFound, city),
		}
	case resp.status < 200 || resp.status > 299:
		err := domain.NewSubSystemError("weather", "weather.Query", domain.ErrProviderError,
			fmt.Sprintf("HTTP %d", resp.status))
		w.logger.Warn("weather lookup failed", "city", city, "status", resp.status)
		return domain.WeatherResult{Kind: domain.WeatherTransientError, City: city, Err: err}
	}

	result, err := parse(resp.body)
	if err != nil {
		w.logger.Warn("weather response unreadable", "city", city, "error", err)
		return domain.WeatherResult{Kind: domain.WeatherTransientError, City: city, Err: err}
	}
	result.City = city
	return result
}

// fetch performs the HTTP call. Transport failures and 5xx statuses are
// reported as errors so the breaker counts them; every other status is a
// valid answer from a healthy upstream.
func (w *Client) fetch(ctx context.Context, city string) (*response, error) {
	params := url.Values{}
	params.Set("q", city)
	params.Set("appid", w.apiKey)
	params.Set("units", w.units)
	params.Set("lang", w.lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, domain.WrapOp("weather.fetch", err)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := w.client.Do(req)
	if err != nil {
		return nil, domain.WrapOp("weather.fetch", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, domain.WrapOp("weather.fetch", err)
	}

	resp := &response{status: httpResp.StatusCode, body: body}
	if httpResp.StatusCode >= 500 {
		return resp, domain.NewSubSystemError("weather", "weather.fetch", domain.ErrProviderError,
			fmt.Sprintf("HTTP %d", httpResp.StatusCode))
	}
	return resp, nil
}

// classify maps a breaker or transport error onto a domain sentinel.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return domain.NewSubSystemError("weather", "weather.Query", domain.ErrCircuitOpen, err.Error())
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return domain.NewSubSystemError("weather", "weather.Query", domain.ErrTimeout, err.Error())
	case errors.Is(err, domain.ErrProviderError):
		return err
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return domain.NewSubSystemError("weather", "weather.Query", domain.ErrTimeout, err.Error())
		}
		return domain.NewSubSystemError("weather", "weather.Query", domain.ErrProviderError, err.Error())
	}
}

// parse extracts the success fields from a 2xx body. Individual fields that
// are absent or of the wrong type fall back to defaults; only a body that is
// not a JSON object at all is rejected.
func parse(body []byte) (domain.WeatherResult, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil || root == nil {
		detail := "body is not a JSON object"
		if err != nil {
			detail = err.Error()
		}
		return domain.WeatherResult{}, domain.NewSubSystemError("weather", "weather.parse",
			domain.ErrMalformedResponse, detail)
	}

	result := domain.WeatherResult{
		Kind:        domain.WeatherSuccess,
		Description: defaultDescription,
	}

	var main map[string]json.RawMessage
	if json.Unmarshal(root["main"], &main) == nil {
		if v, ok := number(main["temp"]); ok {
			result.TemperatureC = v
		}
		if v, ok := number(main["humidity"]); ok {
			result.HumidityPct = int(v)
		}
	}

	var conditions []map[string]json.RawMessage
	if json.Unmarshal(root["weather"], &conditions) == nil && len(conditions) > 0 {
		var desc string
		if json.Unmarshal(conditions[0]["description"], &desc) == nil && desc != "" {
			result.Description = desc
		}
	}

	return result, nil
}

func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
