package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateTelegram(cfg, ve)
	validateWeather(cfg, ve)
	validateSearch(cfg, ve)
	validateClock(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateTelegram(cfg *Config, ve *ValidationError) {
	if cfg.Telegram.Token == "" {
		ve.Add("telegram.token is required")
	}
	if !isHTTPURL(cfg.Telegram.BaseURL) {
		ve.Add("telegram.base_url %q must be an http(s) URL", cfg.Telegram.BaseURL)
	}
	if cfg.Telegram.PollTimeout <= 0 {
		ve.Add("telegram.poll_timeout must be > 0")
	}
	if cfg.Telegram.MaxConcurrent <= 0 {
		ve.Add("telegram.max_concurrent must be > 0")
	}
	if cfg.Telegram.PerChatPerMin < 0 || cfg.Telegram.PerChatBurst < 0 {
		ve.Add("telegram.per_chat_per_min and telegram.per_chat_burst must be >= 0")
	}
}

func validateWeather(cfg *Config, ve *ValidationError) {
	if cfg.Weather.APIKey == "" {
		ve.Add("weather.api_key is required")
	}
	if !isHTTPURL(cfg.Weather.BaseURL) {
		ve.Add("weather.base_url %q must be an http(s) URL", cfg.Weather.BaseURL)
	}
	switch cfg.Weather.Units {
	case "metric", "imperial", "standard":
	default:
		ve.Add("weather.units %q must be one of metric, imperial, standard", cfg.Weather.Units)
	}
	if cfg.Weather.Timeout <= 0 {
		ve.Add("weather.timeout must be > 0")
	}
	if cfg.Weather.Breaker.Timeout < 0 || cfg.Weather.Breaker.Interval < 0 {
		ve.Add("weather.breaker durations must be >= 0")
	}
}

func validateSearch(cfg *Config, ve *ValidationError) {
	s := cfg.Search
	if !isHTTPURL(s.EngineURL) {
		ve.Add("search.engine_url %q must be an http(s) URL", s.EngineURL)
	}
	if s.ResultSelector == "" {
		ve.Add("search.result_selector is required")
	}
	if s.MaxResults <= 0 {
		ve.Add("search.max_results must be > 0")
	}
	if s.NavTimeout <= 0 {
		ve.Add("search.nav_timeout must be > 0")
	}
	if s.LaunchTimeout <= 0 {
		ve.Add("search.launch_timeout must be > 0")
	}
	if s.ResultWait <= 0 {
		ve.Add("search.result_wait must be > 0")
	}
	if s.RemoteURL != "" {
		u, err := url.Parse(s.RemoteURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			ve.Add("search.remote_url %q must be a ws(s) URL", s.RemoteURL)
		}
	}
	if s.RatePerSecond < 0 {
		ve.Add("search.rate_per_second must be >= 0")
	}
	if s.RatePerSecond > 0 && s.Burst <= 0 {
		ve.Add("search.burst must be > 0 when rate_per_second is set")
	}
}

func validateClock(cfg *Config, ve *ValidationError) {
	if _, err := time.LoadLocation(cfg.Clock.Timezone); err != nil {
		ve.Add("clock.timezone %q: %v", cfg.Clock.Timezone, err)
	}
	if cfg.Clock.Format == "" {
		ve.Add("clock.format is required")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q must be one of noop, stdout", cfg.Tracer.Exporter)
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
