package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validDefaults returns Defaults with the required secrets filled in.
func validDefaults() *Config {
	cfg := Defaults()
	cfg.Telegram.Token = "123:abc"
	cfg.Weather.APIKey = "owm-key"
	return cfg
}

func TestValidateDefaultsWithSecretsPass(t *testing.T) {
	if err := Validate(validDefaults()); err != nil {
		t.Fatalf("defaults with secrets should pass validation: %v", err)
	}
}

func TestValidateMissingSecrets(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "telegram.token is required")
	assertContains(t, err.Error(), "weather.api_key is required")
}

func TestValidateTelegramBadBaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Telegram.BaseURL = "ftp://example.com"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "telegram.base_url")
}

func TestValidateTelegramMaxConcurrentZero(t *testing.T) {
	cfg := validDefaults()
	cfg.Telegram.MaxConcurrent = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "telegram.max_concurrent must be > 0")
}

func TestValidateTelegramPerChatLimitNegative(t *testing.T) {
	cfg := validDefaults()
	cfg.Telegram.PerChatBurst = -1
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "telegram.per_chat_burst")
}

func TestValidateWeatherUnits(t *testing.T) {
	cfg := validDefaults()
	cfg.Weather.Units = "kelvin"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "weather.units")
}

func TestValidateWeatherTimeoutZero(t *testing.T) {
	cfg := validDefaults()
	cfg.Weather.Timeout = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "weather.timeout must be > 0")
}

func TestValidateSearchSelectorEmpty(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.ResultSelector = ""
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "search.result_selector is required")
}

func TestValidateSearchRemoteURLScheme(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.RemoteURL = "http://localhost:9222"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "search.remote_url")

	cfg.Search.RemoteURL = "ws://localhost:9222/devtools/browser/abc"
	if err := Validate(cfg); err != nil {
		t.Fatalf("ws URL should pass: %v", err)
	}
}

func TestValidateSearchBurstRequiredWithRate(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.RatePerSecond = 1
	cfg.Search.Burst = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "search.burst must be > 0")
}

func TestValidateSearchRateDisabledIgnoresBurst(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.RatePerSecond = 0
	cfg.Search.Burst = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled rate limit should not require burst: %v", err)
	}
}

func TestValidateSearchNavTimeout(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.NavTimeout = -time.Second
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "search.nav_timeout must be > 0")
}

func TestValidateSearchResultWait(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.ResultWait = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "search.result_wait must be > 0")
}

func TestValidateClockTimezone(t *testing.T) {
	cfg := validDefaults()
	cfg.Clock.Timezone = "Mars/Olympus_Mons"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "clock.timezone")
}

func TestValidateTracerExporter(t *testing.T) {
	cfg := validDefaults()
	cfg.Tracer.Exporter = "jaeger"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "tracer.exporter")
}

func TestValidateMultipleErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.MaxResults = 0
	cfg.Clock.Format = ""
	err := Validate(cfg)

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidationErrorFormat(t *testing.T) {
	ve := &ValidationError{}
	ve.Add("first %d", 1)
	ve.Add("second")
	want := "config validation failed:\n  - first 1\n  - second"
	if ve.Error() != want {
		t.Errorf("got %q, want %q", ve.Error(), want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
