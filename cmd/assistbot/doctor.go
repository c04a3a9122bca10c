package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"assistbot/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var chromeBinaries = []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Telegram token", Fn: checkTelegramToken},
		{Name: "Telegram API", Fn: checkTelegramAPI},
		{Name: "Weather API key", Fn: checkWeatherKey},
		{Name: "Timezone", Fn: checkTimezone},
		{Name: "Chromium", Fn: checkChromium},
		{Name: "Browser profile", Fn: checkProfileDir},
		{Name: "Network", Fn: checkNetwork},
	}

	fmt.Println("assistbot doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name
		results = append(results, result)

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
	}

	pass, warn, fail := tally(results)
	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above before starting assistbot.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nassistbot should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! assistbot is ready to run.")
	}
	return nil
}

func tally(results []CheckResult) (pass, warn, fail int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}
	return pass, warn, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

var notLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// checkConfigFile returns a check that verifies the config loads. A missing
// file is only a warning since every setting can come from the environment.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the ASSISTBOT_* environment variables",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkTelegramToken(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if strings.HasPrefix(cfg.Telegram.Token, "enc:") {
		return CheckResult{
			Status:  StatusFail,
			Message: "telegram token is still encrypted",
			Fix:     "Set ASSISTBOT_CONFIG_KEY to the passphrase used with 'assistbot encrypt'",
		}
	}
	if !strings.Contains(cfg.Telegram.Token, ":") {
		return CheckResult{
			Status:  StatusWarn,
			Message: "telegram token does not look like <bot id>:<secret>",
		}
	}
	return CheckResult{Status: StatusPass, Message: "telegram token configured"}
}

// checkTelegramAPI calls getMe to confirm the token is accepted.
func checkTelegramAPI(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := strings.TrimRight(cfg.Telegram.BaseURL, "/") + "/bot" + cfg.Telegram.Token + "/getMe"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid telegram base URL: %v", err)}
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot reach the Telegram Bot API",
			Fix:     "Check your internet connection and telegram.base_url",
		}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("token rejected (status %d)", resp.StatusCode),
			Fix:     "Issue a new token with @BotFather",
		}
	case resp.StatusCode >= 400:
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("getMe returned status %d", resp.StatusCode)}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("token accepted (latency: %dms)", time.Since(start).Milliseconds()),
	}
}

func checkWeatherKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if strings.HasPrefix(cfg.Weather.APIKey, "enc:") {
		return CheckResult{
			Status:  StatusFail,
			Message: "weather API key is still encrypted",
			Fix:     "Set ASSISTBOT_CONFIG_KEY to the passphrase used with 'assistbot encrypt'",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("OpenWeatherMap key configured (units: %s, lang: %s)", cfg.Weather.Units, cfg.Weather.Lang),
	}
}

func checkTimezone(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	loc, err := time.LoadLocation(cfg.Clock.Timezone)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("unknown timezone %q", cfg.Clock.Timezone),
			Fix:     "Use an IANA name such as Europe/Moscow, or install tzdata",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s, now %s", loc, time.Now().In(loc).Format(cfg.Clock.Format)),
	}
}

// checkChromium checks that a Chromium-compatible browser can be launched.
func checkChromium(cfg *config.Config) CheckResult {
	if cfg != nil && cfg.Search.RemoteURL != "" {
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("remote browser at %s, local Chromium not required", cfg.Search.RemoteURL),
		}
	}
	if cfg != nil && cfg.Search.ExecPath != "" {
		if _, err := os.Stat(cfg.Search.ExecPath); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("search.exec_path %s not found", cfg.Search.ExecPath),
				Fix:     "Point search.exec_path at a Chromium binary or leave it empty",
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("using %s", cfg.Search.ExecPath)}
	}

	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return CheckResult{
				Status:  StatusPass,
				Message: fmt.Sprintf("found %s at %s", name, path),
			}
		}
	}
	return CheckResult{
		Status:  StatusFail,
		Message: "Chromium not found, web search will stay unavailable",
		Fix:     "Install Chromium: apt install chromium (or set search.remote_url)",
	}
}

// checkProfileDir verifies the browser profile directory is writable.
func checkProfileDir(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded
	}
	if cfg.Search.RemoteURL != "" || cfg.Search.ProfileDir == "" {
		return CheckResult{Status: StatusPass, Message: "no local profile directory in use"}
	}

	absDir, _ := filepath.Abs(cfg.Search.ProfileDir)
	if err := os.MkdirAll(absDir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("profile directory %s cannot be created: %v", absDir, err),
			Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
		}
	}

	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("profile directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("profile directory %s writable", absDir)}
}

// checkNetwork verifies basic internet connectivity.
func checkNetwork(_ *config.Config) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	for _, addr := range []string{"1.1.1.1:443", "8.8.8.8:443"} {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return CheckResult{Status: StatusPass, Message: "internet connectivity OK"}
		}
	}
	return CheckResult{
		Status:  StatusFail,
		Message: "no internet connectivity detected",
		Fix:     "Check your network connection and firewall settings",
	}
}
