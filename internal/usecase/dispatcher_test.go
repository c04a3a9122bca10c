package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistbot/internal/adapter/weather"
	"assistbot/internal/domain"
	"assistbot/internal/infra/config"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockWeather struct {
	mu     sync.Mutex
	result domain.WeatherResult
	calls  []string
}

func (m *mockWeather) Query(_ context.Context, city string) domain.WeatherResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, city)
	res := m.result
	res.City = city
	return res
}

type mockSearcher struct {
	mu         sync.Mutex
	outcome    domain.SearchOutcome
	queries    []string
	restarts   int
	restartErr error
	panicWith  any
}

func (m *mockSearcher) Query(_ context.Context, q string) domain.SearchOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicWith != nil {
		panic(m.panicWith)
	}
	m.queries = append(m.queries, q)
	return m.outcome
}

func (m *mockSearcher) Restart(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
	return m.restartErr
}

func newTestDispatcher(w domain.WeatherProvider, s domain.Searcher, opts ...DispatcherOption) *Dispatcher {
	opts = append([]DispatcherOption{WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	return NewDispatcher(w, s, noopLogger(), opts...)
}

func notFoundReplies(city string) []string {
	out := make([]string, len(CityNotFoundMessages))
	for i, tmpl := range CityNotFoundMessages {
		out[i] = fmt.Sprintf(tmpl, city)
	}
	return out
}

func TestHandleStaticReplies(t *testing.T) {
	d := newTestDispatcher(&mockWeather{}, &mockSearcher{})

	start := d.Handle(context.Background(), "/start")
	require.NotNil(t, start)
	assert.Equal(t, welcomeText, start.Text)
	assert.Equal(t, MainMenu, start.Keyboard)

	help := d.Handle(context.Background(), ButtonHelp)
	require.NotNil(t, help)
	assert.Equal(t, helpText, help.Text)
	assert.Equal(t, domain.ParseModeMarkdown, help.ParseMode)

	assert.Equal(t, weatherPromptText, d.Handle(context.Background(), ButtonWeather).Text)
	assert.Equal(t, searchPromptText, d.Handle(context.Background(), ButtonSearch).Text)
}

func TestHandleIgnoredMessages(t *testing.T) {
	w, s := &mockWeather{}, &mockSearcher{}
	d := newTestDispatcher(w, s)

	for _, text := range []string{"", "   ", "\n\t", "/unknown", "/foo bar"} {
		assert.Nil(t, d.Handle(context.Background(), text), "text %q", text)
	}
	assert.Empty(t, w.calls)
	assert.Empty(t, s.queries)
	assert.Zero(t, s.restarts)
}

func TestHandleTime(t *testing.T) {
	loc, err := time.LoadLocation("UTC")
	require.NoError(t, err)
	fixed := time.Date(2024, 3, 1, 21, 4, 5, 0, time.FixedZone("X", 3*3600))
	d := newTestDispatcher(&mockWeather{}, &mockSearcher{},
		WithClock(func() time.Time { return fixed }),
		WithLocation(loc),
	)

	assert.Equal(t, "🕒 Current time: 18:04:05", d.Handle(context.Background(), "/time").Text)
	assert.Equal(t, "🕒 Current time: 18:04:05", d.Handle(context.Background(), ButtonTime).Text)

	d = newTestDispatcher(&mockWeather{}, &mockSearcher{},
		WithClock(func() time.Time { return fixed }),
		WithLocation(loc),
		WithTimeFormat("2006-01-02 15:04"),
	)
	assert.Equal(t, "🕒 Current time: 2024-03-01 18:04", d.Handle(context.Background(), "/time").Text)
}

func TestHandleWeatherSuccess(t *testing.T) {
	w := &mockWeather{result: domain.WeatherResult{
		Kind: domain.WeatherSuccess, TemperatureC: 5, Description: "clear", HumidityPct: 80,
	}}
	d := newTestDispatcher(w, &mockSearcher{})

	reply := d.Handle(context.Background(), "/weather Moscow")

	require.NotNil(t, reply)
	assert.Equal(t, "Weather in Moscow:\nTemperature: 5°C\nConditions: clear\nHumidity: 80%", reply.Text)
	assert.Equal(t, []string{"Moscow"}, w.calls)
}

func TestHandleWeatherFractionalTemperature(t *testing.T) {
	w := &mockWeather{result: domain.WeatherResult{Kind: domain.WeatherSuccess, TemperatureC: -3.25, Description: "snow"}}
	d := newTestDispatcher(w, &mockSearcher{})

	assert.Contains(t, d.Handle(context.Background(), "/weather Oslo").Text, "Temperature: -3.25°C")
}

func TestHandleWeatherMissingCity(t *testing.T) {
	w := &mockWeather{}
	d := newTestDispatcher(w, &mockSearcher{})

	for _, text := range []string{"/weather", "/weather   "} {
		reply := d.Handle(context.Background(), text)
		require.NotNil(t, reply)
		assert.Equal(t, weatherUsageText, reply.Text)
	}
	assert.Empty(t, w.calls, "usage errors must not reach the provider")
}

func TestHandleWeatherCityNotFound(t *testing.T) {
	w := &mockWeather{result: domain.WeatherResult{Kind: domain.WeatherCityNotFound}}
	d := newTestDispatcher(w, &mockSearcher{})

	reply := d.Handle(context.Background(), "/weather Nowhereville")

	require.NotNil(t, reply)
	assert.Contains(t, notFoundReplies("Nowhereville"), reply.Text)
}

func TestHandleWeatherTransient(t *testing.T) {
	w := &mockWeather{result: domain.WeatherResult{Kind: domain.WeatherTransientError, Err: domain.ErrProviderError}}
	d := newTestDispatcher(w, &mockSearcher{})

	reply := d.Handle(context.Background(), "/weather Moscow")

	require.NotNil(t, reply)
	require.True(t, strings.HasSuffix(reply.Text, retryHint))
	assert.Contains(t, WeatherErrorMessages, strings.TrimSuffix(reply.Text, retryHint))
}

func TestWeatherPoolsAreDistinct(t *testing.T) {
	notFound := notFoundReplies("Paris")
	for _, msg := range WeatherErrorMessages {
		assert.NotContains(t, notFound, msg)
	}
	assert.Len(t, WeatherErrorMessages, 10)
	assert.Len(t, CityNotFoundMessages, 10)
	for _, tmpl := range CityNotFoundMessages {
		assert.Equal(t, 1, strings.Count(tmpl, "%s"), tmpl)
	}
}

func TestPickCoversPool(t *testing.T) {
	d := newTestDispatcher(&mockWeather{}, &mockSearcher{})
	seen := map[string]bool{}
	for range 500 {
		seen[d.pick(WeatherErrorMessages)] = true
	}
	assert.Len(t, seen, len(WeatherErrorMessages))

	global := NewDispatcher(&mockWeather{}, &mockSearcher{}, noopLogger())
	assert.Contains(t, WeatherErrorMessages, global.pick(WeatherErrorMessages))
}

// End-to-end through the real weather client against a stub upstream.
func TestHandleWeatherThroughClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "Moscow":
			io.WriteString(w, `{"main":{"temp":5.0,"humidity":80},"weather":[{"description":"clear"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := weather.New(config.WeatherConfig{
		APIKey: "k", BaseURL: srv.URL, Units: "metric", Lang: "ru", Timeout: time.Second,
	}, noopLogger())
	d := newTestDispatcher(client, &mockSearcher{})

	reply := d.Handle(context.Background(), "/weather Moscow")
	require.NotNil(t, reply)
	assert.Contains(t, reply.Text, "5")
	assert.Contains(t, reply.Text, "clear")
	assert.Contains(t, reply.Text, "80")

	reply = d.Handle(context.Background(), "/weather Nowhereville")
	require.NotNil(t, reply)
	assert.Contains(t, notFoundReplies("Nowhereville"), reply.Text)
}

func TestHandleSearchOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		outcome domain.SearchOutcome
		want    string
	}{
		{"no results", domain.SearchOutcome{Kind: domain.SearchNoResults}, searchNoResultsText},
		{"warming up", domain.SearchOutcome{Kind: domain.SearchWarmingUp}, searchWarmingUpText},
		{"timeout", domain.SearchOutcome{Kind: domain.SearchTimeout, Err: domain.ErrTimeout}, searchTimeoutText},
		{"failed", domain.SearchOutcome{Kind: domain.SearchFailed, Err: errors.New("crash")}, searchFailedText},
		{"rate limited", domain.SearchOutcome{Kind: domain.SearchFailed, Err: domain.ErrRateLimit}, searchFailedText + retryHint},
		{"backend closed", domain.SearchOutcome{Kind: domain.SearchFailed, Err: domain.ErrBackendClosed}, searchFailedText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSearcher{outcome: tt.outcome}
			d := newTestDispatcher(&mockWeather{}, s)

			reply := d.Handle(context.Background(), "  golang generics ")

			require.NotNil(t, reply)
			assert.Equal(t, tt.want, reply.Text)
			assert.Equal(t, []string{"golang generics"}, s.queries)
		})
	}
}

func TestHandleSearchResults(t *testing.T) {
	s := &mockSearcher{outcome: domain.SearchOutcome{Kind: domain.SearchOK, Results: []domain.SearchResult{
		{Title: "The Go Programming Language", Snippet: "Build simple, secure, scalable systems", URL: "https://go.dev/"},
		{Title: "snake_case *tips*", Snippet: "", URL: "https://example.com/a_b"},
	}}}
	d := newTestDispatcher(&mockWeather{}, s)

	reply := d.Handle(context.Background(), "golang")

	require.NotNil(t, reply)
	assert.Equal(t, domain.ParseModeMarkdown, reply.ParseMode)
	assert.True(t, reply.DisablePreview)
	want := "🔍 Search results for \"golang\":\n\n" +
		"📌 *The Go Programming Language*\nBuild simple, secure, scalable systems\nhttps://go.dev/\n" +
		"\n" +
		"📌 *snake\\_case \\*tips\\**\n\nhttps://example.com/a\\_b\n"
	assert.Equal(t, want, reply.Text)
}

func TestHandleRestart(t *testing.T) {
	s := &mockSearcher{}
	d := newTestDispatcher(&mockWeather{}, s)

	reply := d.Handle(context.Background(), "/restart")

	require.NotNil(t, reply)
	assert.Equal(t, restartDoneText, reply.Text)
	assert.Equal(t, MainMenu, reply.Keyboard)
	assert.Equal(t, 1, s.restarts)

	d.Handle(context.Background(), ButtonRestart)
	assert.Equal(t, 2, s.restarts)
}

func TestHandleRestartError(t *testing.T) {
	s := &mockSearcher{restartErr: domain.ErrBackendClosed}
	d := newTestDispatcher(&mockWeather{}, s)

	reply := d.Handle(context.Background(), "/restart")

	require.NotNil(t, reply)
	assert.Equal(t, errorReplyPrefix+"restart: search backend closed", reply.Text)
}

func TestHandleRecoversPanic(t *testing.T) {
	s := &mockSearcher{panicWith: "nil map write"}
	d := newTestDispatcher(&mockWeather{}, s)

	var reply *domain.Reply
	require.NotPanics(t, func() { reply = d.Handle(context.Background(), "anything") })
	require.NotNil(t, reply)
	assert.Equal(t, errorReplyPrefix+"nil map write", reply.Text)

	// The dispatcher keeps working afterwards.
	assert.Equal(t, welcomeText, d.Handle(context.Background(), "/start").Text)
}

func TestHandleBotSuffix(t *testing.T) {
	w := &mockWeather{result: domain.WeatherResult{Kind: domain.WeatherSuccess, Description: "fog"}}
	d := newTestDispatcher(w, &mockSearcher{}, WithBotName("assist_bot"))

	assert.Contains(t, d.Handle(context.Background(), "/weather@assist_bot London").Text, "Weather in London")
	assert.Nil(t, d.Handle(context.Background(), "/weather@someone_else London"))
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "a\\_b \\*c\\* \\`d\\` \\[e]", escapeMarkdown("a_b *c* `d` [e]"))
	assert.Equal(t, "plain text", escapeMarkdown("plain text"))
}
