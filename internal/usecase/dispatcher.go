package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"assistbot/internal/domain"
	"assistbot/internal/infra/tracer"
)

// Dispatcher classifies inbound text and produces at most one reply.
type Dispatcher struct {
	weather domain.WeatherProvider
	search  domain.Searcher
	logger  *slog.Logger

	botName    string
	now        func() time.Time
	loc        *time.Location
	timeFormat string

	rngMu sync.Mutex
	rng   *rand.Rand // nil uses the global source
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBotName sets the bot username used to accept "/cmd@name" commands.
func WithBotName(name string) DispatcherOption {
	return func(d *Dispatcher) { d.botName = name }
}

// WithClock overrides the time source for the time reply.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithLocation sets the time zone of the time reply.
func WithLocation(loc *time.Location) DispatcherOption {
	return func(d *Dispatcher) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithTimeFormat sets the layout of the time reply.
func WithTimeFormat(layout string) DispatcherOption {
	return func(d *Dispatcher) {
		if layout != "" {
			d.timeFormat = layout
		}
	}
}

// WithRand sets the source used to pick from the message pools.
func WithRand(r *rand.Rand) DispatcherOption {
	return func(d *Dispatcher) { d.rng = r }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(weather domain.WeatherProvider, search domain.Searcher, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		weather:    weather,
		search:     search,
		logger:     logger,
		now:        time.Now,
		loc:        time.Local,
		timeFormat: "15:04:05",
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle returns the reply for text, or nil when the message is ignored.
// It never panics: any fault while producing a reply becomes an error reply.
func (d *Dispatcher) Handle(ctx context.Context, text string) (reply *domain.Reply) {
	ctx, span := tracer.StartSpan(ctx, "dispatch.handle")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			d.logger.Error("dispatch panic recovered", "panic", r, "stack", string(debug.Stack()))
			tracer.RecordOutcome(span, "panic", err)
			reply = &domain.Reply{Text: errorReplyPrefix + fmt.Sprint(r)}
		}
	}()

	intent := Classify(text, d.botName)
	span.SetAttributes(tracer.StringAttr("dispatch.intent", intent.Kind.String()))

	reply, err := d.dispatch(ctx, intent)
	if err != nil {
		d.logger.Error("dispatch failed", "intent", intent.Kind.String(), "error", err, "code", domain.ErrorCodeOf(err))
		tracer.RecordOutcome(span, "error", err)
		return &domain.Reply{Text: errorReplyPrefix + err.Error()}
	}
	outcome := "replied"
	if reply == nil {
		outcome = "ignored"
	}
	tracer.RecordOutcome(span, outcome, nil)
	return reply
}

func (d *Dispatcher) dispatch(ctx context.Context, intent domain.Intent) (*domain.Reply, error) {
	switch intent.Kind {
	case domain.IntentNone:
		return nil, nil
	case domain.IntentShowMenu:
		return &domain.Reply{Text: welcomeText, Keyboard: MainMenu}, nil
	case domain.IntentRestart:
		return d.restart(ctx)
	case domain.IntentWeatherPrompt:
		return &domain.Reply{Text: weatherPromptText}, nil
	case domain.IntentSearchPrompt:
		return &domain.Reply{Text: searchPromptText}, nil
	case domain.IntentShowTime:
		return &domain.Reply{Text: formatTime(d.now().In(d.loc).Format(d.timeFormat))}, nil
	case domain.IntentShowHelp:
		return &domain.Reply{Text: helpText, ParseMode: domain.ParseModeMarkdown}, nil
	case domain.IntentWeatherQuery:
		return d.weatherReply(ctx, intent.Arg), nil
	case domain.IntentFreeTextSearch:
		return d.searchReply(ctx, intent.Arg), nil
	default:
		return nil, domain.NewSubSystemError("dispatch", "dispatch", domain.ErrInvalidInput,
			"unhandled intent "+intent.Kind.String())
	}
}

func (d *Dispatcher) restart(ctx context.Context) (*domain.Reply, error) {
	if err := d.search.Restart(ctx); err != nil {
		return nil, domain.WrapOp("restart", err)
	}
	d.logger.Info("search backend restart requested")
	return &domain.Reply{Text: restartDoneText, Keyboard: MainMenu}, nil
}

func (d *Dispatcher) weatherReply(ctx context.Context, city string) *domain.Reply {
	if city == "" {
		d.logger.Debug("weather usage error",
			"error", domain.NewSubSystemError("dispatch", "weather", domain.ErrInvalidInput, "missing city"))
		return &domain.Reply{Text: weatherUsageText}
	}

	res := d.weather.Query(ctx, city)
	switch res.Kind {
	case domain.WeatherSuccess:
		return &domain.Reply{Text: formatWeather(res)}
	case domain.WeatherCityNotFound:
		d.logger.Debug("city not found", "city", city, "code", domain.ErrorCodeOf(res.Err))
		return &domain.Reply{Text: fmt.Sprintf(d.pick(CityNotFoundMessages), city)}
	default:
		d.logger.Warn("weather unavailable", "city", city, "error", res.Err)
		return &domain.Reply{Text: d.pick(WeatherErrorMessages) + retryHint}
	}
}

func (d *Dispatcher) searchReply(ctx context.Context, query string) *domain.Reply {
	out := d.search.Query(ctx, query)
	switch out.Kind {
	case domain.SearchOK:
		return &domain.Reply{
			Text:           formatSearchResults(query, out.Results),
			ParseMode:      domain.ParseModeMarkdown,
			DisablePreview: true,
		}
	case domain.SearchNoResults:
		return &domain.Reply{Text: searchNoResultsText}
	case domain.SearchWarmingUp:
		return &domain.Reply{Text: searchWarmingUpText}
	case domain.SearchTimeout:
		return &domain.Reply{Text: searchTimeoutText}
	default:
		if out.Err != nil && !errors.Is(out.Err, context.Canceled) {
			d.logger.Warn("search unavailable", "error", out.Err, "code", domain.ErrorCodeOf(out.Err))
		}
		if domain.IsTransient(out.Err) {
			return &domain.Reply{Text: searchFailedText + retryHint}
		}
		return &domain.Reply{Text: searchFailedText}
	}
}

func (d *Dispatcher) pick(pool []string) string {
	if d.rng == nil {
		return pool[rand.IntN(len(pool))]
	}
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return pool[d.rng.IntN(len(pool))]
}
