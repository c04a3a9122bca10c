package usecase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"assistbot/internal/domain"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []domain.OutboundMessage
	ids  []string
	err  error
}

func (r *recordingSender) send(ctx context.Context, msg domain.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	r.ids = append(r.ids, RequestIDFromContext(ctx))
	return r.err
}

func TestMessageHandlerSendsReply(t *testing.T) {
	rec := &recordingSender{}
	h := NewMessageHandler(newTestDispatcher(&mockWeather{}, &mockSearcher{}), rec.send, noopLogger())

	err := h(context.Background(), domain.InboundMessage{ChatID: "42", Text: "/start", MessageID: "7", ChannelName: "telegram"})

	require.NoError(t, err)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "42", rec.msgs[0].ChatID)
	assert.Equal(t, "7", rec.msgs[0].ReplyToID)
	assert.Equal(t, welcomeText, rec.msgs[0].Text)
	assert.Equal(t, MainMenu, rec.msgs[0].Keyboard)

	_, err = ulid.Parse(rec.ids[0])
	assert.NoError(t, err, "request id should be a ULID")
}

func TestMessageHandlerIgnoredSendsNothing(t *testing.T) {
	rec := &recordingSender{}
	h := NewMessageHandler(newTestDispatcher(&mockWeather{}, &mockSearcher{}), rec.send, noopLogger())

	require.NoError(t, h(context.Background(), domain.InboundMessage{ChatID: "1", Text: "/nope"}))
	require.NoError(t, h(context.Background(), domain.InboundMessage{ChatID: "1", Text: "   "}))
	assert.Empty(t, rec.msgs)
}

func TestMessageHandlerSendError(t *testing.T) {
	rec := &recordingSender{err: errors.New("telegram down")}
	h := NewMessageHandler(newTestDispatcher(&mockWeather{}, &mockSearcher{}), rec.send, noopLogger())

	err := h(context.Background(), domain.InboundMessage{ChatID: "1", Text: "/help"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram down")
}

func TestMessageHandlerUniqueRequestIDs(t *testing.T) {
	rec := &recordingSender{}
	h := NewMessageHandler(newTestDispatcher(&mockWeather{}, &mockSearcher{}), rec.send, noopLogger())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h(context.Background(), domain.InboundMessage{ChatID: "1", Text: "/time"})
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range rec.ids {
		seen[id] = true
	}
	assert.Len(t, seen, 20)
}

func TestMessageHandlerIsolatesFailures(t *testing.T) {
	rec := &recordingSender{}
	s := &mockSearcher{panicWith: "boom"}
	h := NewMessageHandler(newTestDispatcher(&mockWeather{}, s), rec.send, noopLogger())

	require.NoError(t, h(context.Background(), domain.InboundMessage{ChatID: "1", Text: "crash please"}))
	require.NoError(t, h(context.Background(), domain.InboundMessage{ChatID: "2", Text: "/time"}))

	require.Len(t, rec.msgs, 2)
	assert.Equal(t, errorReplyPrefix+"boom", rec.msgs[0].Text)
	assert.Contains(t, rec.msgs[1].Text, "Current time")
}

func TestMessageHandlerTracesAndCorrelatesLogs(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var logs bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rec2 := &recordingSender{}
	h := NewMessageHandler(newTestDispatcher(&mockWeather{}, &mockSearcher{}), rec2.send, log)

	require.NoError(t, h(context.Background(), domain.InboundMessage{ChatID: "1", Text: "/help"}))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	dispatch, message := spans[0], spans[1]
	assert.Equal(t, "dispatch.handle", dispatch.Name())
	assert.Equal(t, "message.handle", message.Name())
	assert.Equal(t, message.SpanContext().SpanID(), dispatch.Parent().SpanID())
	assert.Contains(t, logs.String(), `"trace_id":"`+message.SpanContext().TraceID().String()+`"`)
}
