package usecase

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"assistbot/internal/domain"
	"assistbot/internal/infra/tracer"
)

type requestIDKey struct{}

// RequestIDFromContext returns the request id assigned by NewMessageHandler.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// SendFunc delivers one outbound message.
type SendFunc func(ctx context.Context, msg domain.OutboundMessage) error

// NewMessageHandler adapts d to the channel callback: every inbound message
// is tagged with a request id, dispatched, and answered with at most one
// reply sent back to the originating chat.
func NewMessageHandler(d *Dispatcher, send SendFunc, logger *slog.Logger) domain.MessageHandler {
	return func(ctx context.Context, msg domain.InboundMessage) error {
		id := newRequestID()
		ctx = context.WithValue(ctx, requestIDKey{}, id)
		ctx, span := tracer.StartSpan(ctx, "message.handle")
		defer span.End()
		span.SetAttributes(tracer.StringAttr("request_id", id), tracer.StringAttr("channel", msg.ChannelName))

		log := logger.With("request_id", id, "chat_id", msg.ChatID, "channel", msg.ChannelName)
		if traceID := tracer.TraceID(ctx); traceID != "" {
			log = log.With("trace_id", traceID)
		}

		start := time.Now()
		reply := d.Handle(ctx, msg.Text)
		if reply == nil {
			log.Debug("message ignored")
			tracer.RecordOutcome(span, "ignored", nil)
			return nil
		}

		if err := send(ctx, domain.OutboundMessage{
			ChatID:    msg.ChatID,
			Reply:     *reply,
			ReplyToID: msg.MessageID,
		}); err != nil {
			log.Error("send reply failed", "error", err)
			err = domain.WrapOp("handler.send", err)
			tracer.RecordOutcome(span, "send_failed", err)
			return err
		}
		tracer.RecordOutcome(span, "sent", nil)
		log.Info("message handled", "duration", time.Since(start))
		return nil
	}
}

func newRequestID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
