// Package natsbus is an optional second command source, alongside stdin:
// when enabled, it subscribes to a NATS subject and feeds each message
// body into the same dispatcher queue stdin feeds, so the dispatcher's
// grammar and single-threaded semantics are unaffected by which transport
// produced a given line. Grounded on
// libs/go/core/natsctx.go's trace-context-propagating Subscribe wrapper.
package natsbus

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// Bus subscribes to subject on the NATS connection opened by Subscribe and
// forwards every message body to sink.
type Bus struct {
	sub    *nats.Subscription
	logger *slog.Logger
}

// Subscribe connects to url and relays messages on subject into sink,
// which is typically a Dispatcher's Enqueue method.
func Subscribe(ctx context.Context, url, subject string, logger *slog.Logger, sink func(context.Context, string) error) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}

	tracer := otel.Tracer("supervisor/natsbus")
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		carrier := natsHeaderCarrier{msg}
		msgCtx := propagator.Extract(ctx, carrier)
		msgCtx, span := tracer.Start(msgCtx, "natsbus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		if err := sink(msgCtx, string(msg.Data)); err != nil {
			logger.Warn("natsbus: failed to enqueue command", "subject", subject, "error", err)
		}
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	logger.Info("natsbus subscribed", "subject", subject)
	return &Bus{sub: sub, logger: logger}, nil
}

// Close unsubscribes and releases the underlying connection.
func (b *Bus) Close() error {
	nc := b.sub.Conn()
	if err := b.sub.Unsubscribe(); err != nil {
		return err
	}
	nc.Close()
	return nil
}

type natsHeaderCarrier struct {
	msg *nats.Msg
}

func (c natsHeaderCarrier) Get(key string) string {
	if c.msg.Header == nil {
		return ""
	}
	return c.msg.Header.Get(key)
}

func (c natsHeaderCarrier) Set(key, value string) {
	if c.msg.Header == nil {
		c.msg.Header = nats.Header{}
	}
	c.msg.Header.Set(key, value)
}

func (c natsHeaderCarrier) Keys() []string {
	if c.msg.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.msg.Header))
	for k := range c.msg.Header {
		keys = append(keys, k)
	}
	return keys
}
