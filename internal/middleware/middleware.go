// Package middleware wraps a transport.Transport with optional
// cross-cutting behavior (logging, latency tracing) that a connection URI
// can opt into by tag, e.g. "radio+log://...". Middleware composes by
// delegation around the Transport interface, never by modifying the
// wrapped driver, so any number of tags can stack in URI order.
package middleware

import (
	"context"
	"log"
	"time"

	"crtplink/internal/transport"
	"crtplink/pkg/crtp"
)

// Logging wraps t so every Configure/SendAndReceive call is logged with
// plain stdlib log.Printf.
type Logging struct {
	transport.Transport
	prefix string
}

// NewLogging returns t wrapped with request/response logging.
func NewLogging(t transport.Transport, prefix string) *Logging {
	return &Logging{Transport: t, prefix: prefix}
}

func (l *Logging) Configure(ctx context.Context, cfg crtp.RadioConfig) error {
	log.Printf("%s: configure channel=%d rate=%s address=%s", l.prefix, cfg.Channel, cfg.DataRate, cfg.Address)
	return l.Transport.Configure(ctx, cfg)
}

func (l *Logging) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	ack, err := l.Transport.SendAndReceive(ctx, payload)
	if err != nil {
		log.Printf("%s: send %d bytes: error: %v", l.prefix, len(payload), err)
		return ack, err
	}
	log.Printf("%s: send %d bytes -> ack=%v retries=%d resp=%d bytes", l.prefix, len(payload), ack.Ack, ack.RetryCount, len(ack.Data))
	return ack, nil
}

// Tracing wraps t to report the latency of each SendAndReceive round trip
// to a caller-supplied callback; it keeps no window or statistics of its
// own. It is a link-health signal comparable to the ack quality the radio
// link worker keeps (internal/link/quality.go), but observable
// independently of safe-link being enabled.
type Tracing struct {
	transport.Transport
	onSample func(time.Duration)
}

// NewTracing returns t wrapped so every completed SendAndReceive call
// reports its wall-clock duration to onSample.
func NewTracing(t transport.Transport, onSample func(time.Duration)) *Tracing {
	return &Tracing{Transport: t, onSample: onSample}
}

func (tr *Tracing) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	start := time.Now()
	ack, err := tr.Transport.SendAndReceive(ctx, payload)
	if tr.onSample != nil {
		tr.onSample(time.Since(start))
	}
	return ack, err
}

// Wrap applies the named middleware tags, in order, around base. Unknown
// tags are rejected so a mistyped URI fails at connect time rather than
// silently skipping a requested wrapper.
func Wrap(base transport.Transport, tags []string) (transport.Transport, error) {
	t := base
	for _, tag := range tags {
		switch tag {
		case "log":
			t = NewLogging(t, "crtp")
		case "trace":
			t = NewTracing(t, func(time.Duration) {})
		default:
			return nil, &UnknownTagError{Tag: tag}
		}
	}
	return t, nil
}

// UnknownTagError reports a middleware tag in a connection URI that does
// not name a known wrapper.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return "middleware: unknown tag " + e.Tag
}
