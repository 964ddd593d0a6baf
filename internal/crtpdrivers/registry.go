// Package crtpdrivers maps connection URIs to concrete transports, the way
// aiocflib/crtp/drivers/registry.py's scheme->constructor table does, and
// applies any "+tag" middleware suffixes named in the scheme. It is the
// one place a caller needs to know about to go from a URI string to a
// live transport.Transport.
package crtpdrivers

import (
	"context"
	"fmt"
	"strings"

	"crtplink/internal/middleware"
	"crtplink/internal/sharedradio"
	"crtplink/internal/sitl"
	"crtplink/internal/transport"
	"crtplink/pkg/crtp"
)

// radioArbiter is the single process-wide shared-radio arbiter for the
// "radio" scheme: every radio:// connection for the same dongle index
// shares one physical transport through it, matching
// aiocflib/crtp/drivers/radio.py's module-level shared-state registry.
var radioArbiter = sharedradio.New(func(index int) (transport.Transport, error) {
	return transport.OpenUSBRadio(index)
})

// Connection bundles the parsed URI, the resolved RadioConfig (meaningful
// for the radio driver, zero for the others) and the live transport ready
// for use by a link worker.
type Connection struct {
	URI       string
	Config    crtp.RadioConfig
	Transport transport.Transport

	release func() error
}

// Close releases any arbiter handle or connection held by the driver that
// produced this Connection.
func (c *Connection) Close() error {
	if c.release == nil {
		return nil
	}
	return c.release()
}

// Connect parses uri, resolves its driver and middleware tags, and
// returns a live Connection. The scheme is "<driver>[+<tag>]*", e.g.
// "radio://0/80/2M/E7E7E7E704", "radio+log://...", "usb://0",
// "sitl://localhost:5432", "sitl+grpc://localhost:5432".
func Connect(ctx context.Context, uri string) (*Connection, error) {
	schemeAndPath, _, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no scheme", crtp.ErrWrongURI, uri)
	}
	tags := strings.Split(schemeAndPath, "+")
	driver := tags[0]
	tags = tags[1:]

	canonical := driver + "://" + strings.SplitN(uri, "://", 2)[1]
	parsed, err := crtp.ParseRadioURI(canonical)
	if err != nil && driver == "radio" {
		return nil, err
	}

	var conn *Connection
	switch driver {
	case "radio":
		conn, err = connectRadio(ctx, parsed)
	case "usb":
		conn, err = connectUSB(ctx, canonical)
	case "sitl":
		useGRPC := false
		tags, useGRPC = popTag(tags, "grpc")
		conn, err = connectSITL(ctx, canonical, useGRPC)
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", crtp.ErrWrongURI, driver)
	}
	if err != nil {
		return nil, err
	}

	if len(tags) > 0 {
		wrapped, werr := middleware.Wrap(conn.Transport, tags)
		if werr != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", crtp.ErrWrongURI, werr)
		}
		conn.Transport = wrapped
	}
	conn.URI = uri
	return conn, nil
}

func connectRadio(ctx context.Context, parsed crtp.ParsedRadioURI) (*Connection, error) {
	cfg := crtp.RadioConfig{
		Index:    parsed.Index,
		Channel:  parsed.Channel,
		DataRate: parsed.Rate,
		Address:  parsed.Address,
	}
	handle, err := radioArbiter.Acquire(ctx, cfg.Index, cfg)
	if err != nil {
		return nil, fmt.Errorf("crtpdrivers: radio: %w", err)
	}
	return &Connection{Config: cfg, Transport: handle, release: handle.Release}, nil
}

func connectUSB(ctx context.Context, uri string) (*Connection, error) {
	parsed, err := crtp.ParseRadioURI(uri)
	if err != nil {
		return nil, err
	}
	t, err := transport.OpenUSBRadio(parsed.Index)
	if err != nil {
		return nil, fmt.Errorf("crtpdrivers: usb: %w", err)
	}
	return &Connection{Transport: t, release: t.Close}, nil
}

func connectSITL(ctx context.Context, uri string, useGRPC bool) (*Connection, error) {
	rest := strings.TrimPrefix(uri, "sitl://")
	if rest == "" {
		return nil, fmt.Errorf("%w: sitl URI missing host:port", crtp.ErrWrongURI)
	}
	// Plain "sitl" uses the length-prefixed TCP framing; "sitl+grpc"
	// dials the gRPC transport instead, since the two are not
	// interchangeable wire formats.
	if useGRPC {
		t, err := sitl.DialGRPC(rest)
		if err != nil {
			return nil, fmt.Errorf("crtpdrivers: sitl: %w", err)
		}
		return &Connection{Transport: t, release: t.Close}, nil
	}
	t, err := sitl.DialTCP(rest)
	if err != nil {
		return nil, fmt.Errorf("crtpdrivers: sitl: %w", err)
	}
	return &Connection{Transport: t, release: t.Close}, nil
}

// popTag removes name from tags if present, reporting whether it was
// found. Used to peel off driver-selecting pseudo-tags ("grpc") before
// the remainder is handed to middleware.Wrap.
func popTag(tags []string, name string) ([]string, bool) {
	out := tags[:0:0]
	found := false
	for _, t := range tags {
		if t == name {
			found = true
			continue
		}
		out = append(out, t)
	}
	return out, found
}
