// Command crtpctl is a thin smoke-test CLI over the crtplink library:
// it connects to a peer named by a connection URI, then runs one of a
// handful of subcommands against it. Per spec.md's Non-goals, command
// line entry points are not part of the library's core; this binary
// exists only to exercise internal/* end to end the way the teacher's
// own cmd/cli/main.go exercises its driver layer, not as a product in
// its own right.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"crtplink/internal/config"
	"crtplink/internal/crtpdrivers"
	"crtplink/internal/device"
	"crtplink/internal/dispatcher"
	"crtplink/internal/link"
	"crtplink/internal/logblock"
	"crtplink/internal/mem"
	"crtplink/internal/toc"
	"crtplink/pkg/crtp"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-uri=...] <scan|mem|log>\n", os.Args[0])
		flag.PrintDefaults()
	}
	cfg, err := config.LoadLinkConfig()
	if err != nil {
		log.Printf("crtpctl: %v (using built-in defaults)", err)
		cfg = &config.LinkConfig{URI: "radio://0/80/2M/E7E7E7E704"}
	}
	if cfg.URI == "" {
		cfg.URI = "radio://0/80/2M/E7E7E7E704"
	}
	if cfg.TOCCacheDir == "" {
		cfg.TOCCacheDir = filepath.Join(os.TempDir(), "crtpctl-toc-cache")
	}

	uri := flag.String("uri", cfg.URI, "connection URI, e.g. radio://0/80/2M/E7E7E7E704")
	variable := flag.String("var", "stateEstimate.z", "log variable to stream (log subcommand)")
	memIndex := flag.Int("mem-index", 0, "index of the I2C memory element to dump (mem subcommand)")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := crtpdrivers.Connect(ctx, *uri)
	if err != nil {
		log.Fatalf("crtpctl: connect %s: %v", *uri, err)
	}
	defer conn.Close()

	worker := link.NewWorker(conn.Transport, link.Presets["default"], false)
	worker.Start(ctx)
	defer worker.Close()

	disp := dispatcher.New()
	dev := device.New(worker, disp)
	dev.Start(ctx)

	cache, err := toc.NewFilesystemCache(cfg.TOCCacheDir)
	if err != nil {
		log.Fatalf("crtpctl: open TOC cache at %s: %v", cfg.TOCCacheDir, err)
	}

	switch flag.Arg(0) {
	case "scan":
		runScan(ctx, conn)
	case "mem":
		runMem(ctx, dev, cache, *memIndex)
	case "log":
		runLog(ctx, dev, cache, *variable)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runScan(ctx context.Context, conn *crtpdrivers.Connection) {
	channels, err := conn.Transport.ScanChannels(ctx, conn.Config.DataRate)
	if err != nil {
		log.Fatalf("crtpctl: scan: %v", err)
	}
	fmt.Printf("found %d channel(s) at %s: %v\n", len(channels), conn.Config.DataRate, channels)
}

func runMem(ctx context.Context, dev *device.Device, cache toc.Cache, index int) {
	memory := mem.New(dev, cache)
	if err := memory.Validate(ctx); err != nil {
		log.Fatalf("crtpctl: mem: enumerate: %v", err)
	}
	handlers, err := memory.FindAll(ctx, crtp.MemoryTypeI2C)
	if err != nil {
		log.Fatalf("crtpctl: mem: find: %v", err)
	}
	if index < 0 || index >= len(handlers) {
		log.Fatalf("crtpctl: mem: no I2C memory element at index %d (found %d)", index, len(handlers))
	}
	h := handlers[index]
	data, err := h.Dump(ctx)
	if err != nil {
		log.Fatalf("crtpctl: mem: dump: %v", err)
	}
	fmt.Printf("memory[%d] type=%s size=%d: %x\n", index, h.Type(), h.Size(), data)
}

func runLog(ctx context.Context, dev *device.Device, cache toc.Cache, variable string) {
	logger := logblock.New(dev, cache)
	if err := logger.Validate(ctx); err != nil {
		log.Fatalf("crtpctl: log: fetch TOC: %v", err)
	}
	if err := logger.Reset(ctx); err != nil {
		log.Fatalf("crtpctl: log: reset: %v", err)
	}

	spec, ok := logger.Variable(variable)
	if !ok {
		log.Fatalf("crtpctl: log: unknown variable %q", variable)
	}

	block := logblock.NewBlock()
	block.AddVariable(spec, logblock.TypeFloat)

	if err := logger.Create(ctx, block); err != nil {
		log.Fatalf("crtpctl: log: create block: %v", err)
	}
	defer logger.Delete(ctx, block)

	if err := logger.Start(ctx, block, 10); err != nil {
		log.Fatalf("crtpctl: log: start block: %v", err)
	}
	defer logger.Stop(ctx, block)

	samples, stop := logger.Stream(block, 16)
	defer stop()

	for i := 0; i < 3; i++ {
		select {
		case s := <-samples:
			fmt.Printf("t=%d %s=%v\n", s.Timestamp, variable, s.Values[0])
		case <-ctx.Done():
			log.Fatalf("crtpctl: log: %v", ctx.Err())
		}
	}
}
