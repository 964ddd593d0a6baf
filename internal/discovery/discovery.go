// Package discovery probes a local subnet for SITL daemons (simulated
// drone fleets reachable over gRPC) and reports the fastest-responding
// one, generalized from the teacher's internal/discovery/discovery.go
// network scanner (WaitGroup + semaphore bounded concurrency, a buffered
// results channel, first-responder-wins-with-latency-tiebreak selection).
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"crtplink/internal/sitl"
	"crtplink/internal/stats"
)

// Result describes one probed address.
type Result struct {
	Address    string
	LatencyMs  int64
	Responding bool
	Err        string
}

// Config controls a subnet scan for SITL daemons.
type Config struct {
	Subnet          string        // CIDR, e.g. "192.168.1.0/24"; auto-detected if empty
	Port            int           // gRPC port the SITL daemon listens on
	Timeout         time.Duration // per-host probe timeout; the dial uses sitl.DialGRPC's fixed 5s instead
	ConcurrentScans int           // bounded worker count
	SkipLocalhost   bool
}

// DefaultConfig returns the default subnet scan settings.
func DefaultConfig() Config {
	return Config{
		Port:            5432,
		Timeout:         2 * time.Second,
		ConcurrentScans: 20,
	}
}

// DiscoverFleet scans cfg.Subnet (or the local /24 if unset) for
// responding SITL daemons, probing each candidate with a gRPC Ping call.
func DiscoverFleet(ctx context.Context, cfg Config) ([]Result, error) {
	if cfg.Subnet == "" {
		subnet, err := LocalSubnet()
		if err != nil {
			return nil, fmt.Errorf("discovery: determine local subnet: %w", err)
		}
		cfg.Subnet = subnet
	}

	ip, ipnet, err := net.ParseCIDR(cfg.Subnet)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid subnet %q: %w", cfg.Subnet, err)
	}

	var candidates []string
	if !cfg.SkipLocalhost {
		candidates = append(candidates, "127.0.0.1")
	}
	for scan := ip.Mask(ipnet.Mask); ipnet.Contains(scan); incrementIP(scan) {
		candidates = append(candidates, scan.String())
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, max(1, cfg.ConcurrentScans))
	resultsCh := make(chan Result, len(candidates))

	for _, host := range candidates {
		addr := fmt.Sprintf("%s:%d", host, cfg.Port)
		wg.Add(1)
		sem <- struct{}{}
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()
			resultsCh <- probe(ctx, addr, cfg.Timeout)
		}(addr)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var results []Result
	for r := range resultsCh {
		results = append(results, r)
	}
	return results, nil
}

// probe dials addr (sitl.DialGRPC verifies the daemon with one Ping) and
// reports how long that took. The sliding window is created afresh for
// each probe and holds that single sample, so no smoothing across probes
// takes place.
func probe(ctx context.Context, addr string, timeout time.Duration) Result {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = probeCtx // unused: sitl.DialGRPC bounds its Ping by its own fixed 5s, not by timeout

	start := time.Now()
	t, err := sitl.DialGRPC(addr)
	latency := time.Since(start)
	if err != nil {
		return Result{Address: addr, Err: err.Error()}
	}
	defer t.Close()

	window := stats.NewSlidingWindowMean(8)
	window.Push(float64(latency.Milliseconds()))

	return Result{Address: addr, Responding: true, LatencyMs: int64(window.Mean())}
}

// FindFastest returns the lowest-latency responding result, or nil if
// none responded.
func FindFastest(results []Result) *Result {
	var best *Result
	for i := range results {
		r := &results[i]
		if !r.Responding {
			continue
		}
		if best == nil || r.LatencyMs < best.LatencyMs {
			best = r
		}
	}
	return best
}

// DiscoverAndDial scans cfg's subnet and dials the fastest-responding
// SITL daemon found.
func DiscoverAndDial(ctx context.Context, cfg Config) (*sitl.GRPCTransport, *Result, error) {
	results, err := DiscoverFleet(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	best := FindFastest(results)
	if best == nil {
		return nil, nil, fmt.Errorf("discovery: no SITL daemon responded on %s", cfg.Subnet)
	}
	t, err := sitl.DialGRPC(best.Address)
	if err != nil {
		return nil, best, fmt.Errorf("discovery: dial fastest responder %s: %w", best.Address, err)
	}
	return t, best, nil
}

func incrementIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
