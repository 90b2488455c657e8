// Command artbench drives a multi-goroutine workload against an olcart tree
// and reports throughput per phase.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ezreal1997/olcart"
	"github.com/ezreal1997/olcart/artprom"
)

var (
	n           = flag.Int("n", 1_000_000, "Number of keys")
	workers     = flag.Int("workers", 8, "Number of worker goroutines")
	keyKind     = flag.String("keys", "dense", "Key distribution: dense, random, sparse or uuid")
	scans       = flag.Int("range", 0, "Number of range lookups per worker, 0 skips the phase")
	scanLimit   = flag.Int("range-limit", 100, "Maximum TIDs per range lookup")
	mixed       = flag.Duration("mixed", 0, "Duration of the mixed insert/remove/lookup phase, 0 skips it")
	opsRate     = flag.Float64("rate", 0, "Operations per second for the mixed phase, 0 means unlimited")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :2112")
	verbose     = flag.Bool("v", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := olcart.NewTextLogger(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("artbench failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *olcart.Logger) error {
	if *workers <= 0 || *n < *workers {
		return errors.New("-workers must be positive and -n at least -workers")
	}

	keys, err := generateKeys(*keyKind, *n)
	if err != nil {
		return err
	}
	loadKey := func(tid olcart.TID) olcart.Key { return keys[tid-1] }

	opts := []olcart.Option{olcart.WithLogger(logger)}
	metrics := &olcart.BasicMetricsCollector{}
	reg := prometheus.NewRegistry()
	if *metricsAddr != "" {
		reg.MustRegister(collectors.NewGoCollector())
		opts = append(opts, olcart.WithMetricsCollector(artprom.MustNew(reg)))
		go serveMetrics(logger, reg)
	} else {
		opts = append(opts, olcart.WithMetricsCollector(metrics))
	}

	tree, err := olcart.New(loadKey, opts...)
	if err != nil {
		return err
	}
	defer tree.Close()
	if *metricsAddr != "" {
		if err := artprom.RegisterTree(reg, *keyKind, tree); err != nil {
			return err
		}
	}

	logger.Info("starting workload",
		"keys", humanize.Comma(int64(len(keys))),
		"distribution", *keyKind,
		"workers", *workers,
	)

	if err := phase(ctx, logger, tree, "insert", fixed(len(keys)), func(ctx context.Context, s *olcart.Session, w int) error {
		for i := w; i < len(keys); i += *workers {
			if err := tree.Insert(s, keys[i], olcart.TID(i+1)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := phase(ctx, logger, tree, "lookup", fixed(len(keys)), func(ctx context.Context, s *olcart.Session, w int) error {
		for i := w; i < len(keys); i += *workers {
			tid, ok := tree.Lookup(s, keys[i])
			if !ok || tid != olcart.TID(i+1) {
				return fmt.Errorf("lookup of key %x returned %d, %v", []byte(keys[i]), tid, ok)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if *scans > 0 {
		if err := rangePhase(ctx, logger, tree, keys); err != nil {
			return err
		}
	}

	if *mixed > 0 {
		if err := mixedPhase(ctx, logger, tree, keys); err != nil {
			return err
		}
	}

	s := tree.NewSession()
	stats := tree.Stats(s)
	s.Close()
	logger.Info("tree stats", "stats", stats.String())
	if *metricsAddr == "" {
		m := metrics.GetStats()
		logger.Info("operation stats",
			"inserts", m.InsertCount,
			"lookups", m.LookupCount,
			"ranges", m.RangeCount,
			"removes", m.RemoveCount,
			"restarts", m.Restarts,
			"reclaimed", m.Reclaimed,
		)
	}
	return nil
}

type workerFunc func(ctx context.Context, s *olcart.Session, w int) error

func fixed(ops int) func() int {
	return func() int { return ops }
}

// phase runs fn on every worker with its own session and logs the
// throughput of the operations counted by ops.
func phase(ctx context.Context, logger *olcart.Logger, tree *olcart.Tree, name string, ops func() int, fn workerFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < *workers; w++ {
		g.Go(func() error {
			s := tree.NewSession()
			defer s.Close()
			return fn(ctx, s, w)
		})
	}
	err := g.Wait()
	logger.WithPhase(name).LogPhase(ops(), time.Since(start), err)
	return err
}

// rangePhase scans random ranges and checks that every result is ordered
// and inside its range.
func rangePhase(ctx context.Context, logger *olcart.Logger, tree *olcart.Tree, keys []olcart.Key) error {
	sorted := make([]olcart.Key, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })

	return phase(ctx, logger, tree, "range", fixed((*scans)*(*workers)), func(ctx context.Context, s *olcart.Session, w int) error {
		rng := rand.New(rand.NewSource(int64(w)))
		for i := 0; i < *scans; i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lo := rng.Intn(len(sorted))
			hi := min(lo+rng.Intn(2*(*scanLimit)), len(sorted)-1)
			tids, _ := tree.LookupRange(s, sorted[lo], sorted[hi], *scanLimit)
			if want := min(hi-lo+1, *scanLimit); len(tids) != want {
				return fmt.Errorf("range %d..%d returned %d results, want %d", lo, hi, len(tids), want)
			}
			for j, tid := range tids {
				if !keys[tid-1].Equal(sorted[lo+j]) {
					return fmt.Errorf("range %d..%d: result %d out of order", lo, hi, j)
				}
			}
		}
		return nil
	})
}

// mixedPhase removes and re-inserts the keys owned by each worker while all
// workers keep looking up random keys, paced by a shared rate limiter.
func mixedPhase(ctx context.Context, logger *olcart.Logger, tree *olcart.Tree, keys []olcart.Key) error {
	limit := rate.Inf
	if *opsRate > 0 {
		limit = rate.Limit(*opsRate)
	}
	limiter := rate.NewLimiter(limit, *workers)

	ctx, cancel := context.WithTimeout(ctx, *mixed)
	defer cancel()

	ops := make([]int, *workers)
	total := func() int {
		sum := 0
		for _, o := range ops {
			sum += o
		}
		return sum
	}
	err := phase(ctx, logger, tree, "mixed", total, func(ctx context.Context, s *olcart.Session, w int) error {
		rng := rand.New(rand.NewSource(int64(w)))
		for ctx.Err() == nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
			i := w + rng.Intn(len(keys)/(*workers))*(*workers)
			if i >= len(keys) {
				continue
			}
			tid := olcart.TID(i + 1)
			switch rng.Intn(4) {
			case 0:
				if tree.Remove(s, keys[i], tid) {
					if err := tree.Insert(s, keys[i], tid); err != nil {
						return err
					}
				}
			default:
				j := rng.Intn(len(keys))
				if got, ok := tree.Lookup(s, keys[j]); ok && got != olcart.TID(j+1) {
					return fmt.Errorf("lookup of key %x returned %d", []byte(keys[j]), got)
				}
			}
			ops[w]++
		}
		return nil
	})
	logger.Info("mixed phase finished", "ops", humanize.Comma(int64(total())), "keys", tree.Len())
	return err
}

func serveMetrics(logger *olcart.Logger, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", "addr", *metricsAddr)
	if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// generateKeys returns n distinct keys of the given distribution. TID i+1
// belongs to keys[i].
func generateKeys(kind string, n int) ([]olcart.Key, error) {
	keys := make([]olcart.Key, n)
	switch kind {
	case "dense":
		for i := range keys {
			keys[i] = olcart.KeyFromUint64(uint64(i + 1))
		}
	case "random":
		rng := rand.New(rand.NewSource(1))
		for i, v := range rng.Perm(n) {
			keys[i] = olcart.KeyFromUint64(uint64(v + 1))
		}
	case "sparse":
		rng := rand.New(rand.NewSource(1))
		seen := make(map[uint64]struct{}, n)
		for i := range keys {
			v := rng.Uint64()
			for {
				if _, dup := seen[v]; !dup {
					break
				}
				v = rng.Uint64()
			}
			seen[v] = struct{}{}
			keys[i] = olcart.KeyFromUint64(v)
		}
	case "uuid":
		for i := range keys {
			id := uuid.New()
			keys[i] = olcart.Key(id[:])
		}
	default:
		return nil, fmt.Errorf("unknown key distribution %q", kind)
	}
	return keys, nil
}
