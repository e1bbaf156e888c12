package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lychee-technology/formsync"
	"github.com/lychee-technology/formsync/factory"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
)

type options struct {
	formID       string
	full         bool
	skipSync     bool
	queries      []string
	requests     int
	concurrency  int
	size         int
	seed         int64
	seedProvided bool
}

func main() {
	log.SetFlags(0)

	opts := parseFlags()
	factory.LoadDotEnv(".env", "../.env")
	cfg := factory.ConfigFromEnv()
	cfg.Scheduler.Enabled = false
	logger, err := factory.NewLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("failed to set up logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	c, err := factory.NewComponents(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to wire sync manager: %v", err)
	}
	defer c.Manager.Close()

	if !opts.skipSync {
		if opts.formID == "" {
			log.Fatalf("-form is required unless -skip-sync is set")
		}
		log.Printf("[info] Syncing form %s (full=%t)", opts.formID, opts.full)
		res, err := c.Manager.SyncForm(ctx, opts.formID, opts.full)
		if err != nil {
			log.Fatalf("sync failed: %v", err)
		}
		log.Printf("[info] Indexed %s of %s rows in %s (%s rows/s)",
			humanize.Comma(int64(res.Count)), humanize.Comma(int64(res.Total)),
			res.ElapsedTime.Round(time.Millisecond), humanize.CommafWithDigits(res.Rate, 1))
	}

	if !opts.seedProvided {
		log.Printf("[info] Using random seed %d", opts.seed)
	}
	random := rand.New(rand.NewSource(opts.seed))
	plan := make([]string, opts.requests)
	for i := range plan {
		plan[i] = opts.queries[random.Intn(len(opts.queries))]
	}

	var formIDs []string
	if opts.formID != "" {
		formIDs = []string{opts.formID}
	}
	report := runQueries(ctx, c.Manager, plan, formIDs, opts.size, opts.concurrency)
	printReport(report)
}

func parseFlags() options {
	var opts options
	var queries string
	flag.StringVar(&opts.formID, "form", getenvDefault("BENCH_FORM", ""), "form id to sync and search")
	flag.BoolVar(&opts.full, "full", true, "run a full sync before querying")
	flag.BoolVar(&opts.skipSync, "skip-sync", false, "only run queries")
	flag.StringVar(&queries, "queries", getenvDefault("BENCH_QUERIES", "test,data,report,order,2024"), "comma separated query texts")
	flag.IntVar(&opts.requests, "requests", 200, "number of search requests")
	flag.IntVar(&opts.concurrency, "concurrency", 8, "concurrent search requests")
	flag.IntVar(&opts.size, "size", 10, "hits per request")
	flag.Int64Var(&opts.seed, "seed", 0, "random seed for query selection")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.seedProvided = true
		}
	})
	if !opts.seedProvided {
		opts.seed = time.Now().UnixNano()
	}
	for _, q := range strings.Split(queries, ",") {
		if q = strings.TrimSpace(q); q != "" {
			opts.queries = append(opts.queries, q)
		}
	}
	if len(opts.queries) == 0 {
		log.Fatalf("-queries must name at least one query")
	}
	if opts.requests <= 0 || opts.concurrency <= 0 {
		log.Fatalf("-requests and -concurrency must be positive")
	}
	return opts
}

type searcher interface {
	Search(ctx context.Context, req formsync.SearchRequest) (*formsync.SearchResult, error)
}

// runQueries issues every planned query with at most concurrency in flight.
func runQueries(ctx context.Context, s searcher, plan []string, formIDs []string, size, concurrency int) queryReport {
	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, len(plan))
		failures  int
		hits      int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	start := time.Now()
	for _, q := range plan {
		g.Go(func() error {
			t0 := time.Now()
			res, err := s.Search(gctx, formsync.SearchRequest{Query: q, FormIDs: formIDs, Size: size})
			elapsed := time.Since(t0)

			mu.Lock()
			defer mu.Unlock()
			latencies = append(latencies, elapsed)
			if err != nil {
				failures++
				return nil
			}
			hits += res.Total
			return nil
		})
	}
	_ = g.Wait()

	return summarize(latencies, failures, hits, time.Since(start))
}

func printReport(r queryReport) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"Requests", "Failures", "Elapsed", "Rate", "p50", "p90", "p99", "Max", "Total Hits"})
	table.Append([]string{
		humanize.Comma(int64(r.Count)),
		humanize.Comma(int64(r.Failures)),
		r.Elapsed.Round(time.Millisecond).String(),
		humanize.CommafWithDigits(r.Rate, 1) + "/s",
		r.P50.String(),
		r.P90.String(),
		r.P99.String(),
		r.Max.String(),
		humanize.Comma(r.Hits),
	})
	table.Render()
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
