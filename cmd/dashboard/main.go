// Package main runs the dashboard analytics service:
// - Record cache (in-memory): indexed store with periodic sync
// - Refresh scheduler: full load on cold start, deltas thereafter
// - HTTP API: filtered trades, metrics snapshots, cache statistics
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeboard/internal/dashboard"
	"tradeboard/internal/datasource"
	"tradeboard/internal/datasource/stub"
	"tradeboard/internal/domain"
	"tradeboard/internal/observability"
	"tradeboard/internal/snapshot"
	"tradeboard/internal/storage/memory"
)

// Server holds the running service components.
type Server struct {
	core          *dashboard.Core
	stream        *datasource.Stream
	checkInterval time.Duration
	logger        *log.Logger
	started       time.Time
}

func main() {
	// Load .env file if exists; system env vars take precedence
	_ = godotenv.Load()

	// Parse flags (env vars as defaults)
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for the trades datastore")
	apiURL := flag.String("api-url", os.Getenv("TRADES_API_URL"), "HTTP base URL of the trades API")
	apiKey := flag.String("api-key", os.Getenv("TRADES_API_KEY"), "Bearer token for the trades API")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("TRADES_WS_ENDPOINT"), "WebSocket endpoint for pushed trade rows (optional)")
	snapshotPath := flag.String("snapshot-path", os.Getenv("SNAPSHOT_PATH"), "SQLite durability snapshot path (optional)")
	listenAddr := flag.String("listen-addr", ":8080", "HTTP API address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	maxRecords := flag.Int("max-records", memory.DefaultMaxRecords, "Cache capacity before eviction applies")
	freshness := flag.Duration("freshness-window", memory.DefaultFreshnessWindow, "Age after which the cache is considered stale")
	checkInterval := flag.Duration("check-interval", 30*time.Second, "Periodic refresh check interval")
	incInterval := flag.Duration("incremental-interval", time.Minute, "Minimum gap between incremental syncs")
	demo := flag.Bool("demo", false, "Run against a built-in stub data source")
	verbose := flag.Bool("verbose", false, "Verbose logging")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[dashboard] ", log.LstdFlags)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick data source
	source, cleanup, err := createSource(ctx, *postgresDSN, *apiURL, *apiKey, *demo)
	if err != nil {
		logger.Fatalf("Failed to create data source: %v", err)
	}
	defer cleanup()

	store := memory.NewRecordCache(memory.Config{
		MaxRecords:      *maxRecords,
		FreshnessWindow: *freshness,
	})

	var slot *snapshot.Slot
	if *snapshotPath != "" {
		slot, err = snapshot.Open(*snapshotPath)
		if err != nil {
			logger.Fatalf("Failed to open snapshot slot: %v", err)
		}
		defer slot.Close()
	}

	core := dashboard.New(dashboard.Options{
		Store:               store,
		Source:              source,
		Snapshot:            slot,
		FreshnessWindow:     *freshness,
		IncrementalInterval: *incInterval,
		Verbose:             *verbose,
	})

	server := &Server{
		core:          core,
		checkInterval: *checkInterval,
		logger:        logger,
		started:       time.Now(),
	}

	if *wsEndpoint != "" {
		cfg := datasource.DefaultStreamConfig()
		cfg.Verbose = *verbose
		server.stream = datasource.NewStream(*wsEndpoint, cfg)
	}

	// Seed from the durability snapshot before the first refresh
	if seeded, err := core.SeedFromSnapshot(ctx); err != nil {
		logger.Printf("Snapshot seed failed: %v", err)
	} else if seeded > 0 {
		logger.Printf("Seeded %d records from snapshot", seeded)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()

	// Start HTTP servers
	go server.startAPIServer(*listenAddr)
	go startMetricsServer(*metricsAddr, logger)

	if err := server.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createSource picks a data source from flags: stub for demo mode,
// PostgreSQL when a DSN is given, the HTTP API otherwise.
func createSource(ctx context.Context, postgresDSN, apiURL, apiKey string, demo bool) (datasource.DataSource, func(), error) {
	if demo {
		return stub.NewStubSource(demoRows(), nil), func() {}, nil
	}

	if postgresDSN != "" {
		src, err := datasource.NewPostgresSource(ctx, postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return src, src.Close, nil
	}

	if apiURL != "" {
		opts := []datasource.HTTPOption{}
		if apiKey != "" {
			opts = append(opts, datasource.WithAPIKey(apiKey))
		}
		return datasource.NewHTTPSource(apiURL, opts...), func() {}, nil
	}

	return nil, nil, fmt.Errorf("no data source configured: set --postgres-dsn, --api-url or --demo")
}

// Run drives the refresh scheduler and the optional stream feed until
// the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if s.stream != nil {
		go func() {
			if err := s.stream.Run(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("stream: %w", err)
			}
		}()
		go func() {
			if err := s.core.MergeStream(ctx, s.stream.Rows()); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("stream merge: %w", err)
			}
		}()
	}

	// First check runs immediately: cold cache means a full load
	s.runCheck(ctx)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.runCheck(ctx)
		}
	}
}

func (s *Server) runCheck(ctx context.Context) {
	result, err := s.core.CheckRefresh(ctx)
	if err != nil {
		s.logger.Printf("Refresh check failed: %v", err)
		return
	}
	switch {
	case result.ServedFromCache:
		s.logger.Printf("Refresh %s recovered from cache: %v", result.Action, result.Warning)
	case result.Superseded:
		s.logger.Printf("Refresh %s superseded by a concurrent write", result.Action)
	case result.Loaded > 0 || result.Added > 0:
		s.logger.Printf("Refresh %s: loaded=%d added=%d skipped=%d",
			result.Action, result.Loaded, result.Added, result.Skipped)
	}
}

// startAPIServer serves the JSON API.
func (s *Server) startAPIServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/statistics", s.handleStatistics)
	mux.HandleFunc("/api/refresh", s.handleRefresh)

	s.logger.Printf("Starting API server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("API server error: %v", err)
	}
}

// startMetricsServer serves Prometheus metrics separately from the API.
func startMetricsServer(addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())

	logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("Metrics server error: %v", err)
	}
}

// filterFromQuery builds a FilterSpec from request query parameters.
func filterFromQuery(r *http.Request) (domain.FilterSpec, error) {
	q := r.URL.Query()

	periodStr := q.Get("period")
	if periodStr == "" {
		periodStr = string(domain.Period30Day)
	}
	period, err := domain.ParsePeriod(periodStr)
	if err != nil {
		return domain.FilterSpec{}, err
	}

	spec := domain.FilterSpec{
		Period:  period,
		Symbol:  q.Get("symbol"),
		Outcome: q.Get("outcome"),
	}

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.FilterSpec{}, fmt.Errorf("%w: bad start: %v", domain.ErrInvalidFilter, err)
		}
		spec.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.FilterSpec{}, fmt.Errorf("%w: bad end: %v", domain.ErrInvalidFilter, err)
		}
		spec.End = &t
	}

	return spec, spec.Validate()
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	spec, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.core.ApplyFilter(r.Context(), spec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"count": len(records), "trades": records})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	spec, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := s.core.GetMetrics(r.Context(), spec)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, snap)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.core.GetStatistics())
}

// handleRefresh forces a sync. POST only; ?full=true forces a full
// reload instead of a delta.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var err error
	var result any
	if r.URL.Query().Get("full") == "true" {
		result, err = s.core.RefreshFull(r.Context())
	} else {
		result, err = s.core.RefreshIncremental(r.Context())
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, result)
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string                 `json:"status"`
	Uptime        string                 `json:"uptime"`
	Cache         domain.CacheStatistics `json:"cache"`
	Notifications int                    `json:"notifications"`
	RecentErrors  int                    `json:"recent_errors"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).String(),
		Cache:         s.core.GetStatistics(),
		Notifications: len(s.core.Notifications()),
		RecentErrors:  len(s.core.RecentErrors()),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// demoRows returns a small fixed dataset for --demo mode.
func demoRows() []domain.TradeRow {
	now := time.Now()
	f := func(v float64) *float64 { return &v }
	ts := func(t time.Time) *time.Time { return &t }
	return []domain.TradeRow{
		{ID: "demo-1", Symbol: "AAPL", EntryPrice: 150, ExitPrice: f(155), Quantity: 10, RealizedPnL: f(50), Outcome: "WIN", TradeDate: now.Add(-48 * time.Hour), CreatedAt: ts(now.Add(-47 * time.Hour))},
		{ID: "demo-2", Symbol: "TSLA", EntryPrice: 240, ExitPrice: f(232), Quantity: 5, RealizedPnL: f(-40), Outcome: "LOSS", TradeDate: now.Add(-24 * time.Hour), CreatedAt: ts(now.Add(-23 * time.Hour))},
		{ID: "demo-3", Symbol: "MSFT", EntryPrice: 410, ExitPrice: f(418), Quantity: 4, RealizedPnL: f(32), Outcome: "WIN", TradeDate: now.Add(-6 * time.Hour), CreatedAt: ts(now.Add(-5 * time.Hour))},
	}
}
