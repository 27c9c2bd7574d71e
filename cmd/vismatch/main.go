// Package main is the vismatch CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/vismatch/internal/cli"
	"github.com/hyperjump/vismatch/internal/config"
	"github.com/hyperjump/vismatch/internal/embedding"
	"github.com/hyperjump/vismatch/internal/fetch"
	"github.com/hyperjump/vismatch/internal/ingest"
	"github.com/hyperjump/vismatch/internal/models"
	"github.com/hyperjump/vismatch/internal/search"
	"github.com/hyperjump/vismatch/internal/server"
	"github.com/hyperjump/vismatch/internal/storage"
	"github.com/hyperjump/vismatch/internal/store"
	"github.com/hyperjump/vismatch/internal/watcher"
	"github.com/hyperjump/vismatch/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/vismatch/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("vismatch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (store reloads, request details, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.Float64("similarity_threshold", cfg.Search.SimilarityThreshold),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if err := components.Holder.Reload(); err != nil {
		logger.Fatal("Failed to load embedding store", zap.Error(err))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.Enabled {
		watchOpts := []watcher.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		paths := components.Holder.Paths()
		holder := components.Holder
		watchSvc := watcher.NewWatcher(
			paths.Files(),
			func() { _ = holder.Reload() },
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(
		components.Engine,
		components.Holder,
		components.Fetcher,
		cfg,
		logger,
		server.WithLedger(components.Ledger),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	catalogPath := fs.String("catalog", "", "catalog file (.json or .xlsx); default from config")
	workers := fs.Int("workers", 0, "parallel fetch/embed workers (default from config)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	catalog := cfg.Ingest.CatalogPath
	if *catalogPath != "" {
		catalog = *catalogPath
	}
	if catalog == "" {
		fmt.Fprintln(os.Stderr, "No catalog given; use --catalog or set ingest.catalog_path")
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Ingest.Workers = *workers
	}

	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, report, err := components.Pipeline.RunCatalog(ctx, catalog)
	if report != nil {
		if outErr := cli.WriteIngestReport(os.Stdout, report, format); outErr != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", outErr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		components.Close()
		os.Exit(1)
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: vismatch search [flags] <image path or URL>\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
The query may be a local file, a file:// or s3:// locator, or an http(s) URL.
With --server the query is sent to a running server; local files are uploaded.

Examples:
  vismatch search shoe.jpg
  vismatch search --threshold 0.8 https://example.com/shoe.jpg
  vismatch search --output json shoe.jpg
  vismatch search --server http://localhost:8080 shoe.jpg
`)
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "vismatch search shoe.jpg -threshold 0.8"
// would otherwise leave -threshold unparsed.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// parseThresholdFlag returns the threshold override, or the config value when the flag is empty.
func parseThresholdFlag(v string, fallback float64) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	t, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q: %w", v, err)
	}
	if math.IsNaN(t) || t < -1 || t > 1 {
		return 0, fmt.Errorf("threshold %v outside [-1, 1]", t)
	}
	return t, nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = search the local store directly)")
	thresholdFlag := fs.String("threshold", "", "minimum cosine similarity in [-1, 1] (default from config)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one result per line), or json (parseable)")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	locator := strings.TrimSpace(fs.Arg(0))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *serverURL != "" {
		var threshold *float64
		if *thresholdFlag != "" {
			t, err := parseThresholdFlag(*thresholdFlag, 0)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			threshold = &t
		}
		response, err := searchViaHTTP(*serverURL, locator, threshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	threshold, err := parseThresholdFlag(*thresholdFlag, cfg.Search.SimilarityThreshold)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	if err := components.Holder.Reload(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load embedding store: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	img, err := components.Fetcher.Fetch(ctx, locator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read query image: %v\n", err)
		os.Exit(1)
	}
	response, err := components.Engine.Query(ctx, img, threshold, locator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// isRemoteURL reports whether locator is an http(s) URL the server can fetch itself.
func isRemoteURL(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// newSearchRequest builds the POST /api/v1/search request: a JSON body for remote URLs,
// a multipart upload of the file otherwise.
func newSearchRequest(serverURL, locator string, threshold *float64) (*http.Request, error) {
	endpoint := strings.TrimRight(serverURL, "/") + "/api/v1/search"
	if threshold != nil {
		endpoint += "?threshold=" + strconv.FormatFloat(*threshold, 'f', -1, 64)
	}

	if isRemoteURL(locator) {
		body, err := json.Marshal(map[string]string{"url": locator})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	path := strings.TrimPrefix(locator, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open query image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read query image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// decodeSearchResponse maps the server's answer to a SearchResponse. A 404 is the
// "no products above threshold" outcome and yields an empty result.
func decodeSearchResponse(resp *http.Response, locator string, threshold float64) (*models.SearchResponse, error) {
	out := &models.SearchResponse{Matches: []models.Match{}, Threshold: threshold, Query: locator}
	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(&out.Matches); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		out.Total = len(out.Matches)
		return out, nil
	case http.StatusNotFound:
		return out, nil
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

func searchViaHTTP(serverURL, locator string, threshold *float64) (*models.SearchResponse, error) {
	req, err := newSearchRequest(serverURL, locator, threshold)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var t float64
	if threshold != nil {
		t = *threshold
	}
	out, err := decodeSearchResponse(resp, locator, t)
	if err != nil {
		return nil, err
	}
	out.QueryTime = time.Since(start).Milliseconds()
	return out, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the local store and ledger)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil || format == cli.OutputCompact {
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	var status *cli.Status
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		status = localStatus(context.Background(), cfg)
	}

	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// localStatus reads the store artifacts and the run ledger without loading the model.
func localStatus(ctx context.Context, cfg *config.Config) *cli.Status {
	paths := storePaths(cfg)
	status := &cli.Status{Threshold: cfg.Search.SimilarityThreshold}

	if s, err := store.Load(paths); err != nil {
		status.StoreError = err.Error()
	} else {
		status.Products = s.Len()
		status.Dimensions = s.Dims()
	}
	if artifacts, err := storage.StatArtifacts(paths.Files()...); err == nil {
		status.Artifacts = artifacts
	}
	if n, err := storage.DiskUsageBytes(append(paths.Files(), cfg.Storage.DatabasePath)...); err == nil {
		status.DiskUsageBytes = n
	}

	if _, err := os.Stat(cfg.Storage.DatabasePath); err == nil {
		ledger, err := storage.NewSQLiteLedger(cfg.Storage.DatabasePath)
		if err == nil {
			defer ledger.Close()
			if run, err := ledger.LatestRun(ctx); err == nil {
				status.LatestRun = run
			}
		}
	}
	return status
}

func statusViaHTTP(serverURL string) (*cli.Status, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s cli.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// runInit writes a config file populated with defaults.
func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file to create")
	force := fs.Bool("force", false, "overwrite an existing config file")
	_ = fs.Parse(os.Args[2:])

	if err := writeDefaultConfig(*configPath, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote default config to %s\n", *configPath)
}

func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	return config.Save(path, &cfg)
}

func storePaths(cfg *config.Config) store.Paths {
	return store.Paths{
		Embeddings: cfg.Storage.EmbeddingsPath,
		Products:   cfg.Storage.ProductsPath,
	}
}

// Components holds initialized services.
type Components struct {
	Embedder embedding.Embedder
	Fetcher  *fetch.Fetcher
	Ledger   storage.Ledger
	Holder   *search.Holder
	Engine   *search.Engine
	Pipeline *ingest.Pipeline
}

func (c *Components) Close() {
	if c.Ledger != nil {
		_ = c.Ledger.Close()
		c.Ledger = nil
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
		c.Embedder = nil
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	var embedder embedding.Embedder
	onnxEmbedder, err := embedding.NewONNXEmbedder(
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.ImageSize,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		// The mock embedder only stands in for the model during development.
		if !debug {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		logger.Warn("ONNX embedder unavailable, using mock embedder",
			zap.String("model_path", cfg.Embedding.ModelPath),
			zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = onnxEmbedder
	}
	embedder = embedding.WithTimeout(embedder, cfg.Embedding.Timeout)

	fetchOpts := []fetch.Option{fetch.WithLogger(logger)}
	if cfg.ObjectStore.Enabled() {
		objects, err := fetch.NewMinioObjects(&cfg.ObjectStore)
		if err != nil {
			_ = embedder.Close()
			return nil, fmt.Errorf("failed to initialize object store: %w", err)
		}
		fetchOpts = append(fetchOpts, fetch.WithObjectGetter(objects))
	}
	fetcher := fetch.New(&cfg.Ingest, fetchOpts...)

	var ledger storage.Ledger
	sqliteLedger, err := storage.NewSQLiteLedger(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Warn("run ledger unavailable, ingestion runs will not be recorded",
			zap.String("path", cfg.Storage.DatabasePath),
			zap.Error(err))
	} else {
		ledger = sqliteLedger
	}

	paths := storePaths(cfg)
	holder := search.NewHolder(paths,
		search.WithHolderLogger(logger),
		search.WithExpectedDims(embedder.Dimensions()))
	engine := search.NewEngine(holder, embedder, &cfg.Search, search.WithLogger(logger))

	pipeOpts := []ingest.PipelineOption{
		ingest.WithLogger(logger),
		ingest.WithWorkers(cfg.Ingest.Workers),
	}
	if ledger != nil {
		pipeOpts = append(pipeOpts, ingest.WithLedger(ledger))
	}
	pipeline := ingest.NewPipeline(fetcher, embedder, paths, pipeOpts...)

	return &Components{
		Embedder: embedder,
		Fetcher:  fetcher,
		Ledger:   ledger,
		Holder:   holder,
		Engine:   engine,
		Pipeline: pipeline,
	}, nil
}

func printUsage() {
	fmt.Println(`vismatch - Image similarity search over a product catalog

Usage:
  vismatch server [flags]              Start the HTTP server
  vismatch ingest [flags]              Embed the catalog and rebuild the store
  vismatch search [flags] <image>      Find products similar to an image
  vismatch status [flags]              Show store, ledger and disk status
  vismatch init [flags]                Write a default config file
  vismatch version                     Show version
  vismatch help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/vismatch/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path
  --catalog string   Catalog file (.json or .xlsx); default from ingest.catalog_path
  --workers int      Parallel fetch/embed workers (default from config)
  --output string    Output format: text, compact, or json (default: text)

Search Flags:
  --config string     Config file path
  --server string     Server URL; empty searches the local store directly
  --threshold float   Minimum cosine similarity in [-1, 1] (default from config, or 0.70)
  --output string     Output format: text, compact, or json (default: text)

Status Flags:
  --config string    Config file path
  --server string    Server URL; empty reads the local store and ledger
  --output string    Output format: text or json (default: text)

Init Flags:
  --config string    Config file to create (default: config.yaml)
  --force            Overwrite an existing file

Examples:
  vismatch init
  vismatch ingest --catalog data/products.json
  vismatch server
  vismatch search shoe.jpg
  vismatch search --threshold 0.8 --output json https://example.com/shoe.jpg
  vismatch status --output json`)
}
