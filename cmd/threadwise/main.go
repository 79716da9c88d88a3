// Package main is the threadwise CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/threadwise/internal/cli"
	"github.com/hyperjump/threadwise/internal/config"
	"github.com/hyperjump/threadwise/internal/engine"
	"github.com/hyperjump/threadwise/internal/ingest"
	"github.com/hyperjump/threadwise/internal/keyword"
	"github.com/hyperjump/threadwise/internal/models"
	"github.com/hyperjump/threadwise/internal/report"
	"github.com/hyperjump/threadwise/internal/server"
	"github.com/hyperjump/threadwise/internal/storage"
	"github.com/hyperjump/threadwise/internal/threading"
	"github.com/hyperjump/threadwise/internal/watcher"
	"github.com/hyperjump/threadwise/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/threadwise/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists, and a missing default file yields the built-in defaults.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
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
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "ingest":
		runIngest(args)
	case "threads":
		runThreads(args)
	case "summaries":
		runSummaries(args)
	case "context":
		runContext(args)
	case "flagged":
		runFlagged(args)
	case "search":
		runSearch(args)
	case "export":
		runExport(args)
	case "report":
		runReport(args)
	case "status":
		runStatus(args)
	case "delete":
		runDelete(args)
	case "watch":
		runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("threadwise version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// commonFlags are shared by commands that read stored messages, either through a running
// server or directly from storage.
type commonFlags struct {
	configPath *string
	serverURL  *string
	output     *string
}

func addCommonFlags(fs *flag.FlagSet, serverDefault string) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path (direct storage mode)"),
		serverURL:  fs.String("server", serverDefault, "server URL (empty = use direct storage)"),
		output:     fs.String("output", "text", "output format: text or json"),
	}
}

func (c *commonFlags) format() cli.OutputFormat {
	f, err := cli.ParseFormat(*c.output)
	if err != nil {
		fatalf("%v", err)
	}
	return f
}

func (c *commonFlags) remote() bool { return *c.serverURL != "" }

func (c *commonFlags) client() *apiClient { return newAPIClient(*c.serverURL) }

// isSet reports whether the named flag was given on the command line.
func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// reorderArgs moves any flags (and their values) that appear after positional arguments
// to the front so that flag.Parse() sees them. Go's flag package stops at the first
// non-flag argument, so "threadwise context msg-1 --window 2" would otherwise ignore --window.
func reorderArgs(args []string) []string {
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

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (watch events, unparsable timestamps, etc.)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	eng := components.Engine
	if n, err := eng.Reindex(context.Background()); err != nil {
		logger.Warn("Failed to reconcile keyword index", zap.Error(err))
	} else if n > 0 {
		logger.Info("Reindexed stored messages", zap.Int("count", n))
	}
	watchSvc := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(ctx context.Context, path string) error {
			_, err := eng.IngestFile(ctx, path)
			return err
		},
		watcher.WithLogger(logger),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(eng, cfg, logger, watchSvc, resolvedConfigPath)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cf := addCommonFlags(fs, "")
	recursive := fs.Bool("recursive", true, "descend into subdirectories")
	_ = fs.Parse(reorderArgs(args))
	format := cf.format()

	if fs.NArg() < 1 {
		fmt.Println("Usage: threadwise ingest [flags] <export-file-or-directory>")
		os.Exit(1)
	}
	path, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fatalf("Invalid path: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		fatalf("Failed to stat path: %v", err)
	}
	ctx := context.Background()

	var results []*engine.IngestResult
	var ingestErr error
	if cf.remote() {
		results, ingestErr = ingestViaHTTP(ctx, cf.client(), path, info.IsDir(), *recursive, cf.extensions())
	} else {
		ingestErr = withEngine(*cf.configPath, func(eng *engine.Engine) error {
			if info.IsDir() {
				var err error
				results, err = eng.IngestDirectory(ctx, path, *recursive)
				return err
			}
			res, err := eng.IngestFile(ctx, path)
			if err != nil {
				return err
			}
			results = append(results, res)
			return nil
		})
	}
	if err := cli.WriteIngestResults(os.Stdout, results, format); err != nil {
		fatalf("Output failed: %v", err)
	}
	if ingestErr != nil {
		fatalf("Ingest failed: %v", ingestErr)
	}
}

// extensions returns the configured export extensions, used to pick files when posting a
// directory to a server.
func (c *commonFlags) extensions() []string {
	cfg, _, err := loadConfig(*c.configPath)
	if err != nil {
		return []string{".json", ".jsonl", ".ndjson"}
	}
	return cfg.Watch.Extensions
}

func ingestViaHTTP(ctx context.Context, client *apiClient, path string, isDir, recursive bool, exts []string) ([]*engine.IngestResult, error) {
	if !isDir {
		res, err := client.ingestFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return []*engine.IngestResult{res}, nil
	}
	var results []*engine.IngestResult
	var errs []error
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !ingest.IsExportFile(p, exts) {
			return nil
		}
		res, err := client.ingestFile(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			return nil
		}
		results = append(results, res)
		return nil
	})
	if walkErr != nil {
		return results, walkErr
	}
	return results, errors.Join(errs...)
}

func runThreads(args []string) {
	fs := flag.NewFlagSet("threads", flag.ExitOnError)
	cf := addCommonFlags(fs, defaultServerURL)
	gap := fs.Float64("gap-hours", threading.DefaultGapHours, "inactivity gap in hours that starts a new thread (default from config)")
	_ = fs.Parse(args)
	format := cf.format()

	gapHours := optionalFloat(fs, "gap-hours", *gap)
	var threads []*models.Thread
	var err error
	if cf.remote() {
		var out struct {
			Threads []*models.Thread `json:"threads"`
		}
		err = cf.client().get("/api/v1/threads", gapQuery(gapHours), &out)
		threads = out.Threads
	} else {
		err = withEngine(*cf.configPath, func(eng *engine.Engine) error {
			var e error
			threads, e = eng.Threads(context.Background(), gapHours)
			return e
		})
	}
	if err != nil {
		fatalf("Threads failed: %v", err)
	}
	if err := cli.WriteThreads(os.Stdout, threads, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runSummaries(args []string) {
	fs := flag.NewFlagSet("summaries", flag.ExitOnError)
	cf := addCommonFlags(fs, defaultServerURL)
	gap := fs.Float64("gap-hours", threading.DefaultGapHours, "inactivity gap in hours that starts a new thread (default from config)")
	_ = fs.Parse(args)
	format := cf.format()

	gapHours := optionalFloat(fs, "gap-hours", *gap)
	var summaries []*models.ThreadSummary
	var err error
	if cf.remote() {
		var out struct {
			Summaries []*models.ThreadSummary `json:"summaries"`
		}
		err = cf.client().get("/api/v1/summaries", gapQuery(gapHours), &out)
		summaries = out.Summaries
	} else {
		err = withEngine(*cf.configPath, func(eng *engine.Engine) error {
			var e error
			summaries, e = eng.Summaries(context.Background(), gapHours)
			return e
		})
	}
	if err != nil {
		fatalf("Summaries failed: %v", err)
	}
	if err := cli.WriteSummaries(os.Stdout, summaries, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func optionalFloat(fs *flag.FlagSet, name string, v float64) *float64 {
	if !isSet(fs, name) {
		return nil
	}
	return &v
}

func optionalInt(fs *flag.FlagSet, name string, v int) *int {
	if !isSet(fs, name) {
		return nil
	}
	return &v
}

func gapQuery(gapHours *float64) url.Values {
	q := url.Values{}
	if gapHours != nil {
		q.Set("gap_hours", strconv.FormatFloat(*gapHours, 'f', -1, 64))
	}
	return q
}

func windowQuery(window *int) url.Values {
	q := url.Values{}
	if window != nil {
		q.Set("window", strconv.Itoa(*window))
	}
	return q
}

func runContext(args []string) {
	fs := flag.NewFlagSet("context", flag.ExitOnError)
	cf := addCommonFlags(fs, defaultServerURL)
	window := fs.Int("window", threading.DefaultWindow, "messages to show on each side (default from config)")
	_ = fs.Parse(reorderArgs(args))
	format := cf.format()

	if fs.NArg() < 1 {
		fmt.Println("Usage: threadwise context [flags] <message-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	w := optionalInt(fs, "window", *window)

	var cw models.ContextWindow
	var err error
	if cf.remote() {
		err = cf.client().get("/api/v1/messages/"+url.PathEscape(id)+"/context", windowQuery(w), &cw)
	} else {
		err = withEngine(*cf.configPath, func(eng *engine.Engine) error {
			res, e := eng.MessageContext(context.Background(), id, w)
			if e != nil {
				return e
			}
			cw = *res
			return nil
		})
	}
	if err != nil {
		fatalf("Context failed: %v", err)
	}
	if err := cli.WriteContext(os.Stdout, &cw, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runFlagged(args []string) {
	fs := flag.NewFlagSet("flagged", flag.ExitOnError)
	cf := addCommonFlags(fs, defaultServerURL)
	window := fs.Int("window", threading.DefaultWindow, "messages to show on each side (default from config)")
	_ = fs.Parse(args)
	format := cf.format()

	w := optionalInt(fs, "window", *window)
	var windows []*models.ContextWindow
	var err error
	if cf.remote() {
		var out struct {
			Flagged []*models.ContextWindow `json:"flagged"`
		}
		err = cf.client().get("/api/v1/flagged", windowQuery(w), &out)
		windows = out.Flagged
	} else {
		err = withEngine(*cf.configPath, func(eng *engine.Engine) error {
			var e error
			windows, e = eng.Flagged(context.Background(), w)
			return e
		})
	}
	if err != nil {
		fatalf("Flagged failed: %v", err)
	}
	if err := cli.WriteFlagged(os.Stdout, windows, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: threadwise search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Each hit is shown with its conversation context.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
When nothing matches, the search is retried with --fuzzy and a corrected query may be suggested.

Examples:
  threadwise search warehouse
  threadwise search --window 2 "bring the package"
  threadwise search --fuzzy pakage
`)
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	cf := addCommonFlags(fs, defaultServerURL)
	limit := fs.Int("limit", 10, "number of results")
	window := fs.Int("window", threading.DefaultWindow, "context messages on each side of a hit (default from config)")
	fuzzy := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(reorderArgs(args))
	format := cf.format()

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	query := &models.SearchQuery{
		Query:        queryStr,
		Limit:        *limit,
		Window:       optionalInt(fs, "window", *window),
		FuzzyEnabled: *fuzzy,
	}

	if cf.remote() {
		client := cf.client()
		response, err := searchWithFallback(query, func(q *models.SearchQuery) (*models.SearchResponse, error) {
			var out models.SearchResponse
			if err := client.post("/api/v1/search", nil, q, http.StatusOK, &out); err != nil {
				return nil, err
			}
			return &out, nil
		})
		if err != nil {
			fatalf("Search failed: %v", err)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fatalf("Output failed: %v", err)
		}
		return
	}

	err := withEngine(*cf.configPath, func(eng *engine.Engine) error {
		response, err := searchWithFallback(query, func(q *models.SearchQuery) (*models.SearchResponse, error) {
			return eng.Search(context.Background(), q)
		})
		if err != nil {
			return err
		}
		return cli.WriteSearchResults(os.Stdout, response, format)
	})
	if err != nil {
		fatalf("Search failed: %v", err)
	}
}

// searchWithFallback retries an exact search that found nothing with fuzzy matching. The
// fuzzy response is used only when it has hits; otherwise the exact response, with its
// suggested query, is kept.
func searchWithFallback(q *models.SearchQuery, search func(*models.SearchQuery) (*models.SearchResponse, error)) (*models.SearchResponse, error) {
	response, err := search(q)
	if err != nil {
		return nil, err
	}
	if q.FuzzyEnabled || response.Total > 0 {
		return response, nil
	}
	fuzzy := *q
	fuzzy.FuzzyEnabled = true
	fuzzyResponse, err := search(&fuzzy)
	if err == nil && fuzzyResponse.Total > 0 {
		return fuzzyResponse, nil
	}
	return response, nil
}

// fetchExport returns the threaded export from a server or from direct storage.
func fetchExport(cf *commonFlags) (*models.ThreadedExport, error) {
	if cf.remote() {
		var exp models.ThreadedExport
		if err := cf.client().get("/api/v1/export", nil, &exp); err != nil {
			return nil, err
		}
		return &exp, nil
	}
	var exp *models.ThreadedExport
	err := withEngine(*cf.configPath, func(eng *engine.Engine) error {
		var e error
		exp, e = eng.Export(context.Background())
		return e
	})
	return exp, err
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cf := addCommonFlags(fs, defaultServerURL)
	out := fs.String("out", "-", "output file for the threaded JSON export (- = stdout)")
	_ = fs.Parse(args)

	exp, err := fetchExport(cf)
	if err != nil {
		fatalf("Export failed: %v", err)
	}
	var w io.Writer = os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			fatalf("Failed to create %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}
	if err := report.WriteJSON(w, exp); err != nil {
		fatalf("Export failed: %v", err)
	}
}

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	cf := addCommonFlags(fs, defaultServerURL)
	dir := fs.String("dir", "", "output directory (default: report.output_dir from config)")
	_ = fs.Parse(args)

	outDir := *dir
	if outDir == "" {
		cfg, _, err := loadConfig(*cf.configPath)
		if err != nil {
			fatalf("Failed to load config: %v", err)
		}
		outDir = cfg.Report.OutputDir
	}
	exp, err := fetchExport(cf)
	if err != nil {
		fatalf("Report failed: %v", err)
	}
	paths, err := report.WriteAll(outDir, exp)
	if err != nil {
		fatalf("Report failed: %v", err)
	}
	fmt.Printf("Threads: %d, conversations: %d, messages: %d\n", exp.TotalThreads, exp.TotalConversations, exp.TotalMessages)
	for _, p := range paths {
		fmt.Printf("Wrote %s\n", p)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addCommonFlags(fs, defaultServerURL)
	_ = fs.Parse(args)
	format := cf.format()

	var st *engine.Status
	var err error
	if cf.remote() {
		st = &engine.Status{}
		err = cf.client().get("/api/v1/status", nil, st)
	} else {
		err = withEngine(*cf.configPath, func(eng *engine.Engine) error {
			var e error
			st, e = eng.Status(context.Background())
			return e
		})
	}
	if err != nil {
		fatalf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	cf := addCommonFlags(fs, "")
	_ = fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Println("Usage: threadwise delete [flags] <message-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	var err error
	if cf.remote() {
		err = cf.client().delete("/api/v1/messages/"+url.PathEscape(id), nil, nil)
	} else {
		err = withEngine(*cf.configPath, func(eng *engine.Engine) error {
			return eng.DeleteMessage(context.Background(), id)
		})
	}
	if err != nil {
		fatalf("Deletion failed: %v", err)
	}
	fmt.Printf("Message deleted: %s\n", id)
}

func runWatch(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: threadwise watch <add|remove|list> [path]")
		fmt.Println("  threadwise watch add <path>     Add inbox directory to watch")
		fmt.Println("  threadwise watch remove <path>  Remove inbox directory from watch")
		fmt.Println("  threadwise watch list           List watched directories")
		os.Exit(1)
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	syncExisting := fs.Bool("sync", true, "ingest exports already in the directory (add only)")
	_ = fs.Parse(reorderArgs(args[1:]))
	client := newAPIClient(*serverURL)

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fatalf("Usage: threadwise watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body := map[string]interface{}{"path": path, "sync": *syncExisting}
		if err := client.post("/api/v1/watch/directories", nil, body, http.StatusCreated, nil); err != nil {
			fatalf("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: threadwise watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := client.delete("/api/v1/watch/directories", url.Values{"path": {path}}, nil); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := client.get("/api/v1/watch/directories", nil, &out); err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	KeywordIndex keyword.MessageIndex
	Engine       *engine.Engine
}

// Close closes the index and storage.
func (c *Components) Close() {
	if c.Engine != nil {
		_ = c.Engine.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var index *keyword.BleveIndex
	if cfg.Storage.BleveIndexPath == "" {
		index, err = keyword.NewMemoryIndex()
	} else {
		index, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	}
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	threader := threading.New(cfg.Threading.DefaultGapHours, threading.WithLogger(logger))
	eng := engine.New(store, index, threader,
		engine.WithLogger(logger),
		engine.WithContextWindow(cfg.Threading.ContextWindowOrDefault()),
		engine.WithExtensions(cfg.Watch.Extensions),
		engine.WithDataPaths(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath),
	)
	logger.Debug("components initialized",
		zap.String("database_path", cfg.Storage.DatabasePath),
		zap.String("bleve_index_path", cfg.Storage.BleveIndexPath),
		zap.Float64("default_gap_hours", threader.DefaultGapHours()),
	)

	return &Components{
		Storage:      store,
		KeywordIndex: index,
		Engine:       eng,
	}, nil
}

// withEngine opens storage directly, runs fn, and closes everything before returning.
func withEngine(configPath string, fn func(eng *engine.Engine) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(components.Engine)
}

func printUsage() {
	fmt.Println(`threadwise - Conversation threading for message evidence

Usage:
  threadwise server [flags]             Start the HTTP server and inbox watcher
  threadwise ingest [flags] <path>      Ingest an export file or directory
  threadwise threads [flags]            List threads with their messages
  threadwise summaries [flags]          One line per thread: participants, span, sentiment, threats
  threadwise context [flags] <id>       Show the messages around one message
  threadwise flagged [flags]            Show context around every flagged message
  threadwise search [flags] <query>     Search message content
  threadwise export [flags]             Write the threaded JSON export
  threadwise report [flags]             Write the JSON export and the Excel thread report
  threadwise status [flags]             Show counts, recent ingests, and disk usage
  threadwise delete [flags] <id>        Delete a message
  threadwise watch <add|remove|list>    Manage watched inbox directories
  threadwise version                    Show version
  threadwise help                       Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/threadwise/config.yaml)
  --server string    Server URL (default: http://localhost:8080; ingest and delete default to "").
                     Use --server "" for direct storage when the server is not running.
  --output string    Output format: text or json (default: text)

Command Flags:
  server     --debug                Enable debug logging
  ingest     --recursive            Descend into subdirectories (default: true)
  threads    --gap-hours float      Inactivity gap that starts a new thread
  summaries  --gap-hours float
  context    --window int           Messages on each side of the target
  flagged    --window int
  search     --limit int --window int --fuzzy
  export     --out string           Output file (default: stdout)
  report     --dir string           Output directory (default: report.output_dir)
  watch      --sync                 Ingest existing exports when adding (default: true)

Examples:
  threadwise server
  threadwise ingest ./exports/case-42
  threadwise summaries --gap-hours 4
  threadwise context msg-123 --window 3
  threadwise search --output json "warehouse"
  threadwise report --dir ./out
  threadwise watch add /path/to/inbox`)
}
