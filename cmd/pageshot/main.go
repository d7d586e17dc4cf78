// Command pageshot captures web pages headlessly: one-shot screenshots,
// breakpoint and SEO audits, SERP snapshots, change monitoring, and the
// HTTP / Telegram / MCP front ends on top of the same capture service.
//
// Usage:
//
//	pageshot -capture https://example.com            # one screenshot to stdout dir
//	pageshot -capture example.com -mobile -pdf
//	pageshot -both https://example.com               # desktop + mobile
//	pageshot -serp "coffee beans" -engine google
//	pageshot -layout https://example.com             # breakpoint audit + HTML report
//	pageshot -audit urls.txt -mobile                 # SEO audit of a URL list
//	pageshot -monitor https://example.com            # snapshot + compare with previous
//	pageshot -daemon -config pageshot.yaml           # scheduled monitoring
//	pageshot -serve                                  # HTTP API
//	pageshot -bot                                    # Telegram bot
//	pageshot -mcp                                    # MCP server on stdio
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pageshot/artifact"
	"github.com/hazyhaar/pageshot/bot"
	"github.com/hazyhaar/pageshot/browser"
	"github.com/hazyhaar/pageshot/capture"
	"github.com/hazyhaar/pageshot/config"
	"github.com/hazyhaar/pageshot/dbopen"
	"github.com/hazyhaar/pageshot/httpapi"
	"github.com/hazyhaar/pageshot/observability"
	"github.com/hazyhaar/pageshot/queue"
	"github.com/hazyhaar/pageshot/report"
)

func main() {
	captureURL := flag.String("capture", "", "capture a single URL")
	bothURL := flag.String("both", "", "capture a URL at desktop and mobile viewports")
	serpQuery := flag.String("serp", "", "capture a search results page for a query")
	layoutURL := flag.String("layout", "", "run a breakpoint layout audit on a URL")
	auditFile := flag.String("audit", "", "run an SEO audit on URLs listed in a file (one per line)")
	monitorURL := flag.String("monitor", "", "snapshot a URL and compare with its previous version")
	daemon := flag.Bool("daemon", false, "run the monitoring daemon")
	serve := flag.Bool("serve", false, "run the HTTP API")
	runBot := flag.Bool("bot", false, "run the Telegram bot")
	runMCP := flag.Bool("mcp", false, "serve capture tools over MCP stdio")

	engine := flag.String("engine", "yandex", "search engine for -serp: yandex or google")
	region := flag.String("region", "", "region code for -serp (yandex lr / google gl)")
	mobile := flag.Bool("mobile", false, "mobile viewport for -capture, mobile shots for -audit")
	pdf := flag.Bool("pdf", false, "capture as PDF instead of PNG")
	output := flag.String("output", "", "output directory (default from config)")
	configPath := flag.String("config", "", "path to pageshot.yaml")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logger.Error("pageshot: config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *output != "" {
		cfg.Service.OutputDir = *output
	}

	opts := runOptions{
		captureURL: *captureURL,
		bothURL:    *bothURL,
		serpQuery:  *serpQuery,
		layoutURL:  *layoutURL,
		auditFile:  *auditFile,
		monitorURL: *monitorURL,
		daemon:     *daemon,
		serve:      *serve,
		bot:        *runBot,
		mcp:        *runMCP,
		engine:     capture.SERPEngine(*engine),
		region:     *region,
		mobile:     *mobile,
		pdf:        *pdf,
	}
	if err := run(ctx, logger, cfg, opts); err != nil {
		logger.Error("pageshot: fatal", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	captureURL string
	bothURL    string
	serpQuery  string
	layoutURL  string
	auditFile  string
	monitorURL string
	daemon     bool
	serve      bool
	bot        bool
	mcp        bool
	engine     capture.SERPEngine
	region     string
	mobile     bool
	pdf        bool
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, opts runOptions) error {
	needsStore := opts.monitorURL != "" || opts.daemon || opts.serve || opts.mcp

	// Browser stack, shared by every mode.
	cfg.Browser.Logger = logger
	mgr := browser.NewManager(cfg.Browser)
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	pool := browser.NewPool(mgr, cfg.PoolSize, logger)
	defer pool.Close()

	sched := capture.NewScheduler(pool, capture.WithLogger(logger))

	cfg.Service.Logger = logger
	svcOpts := []capture.ServiceOption{}

	var store *artifact.Store
	var db *sql.DB
	if needsStore {
		var err error
		db, err = dbopen.Open(filepath.Join(cfg.DataDir, "pageshot.db"), dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("open store db: %w", err)
		}
		defer db.Close()

		store = artifact.NewStore(db, filepath.Join(cfg.DataDir, "artifacts"))
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init store: %w", err)
		}

		events := observability.NewEventLogger(db)
		if err := events.Init(ctx); err != nil {
			return fmt.Errorf("init events: %w", err)
		}
		if cfg.EventsRetentionDays > 0 {
			if err := events.Cleanup(ctx, cfg.EventsRetentionDays); err != nil {
				logger.Warn("events cleanup", "error", err)
			}
		}
		svcOpts = append(svcOpts, capture.WithStore(store), capture.WithEvents(events))
	}

	svc := capture.NewService(sched, cfg.Service, svcOpts...)

	switch {
	case opts.captureURL != "":
		return runCapture(ctx, svc, opts)
	case opts.bothURL != "":
		return runBoth(ctx, svc, opts.bothURL)
	case opts.serpQuery != "":
		return runSERP(ctx, svc, opts)
	case opts.layoutURL != "":
		return runLayout(ctx, svc, opts.layoutURL)
	case opts.auditFile != "":
		return runAudit(ctx, svc, opts.auditFile, opts.mobile)
	case opts.monitorURL != "":
		return runMonitor(ctx, svc, opts.monitorURL)
	case opts.daemon:
		return runDaemon(ctx, logger, cfg, svc, db)
	case opts.serve:
		return httpapi.NewServer(svc, store, withLogger(cfg.API, logger)).ListenAndServe(ctx)
	case opts.bot:
		cfg.Bot.Logger = logger
		b, err := bot.New(svc, cfg.Bot)
		if err != nil {
			return err
		}
		return b.Run(ctx)
	case opts.mcp:
		srv := mcp.NewServer(&mcp.Implementation{
			Name:    "pageshot",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(srv)
		logger.Info("mcp server on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	fmt.Fprintln(os.Stderr, "usage: pageshot -capture <url> | -both <url> | -serp <query> | -layout <url> | -audit <file> | -monitor <url> | -daemon | -serve | -bot | -mcp")
	os.Exit(2)
	return nil
}

func withLogger(api httpapi.Config, logger *slog.Logger) httpapi.Config {
	api.Logger = logger
	return api
}

func runCapture(ctx context.Context, svc *capture.Service, opts runOptions) error {
	req := capture.NewRequest(opts.captureURL)
	if opts.mobile {
		req.Viewport = capture.MobileViewport
	} else {
		req.Viewport = capture.DesktopViewport
	}
	if opts.pdf {
		req.Format = capture.FormatPDF
	}

	res, err := svc.CaptureURL(ctx, req)
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return res.Err
	}
	path, err := svc.WriteResult(res, "", "")
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"url":       opts.captureURL,
		"file":      path,
		"key":       res.Request.OutputKey,
		"page_size": fmt.Sprintf("%dx%d", res.PageWidth, res.PageHeight),
		"title":     res.Title,
	})
}

func runBoth(ctx context.Context, svc *capture.Service, url string) error {
	both, err := svc.CaptureBoth(ctx, url)
	if err != nil {
		return err
	}
	out := map[string]any{"url": url}
	for name, res := range map[string]*capture.Result{"desktop": both.Desktop, "mobile": both.Mobile} {
		if !res.Succeeded() {
			out[name] = map[string]any{"error": res.Err.Error()}
			continue
		}
		path, err := svc.WriteResult(res, "", "")
		if err != nil {
			return err
		}
		out[name] = map[string]any{
			"file":      path,
			"page_size": fmt.Sprintf("%dx%d", res.PageWidth, res.PageHeight),
		}
	}
	return printJSON(out)
}

func runSERP(ctx context.Context, svc *capture.Service, opts runOptions) error {
	rep, err := svc.SERPBatch(ctx, []string{opts.serpQuery}, opts.engine, opts.region)
	if err != nil {
		return err
	}
	for i := range rep.Queries {
		rep.Queries[i].Result.Payload = nil
		rep.Queries[i].Result.HTML = ""
	}
	return printJSON(rep)
}

func runLayout(ctx context.Context, svc *capture.Service, url string) error {
	rep, err := svc.LayoutAudit(ctx, url, nil)
	if err != nil {
		return err
	}
	htmlPath, err := report.WriteLayout(rep)
	if err != nil {
		return err
	}
	out := map[string]any{"url": url, "dir": rep.Dir, "html_report": htmlPath}
	var shots []map[string]any
	for _, s := range rep.Shots {
		entry := map[string]any{"width": s.Width, "file": s.File}
		if !s.Result.Succeeded() {
			entry["error"] = s.Result.Err.Error()
		}
		shots = append(shots, entry)
	}
	out["shots"] = shots
	return printJSON(out)
}

func runAudit(ctx context.Context, svc *capture.Service, file string, includeMobile bool) error {
	urls, err := readURLs(file)
	if err != nil {
		return err
	}
	rep, err := svc.SEOAudit(ctx, urls, includeMobile)
	if err != nil {
		return err
	}
	htmlPath, err := report.WriteAudit(rep)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"dir":         rep.Dir,
		"html_report": htmlPath,
		"urls":        len(rep.Entries),
		"failed":      rep.Failed,
	})
}

func runMonitor(ctx context.Context, svc *capture.Service, url string) error {
	rep, err := svc.MonitorSnapshot(ctx, url)
	if err != nil {
		return err
	}
	return printJSON(rep)
}

func runDaemon(ctx context.Context, logger *slog.Logger, cfg *config.Config, svc *capture.Service, db *sql.DB) error {
	if len(cfg.Monitor.Subjects) == 0 {
		return errors.New("daemon mode needs monitor subjects in the config")
	}

	sched := queue.New(db, queue.Options{Logger: logger})
	if err := sched.Init(ctx); err != nil {
		return fmt.Errorf("init schedule: %w", err)
	}
	for _, sub := range cfg.Monitor.Subjects {
		interval := sub.Interval
		if interval <= 0 {
			interval = cfg.Monitor.DefaultInterval
		}
		if _, err := sched.Add(ctx, sub.URL, interval); err != nil {
			return fmt.Errorf("schedule %s: %w", sub.URL, err)
		}
	}

	sched.Run(ctx, func(ctx context.Context, sub *queue.Subject) error {
		rep, err := svc.MonitorSnapshot(ctx, sub.URL)
		if err != nil {
			return err
		}
		if rep.Change != nil && rep.Change.Changed {
			logger.Info("page changed",
				"url", sub.URL,
				"difference_percent", rep.Change.DifferencePercent,
				"content_changed", rep.Change.ContentChanged)
		}
		return nil
	})
	return nil
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no URLs in %s", path)
	}
	return urls, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
