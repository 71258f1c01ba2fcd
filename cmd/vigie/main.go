// Command vigie runs visual regression checks over a directory of test
// pages: it captures them across a browser matrix, diffs the screenshots
// against a golden baseline, and merges approved changes back into it.
//
// Usage:
//
//	vigie -config vigie.yaml -run                  # one pipeline pass
//	vigie -config vigie.yaml -watch                # re-run on page changes
//	vigie -config vigie.yaml -serve                # review server for the latest run
//	vigie -config vigie.yaml -approve-all          # accept every change
//	vigie -config vigie.yaml -approve diff:a.test.html/win10_chrome
//	vigie -config vigie.yaml -runs 10              # recent run history
//	vigie -config vigie.yaml -mcp                  # MCP server on stdio
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/vigie/differ"
	"github.com/hazyhaar/vigie/manifest"
	"github.com/hazyhaar/vigie/runstore"
	"github.com/hazyhaar/vigie/workflow"
)

func main() {
	configPath := flag.String("config", "vigie.yaml", "path to the project config file")
	doRun := flag.Bool("run", false, "run the pipeline once and exit")
	doWatch := flag.Bool("watch", false, "re-run the pipeline when the pages directory changes")
	doServe := flag.Bool("serve", false, "serve the latest run's review page")
	approveAll := flag.Bool("approve-all", false, "merge every change from the latest run into the baseline")
	approveSpec := flag.String("approve", "", "merge selected changes: comma-separated bucket:page/browser entries (buckets: diff, added, removed)")
	listRuns := flag.Int("runs", 0, "print the N most recent runs and exit")
	doMCP := flag.Bool("mcp", false, "serve the vigie tools over MCP on stdio")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, modes{
		run:        *doRun,
		watch:      *doWatch,
		serve:      *doServe,
		approveAll: *approveAll,
		approve:    *approveSpec,
		runs:       *listRuns,
		mcp:        *doMCP,
	}); err != nil {
		logger.Error("vigie: fatal", "error", err)
		os.Exit(1)
	}
}

type modes struct {
	run        bool
	watch      bool
	serve      bool
	approveAll bool
	approve    string
	runs       int
	mcp        bool
}

func run(ctx context.Context, logger *slog.Logger, configPath string, m modes) error {
	cfg, err := workflow.LoadConfig(configPath)
	if err != nil {
		return err
	}
	eng, err := workflow.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	switch {
	case m.run:
		return runOnce(ctx, eng)
	case m.watch:
		return eng.Watch(ctx)
	case m.serve:
		return serve(ctx, logger, cfg, eng)
	case m.approveAll:
		_, err := eng.Approve(ctx, nil)
		return err
	case m.approve != "":
		set, err := parseApprovals(m.approve)
		if err != nil {
			return err
		}
		_, err = eng.Approve(ctx, set)
		return err
	case m.runs > 0:
		return printRuns(ctx, eng, m.runs)
	case m.mcp:
		return serveMCP(ctx, eng)
	}

	fmt.Fprintln(os.Stderr, "usage: vigie -config <file> -run | -watch | -serve | -approve-all | -approve <spec> | -runs <n> | -mcp")
	os.Exit(1)
	return nil
}

func runOnce(ctx context.Context, eng *workflow.Engine) error {
	run, err := eng.Run(ctx)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(run, "", "  ")
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
	if run.Status != runstore.StatusPassed {
		return fmt.Errorf("run %s: %d diffs, %d added, %d removed", run.ID, run.Diffs, run.Added, run.Removed)
	}
	return nil
}

func printRuns(ctx context.Context, eng *workflow.Engine, n int) error {
	runs, err := eng.Runs(ctx, n)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, r := range runs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// parseApprovals parses "bucket:page/browser" entries. The browser key never
// contains a slash, so the page path is everything up to the last one.
func parseApprovals(spec string) (*differ.ApprovalSet, error) {
	set := &differ.ApprovalSet{
		Diffs:   differ.NewKeySet(),
		Added:   differ.NewKeySet(),
		Removed: differ.NewKeySet(),
	}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		bucket, rest, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("approval %q: want bucket:page/browser", entry)
		}
		i := strings.LastIndex(rest, "/")
		if i <= 0 || i == len(rest)-1 {
			return nil, fmt.Errorf("approval %q: want bucket:page/browser", entry)
		}
		key := manifest.Key{Page: rest[:i], Browser: rest[i+1:]}
		switch bucket {
		case "diff", "diffs":
			set.Diffs[key] = struct{}{}
		case "added", "add":
			set.Added[key] = struct{}{}
		case "removed", "remove":
			set.Removed[key] = struct{}{}
		default:
			return nil, fmt.Errorf("approval %q: unknown bucket %q", entry, bucket)
		}
	}
	return set, nil
}

func serve(ctx context.Context, logger *slog.Logger, cfg *workflow.Config, eng *workflow.Engine) error {
	h, err := eng.ReviewHandler(ctx)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Review.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("vigie: review server listening", "addr", cfg.Review.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func serveMCP(ctx context.Context, eng *workflow.Engine) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "vigie", Version: "1.0.0"}, nil)
	eng.RegisterMCP(srv)
	return srv.Run(ctx, &mcp.StdioTransport{})
}
