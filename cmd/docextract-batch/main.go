package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/app"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/events"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/queue"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		inmem    = flag.Bool("inmem", false, "use in-memory SQLite database")
		dir      = flag.String("dir", "", "directory of documents to extract (required)")
		out      = flag.String("out", "", "directory for per-document XLSX files (optional)")
		priority = flag.String("priority", "NORMAL", "queue priority for every document")
		engine   = flag.String("engine", "", "preferred engine")
		langs    = flag.String("lang", "", "comma-separated language hints")
		tables   = flag.Bool("tables", false, "detect tables")
		forms    = flag.Bool("forms", false, "detect form fields")
		enhance  = flag.Bool("enhance", false, "enhance images before extraction")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	prio, err := constants.ParsePriority(*priority)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		printError("Error: load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Database.Driver = "sqlite"
	if *inmem {
		cfg.Database.SQLitePath = ":memory:"
	}
	cfg.Storage = common.StorageConfig{Backend: "fs", Root: *dir}

	logger := app.NewLogger(cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	recorder := &events.Recorder{}
	pub := events.Multi{events.NewLogPublisher(logger), recorder}
	stack, err := app.Build(ctx, cfg, pub, logger)
	if err != nil {
		logger.Error("failed to build extraction stack", "error", err)
		os.Exit(1)
	}
	defer stack.Close()

	refs, err := stack.Source.List(ctx, "")
	if err != nil {
		logger.Error("failed to list documents", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(refs) == 0 {
		fmt.Printf("No supported documents under %s\n", *dir)
		return
	}

	q := queue.New(stack.Processor, queue.Config{
		Workers:        cfg.Queue.Workers,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		BaseDelay:      cfg.Queue.BaseDelay.Duration,
		ProcessTimeout: cfg.Queue.ProcessTimeout.Duration,
		MaxBatch:       len(refs),
		RetainFinished: len(refs),
	},
		queue.WithJournal(stack.Store),
		queue.WithPublisher(pub),
		queue.WithLogger(logger),
	)
	q.Start()

	opts := entity.EnqueueOptions{
		PreferredEngine:      constants.NormalizeEngineID(*engine),
		EnableTableDetection: *tables,
		EnableFormDetection:  *forms,
		EnableEnhancement:    *enhance,
	}
	for _, l := range strings.Split(*langs, ",") {
		if l = strings.TrimSpace(l); l != "" {
			opts.LanguageHints = append(opts.LanguageHints, l)
		}
	}
	reqs := make([]queue.Request, 0, len(refs))
	for _, ref := range refs {
		reqs = append(reqs, queue.Request{DocumentRef: ref, Priority: prio, Options: opts})
	}
	admitted, err := q.EnqueueBatch(ctx, reqs)
	if err != nil {
		logger.Error("failed to enqueue documents", "error", err)
		os.Exit(1)
	}
	for _, r := range admitted {
		if r.Err != nil {
			logger.Warn("document not queued", "document_ref", r.DocumentRef, "error", r.Err)
		}
	}

	if err := q.Wait(ctx); err != nil {
		logger.Warn("interrupted before all documents finished", "error", err)
	}
	q.Shutdown(context.Background())

	st := q.Stats()
	completed := st.ByStatus[constants.QueueStatusCompleted]
	failed := st.ByStatus[constants.QueueStatusFailed]

	exported := 0
	if *out != "" {
		if err := os.MkdirAll(*out, 0o755); err != nil {
			logger.Error("failed to create output dir", "error", err)
			os.Exit(1)
		}
		exporter := export.NewService(stack.Store, logger)
		for _, e := range recorder.OfType(constants.EventProcessingCompleted) {
			b, err := exporter.ExportLatestXLSX(ctx, e.DocumentRef)
			if err != nil {
				logger.Error("failed to export result", "document_ref", e.DocumentRef, "error", err)
				continue
			}
			name := strings.ReplaceAll(e.DocumentRef, "/", "_") + ".xlsx"
			if err := os.WriteFile(filepath.Join(*out, name), b, 0o644); err != nil {
				logger.Error("failed to write output file", "file", name, "error", err)
				continue
			}
			exported++
		}
	}

	logger.Info("batch processing complete",
		"documents", len(refs),
		"completed", completed,
		"failed", failed,
		"exported", exported,
	)
	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Documents found: %d\n", len(refs))
	fmt.Printf("- Completed: %d\n", completed)
	fmt.Printf("- Failed: %d\n", failed)
	if *out != "" {
		fmt.Printf("- Exported: %d to %s\n", exported, *out)
	}
}
