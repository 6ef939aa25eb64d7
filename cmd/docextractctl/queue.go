package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/server"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [document-ref]",
	Short: "Queue a document for extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueue,
}

var enqueueDirCmd = &cobra.Command{
	Use:   "enqueue-dir [root]",
	Short: "Queue every supported document under a directory",
	Long: `Lists supported documents under root (optionally below --prefix) and queues them in one batch.
Refs are relative to root, so root must be the directory docextractd reads from.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueueDir,
}

var statusCmd = &cobra.Command{
	Use:   "status [document-ref]",
	Short: "Show the latest queue item for a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var getCmd = &cobra.Command{
	Use:   "get [queue-id]",
	Short: "Show a queue item",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [queue-id]",
	Short: "Cancel a queued item",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var retryCmd = &cobra.Command{
	Use:   "retry [queue-id]",
	Short: "Re-queue a failed item",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var (
	priority      string
	engineFlag    string
	languageHints []string
	tablesFlag    bool
	formsFlag     bool
	enhanceFlag   bool
	maxAttempts   int
	dirPrefix     string
)

func init() {
	for _, c := range []*cobra.Command{enqueueCmd, enqueueDirCmd} {
		c.Flags().StringVarP(&priority, "priority", "p", "NORMAL", "LOW, NORMAL, HIGH or URGENT")
		c.Flags().StringVarP(&engineFlag, "engine", "e", "", "preferred engine (vision, docanalysis, tesseract)")
		c.Flags().StringSliceVarP(&languageHints, "lang", "l", nil, "language hints, most likely first")
		c.Flags().BoolVar(&tablesFlag, "tables", false, "detect tables")
		c.Flags().BoolVar(&formsFlag, "forms", false, "detect form fields")
		c.Flags().BoolVar(&enhanceFlag, "enhance", false, "enhance images before extraction")
		c.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt budget (0 uses the server default)")
	}
	enqueueDirCmd.Flags().StringVar(&dirPrefix, "prefix", "", "only documents below this path")

	rootCmd.AddCommand(enqueueCmd, enqueueDirCmd, statusCmd, getCmd, cancelCmd, retryCmd, statsCmd)
}

func enqueueOptions() entity.EnqueueOptions {
	return entity.EnqueueOptions{
		PreferredEngine:      constants.EngineID(engineFlag),
		LanguageHints:        languageHints,
		EnableTableDetection: tablesFlag,
		EnableFormDetection:  formsFlag,
		EnableEnhancement:    enhanceFlag,
		MaxAttempts:          maxAttempts,
	}
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx, cancel := callContext(cmd)
	defer cancel()
	resp, err := api.Enqueue(ctx, server.EnqueueRequest{DocumentRef: args[0], Priority: priority, Options: enqueueOptions()})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", args[0], err)
	}
	cmd.Printf("Queued %s as %s\n", args[0], resp.QueueID)
	return nil
}

func runEnqueueDir(cmd *cobra.Command, args []string) error {
	src, err := storage.NewFSSource(args[0], nil)
	if err != nil {
		return err
	}
	ctx, cancel := callContext(cmd)
	defer cancel()
	refs, err := src.List(ctx, dirPrefix)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", args[0], err)
	}
	if len(refs) == 0 {
		cmd.Printf("No supported documents under %s\n", args[0])
		return nil
	}
	req := server.EnqueueBatchRequest{Documents: make([]server.EnqueueRequest, 0, len(refs))}
	for _, ref := range refs {
		req.Documents = append(req.Documents, server.EnqueueRequest{DocumentRef: ref, Priority: priority, Options: enqueueOptions()})
	}
	resp, err := api.EnqueueBatch(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}
	queued := 0
	for _, r := range resp.Results {
		if r.Error != "" {
			cmd.Printf("  skipped %s: %s\n", r.DocumentRef, r.Error)
			continue
		}
		queued++
		cmd.Printf("  queued  %s as %s\n", r.DocumentRef, r.QueueID)
	}
	cmd.Printf("Total: %d of %d documents queued\n", queued, len(refs))
	return nil
}

func printView(cmd *cobra.Command, v entity.QueueItemView) {
	cmd.Printf("%s\n", v.ID)
	cmd.Printf("  Document: %s\n", v.DocumentRef)
	cmd.Printf("  Status:   %s\n", v.Status)
	cmd.Printf("  Priority: %s\n", v.Priority)
	cmd.Printf("  Attempts: %d/%d\n", v.AttemptCount, v.MaxAttempts)
	if v.Status == constants.QueueStatusQueued {
		cmd.Printf("  Position: %d (about %dms)\n", v.Position, v.EstimatedWaitMs)
	}
	if v.NextRetryAt != nil {
		cmd.Printf("  Retry at: %s\n", v.NextRetryAt.Format("2006-01-02 15:04:05Z07:00"))
	}
	if v.LastError != nil {
		cmd.Printf("  Error:    %s\n", *v.LastError)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := callContext(cmd)
	defer cancel()
	v, err := api.Status(ctx, server.StatusRequest{DocumentRef: args[0]})
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	printView(cmd, v)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, cancel := callContext(cmd)
	defer cancel()
	v, err := api.GetItem(ctx, server.ItemRequest{QueueID: args[0]})
	if err != nil {
		return fmt.Errorf("failed to get item: %w", err)
	}
	printView(cmd, v)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx, cancel := callContext(cmd)
	defer cancel()
	if _, err := api.Cancel(ctx, server.ItemRequest{QueueID: args[0]}); err != nil {
		return fmt.Errorf("failed to cancel: %w", err)
	}
	cmd.Printf("Cancelled %s\n", args[0])
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx, cancel := callContext(cmd)
	defer cancel()
	if _, err := api.Retry(ctx, server.ItemRequest{QueueID: args[0]}); err != nil {
		return fmt.Errorf("failed to retry: %w", err)
	}
	cmd.Printf("Re-queued %s\n", args[0])
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx, cancel := callContext(cmd)
	defer cancel()
	st, err := api.Stats(ctx, server.Empty{})
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	cmd.Printf("Workers: %d (running %d)\n", st.Workers, st.Running)
	cmd.Printf("Ready: %d  Delayed: %d\n", st.Ready, st.Delayed)
	statuses := make([]string, 0, len(st.ByStatus))
	for s := range st.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		cmd.Printf("  %-10s %d\n", s, st.ByStatus[constants.QueueStatus(s)])
	}
	cmd.Printf("Average processing: %dms over %d runs\n", st.AvgProcessingMs, st.Samples)
	return nil
}
