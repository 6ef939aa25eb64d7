package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/internal/server"
)

var resultCmd = &cobra.Command{
	Use:   "result [document-ref]",
	Short: "Print the latest extraction result for a document",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResult,
}

var attemptsCmd = &cobra.Command{
	Use:   "attempts [queue-id]",
	Short: "List engine attempts recorded for a queue item",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttempts,
}

var exportCmd = &cobra.Command{
	Use:   "export [document-ref]",
	Short: "Write the latest result's tables and form fields to XLSX",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var (
	resultID   string
	textOnly   bool
	exportPath string
)

func init() {
	resultCmd.Flags().StringVar(&resultID, "id", "", "fetch a specific result id instead of the latest")
	resultCmd.Flags().BoolVar(&textOnly, "text", false, "print only the normalized text")
	exportCmd.Flags().StringVarP(&exportPath, "out", "o", "", "output file (default <ref base>.xlsx)")

	rootCmd.AddCommand(resultCmd, attemptsCmd, exportCmd)
}

func runResult(cmd *cobra.Command, args []string) error {
	req := server.ResultRequest{ResultID: resultID}
	if len(args) == 1 {
		req.DocumentRef = args[0]
	}
	if req.ResultID == "" && req.DocumentRef == "" {
		return fmt.Errorf("a document ref or --id is required")
	}
	ctx, cancel := callContext(cmd)
	defer cancel()
	res, err := api.GetResult(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to get result: %w", err)
	}
	if textOnly {
		cmd.Println(res.FullTextNormalized)
		return nil
	}
	return printJSON(cmd, res)
}

func runAttempts(cmd *cobra.Command, args []string) error {
	ctx, cancel := callContext(cmd)
	defer cancel()
	list, err := api.ListAttempts(ctx, server.ItemRequest{QueueID: args[0]})
	if err != nil {
		return fmt.Errorf("failed to list attempts: %w", err)
	}
	if len(list) == 0 {
		cmd.Printf("No attempts recorded for %s\n", args[0])
		return nil
	}
	for _, a := range list {
		conf := "-"
		if a.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *a.Confidence)
		}
		cmd.Printf("%d. %-12s %-8s conf=%s %dms", a.Order, a.Engine, a.Status, conf, a.Duration().Milliseconds())
		if a.ErrorMessage != "" {
			cmd.Printf(" %s", a.ErrorMessage)
		}
		cmd.Println()
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := callContext(cmd)
	defer cancel()
	resp, err := api.ExportXLSX(ctx, server.StatusRequest{DocumentRef: args[0]})
	if err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	b, err := base64.StdEncoding.DecodeString(resp.XLSXBase64)
	if err != nil {
		return fmt.Errorf("decode export: %w", err)
	}
	out := exportPath
	if out == "" {
		out = path.Base(resp.DocumentRef) + ".xlsx"
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	cmd.Printf("Wrote %s (%d bytes)\n", out, len(b))
	return nil
}
