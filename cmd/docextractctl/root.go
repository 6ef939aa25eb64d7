package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/docextract/internal/server"
)

var (
	addr    string
	timeout time.Duration

	// api is set by the root pre-run hook; tests assign it directly.
	api  server.QueueAPI
	conn *grpc.ClientConn
)

var rootCmd = &cobra.Command{
	Use:           "docextractctl",
	Short:         "Manage the docextract queue",
	Long:          `Enqueue documents, inspect queue items and fetch extraction results from a running docextractd.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if api != nil {
			return nil
		}
		c, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("connect %s: %w", addr, err)
		}
		conn = c
		api = server.NewClient(c)
		return nil
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if conn == nil {
			return nil
		}
		err := conn.Close()
		conn, api = nil, nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "localhost:8080", "docextractd gRPC address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-call timeout")
}

func callContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
