package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/mtiwari1/stylesync/proto"
)

func newPendingCmd() *cobra.Command {
	var (
		addr       string
		restoreID  string
		restoreAll bool
		discardID  string
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List, restore or discard interrupted requests on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			return runPending(ctx, pb.NewTaskBridgeClient(conn), cmd.OutOrStdout(), restoreID, restoreAll, discardID)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:50051", "gRPC address of a running stylesync serve")
	cmd.Flags().StringVar(&restoreID, "restore", "", "replay the request with this id")
	cmd.Flags().BoolVar(&restoreAll, "restore-all", false, "replay every request, one at a time")
	cmd.Flags().StringVar(&discardID, "discard", "", "drop the request with this id")
	cmd.MarkFlagsMutuallyExclusive("restore", "restore-all", "discard")
	return cmd
}

func runPending(ctx context.Context, client pb.TaskBridgeClient, out io.Writer, restoreID string, restoreAll bool, discardID string) error {
	switch {
	case restoreID != "":
		resp, err := client.RestoreRequest(ctx, &pb.RestoreRequestRequest{Id: restoreID})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "restored %s: %s\n", resp.Id, resp.Result)
		return nil

	case restoreAll:
		resp, err := client.RestoreAll(ctx, &pb.RestoreAllRequest{})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "restored %d, failed %d, skipped %d\n", len(resp.Restored), len(resp.Failed), len(resp.Skipped))
		for _, f := range resp.Failed {
			fmt.Fprintf(out, "  %s: %s\n", f.Id, f.Error)
		}
		return nil

	case discardID != "":
		if _, err := client.DiscardRequest(ctx, &pb.DiscardRequestRequest{Id: discardID}); err != nil {
			return err
		}
		fmt.Fprintf(out, "discarded %s\n", discardID)
		return nil
	}

	resp, err := client.ListRequests(ctx, &pb.ListRequestsRequest{})
	if err != nil {
		return err
	}
	return formatPending(out, resp)
}

func formatPending(out io.Writer, resp *pb.ListRequestsResponse) error {
	mode := "manual"
	if resp.AutoRestore {
		mode = "auto"
	}
	if len(resp.Requests) == 0 {
		fmt.Fprintf(out, "no interrupted requests (restore: %s)\n", mode)
		formatTasks(out, resp.Tasks)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tAGE\tRETRIES")
	now := time.Now()
	for _, r := range resp.Requests {
		age := now.Sub(time.UnixMilli(r.Timestamp)).Truncate(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\n", r.Id, r.Type, age, r.RetryCount, r.MaxRetries)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d interrupted (restore: %s)\n", len(resp.Requests), mode)
	formatTasks(out, resp.Tasks)
	return nil
}

func formatTasks(out io.Writer, tasks []*pb.LongTask) {
	if len(tasks) == 0 {
		return
	}
	polling := 0
	for _, t := range tasks {
		if t.Polling {
			polling++
		}
	}
	fmt.Fprintf(out, "%d long tasks awaiting results (%d polling)\n", len(tasks), polling)
}
