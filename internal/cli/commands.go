package cli

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/xelth-com/stocksyncgo/internal/app"
	"github.com/xelth-com/stocksyncgo/internal/queue"
	"github.com/xelth-com/stocksyncgo/internal/reference"
	"github.com/xelth-com/stocksyncgo/internal/stores"
	"github.com/xelth-com/stocksyncgo/internal/sync"
	"github.com/xelth-com/stocksyncgo/internal/synclog"
	"github.com/xelth-com/stocksyncgo/internal/transport"
)

// maintenanceBudget bounds one scheduled run
const maintenanceBudget = 5 * time.Minute

func newProcessQueueCommand(opts *RootOptions) *cobra.Command {
	var secret string
	var limit int

	cmd := &cobra.Command{
		Use:   "process-queue",
		Short: "Run one queue pass and retention maintenance (cron entry point)",
		Long: `Process pending queue tasks, then prune logs and old tasks.

The cron secret must match CRON_SECRET. The run is bounded to five minutes.

Examples:
  stocksyncctl process-queue --secret "$CRON_SECRET"
  stocksyncctl process-queue --secret "$CRON_SECRET" --limit 200 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			return opts.withApp(func(a *app.App) error {
				expected := a.Config.Server.CronSecret
				if expected == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(expected)) != 1 {
					return WrapExitError(ExitCommandError, "invalid cron secret", nil)
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), maintenanceBudget)
				defer cancel()

				run, err := a.Engine.ProcessQueue(ctx, limit)
				if err != nil {
					return WrapExitError(ExitFailure, "queue pass failed", err)
				}
				maint, err := a.Engine.Maintain(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "maintenance failed", err)
				}

				for _, d := range run.Details {
					out.VerboseLog("task %d %s: %s (%s)", d.QueueID, d.Reference, d.Status, d.Message)
				}
				return out.Success(map[string]interface{}{"run": run, "maintenance": maint}, func(w io.Writer) {
					printRun(w, run)
					fmt.Fprintf(w, "Pruned %d log entries, purged %d tasks, reclaimed %d interrupted\n",
						maint.LogsPrunedByAge+maint.LogsPrunedByCount, maint.TasksPurged, maint.TasksReclaimed)
				})
			})
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "cron shared secret (required)")
	_ = cmd.MarkFlagRequired("secret")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum tasks to process (default: batch_size)")
	return cmd
}

func newRetryFailedCommand(opts *RootOptions) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Move recent failed tasks back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			return opts.withApp(func(a *app.App) error {
				n, err := a.Queue.RetryFailed(cmd.Context(), time.Duration(hours)*time.Hour)
				if err != nil {
					return WrapExitError(ExitFailure, "retry failed", err)
				}
				return out.Success(map[string]int64{"requeued": n}, func(w io.Writer) {
					fmt.Fprintf(w, "%d failed task(s) requeued\n", n)
				})
			})
		},
	}
	cmd.Flags().IntVar(&hours, "max-age-hours", 24, "only tasks that failed within this window")
	return cmd
}

func newPurgeCommand(opts *RootOptions) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed, failed and skipped tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			return opts.withApp(func(a *app.App) error {
				h := hours
				if h < 0 {
					h = a.Sync.QueueRetentionDays * 24
				}
				n, err := a.Queue.PurgeTerminal(cmd.Context(), time.Duration(h)*time.Hour)
				if err != nil {
					return WrapExitError(ExitFailure, "purge failed", err)
				}
				return out.Success(map[string]int64{"purged": n}, func(w io.Writer) {
					fmt.Fprintf(w, "%d task(s) purged\n", n)
				})
			})
		},
	}
	cmd.Flags().IntVar(&hours, "older-than-hours", -1, "age threshold (default: queue_retention_days)")
	return cmd
}

func newScanMapCommand(opts *RootOptions) *cobra.Command {
	var source, target uint
	var force bool

	cmd := &cobra.Command{
		Use:   "scan-map",
		Short: "Build reference mappings for a store pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			return opts.withApp(func(a *app.App) error {
				for _, id := range []uint{source, target} {
					if _, err := a.Registry.GetByID(cmd.Context(), id); err != nil {
						return WrapExitError(ExitCommandError, fmt.Sprintf("store %d", id), err)
					}
				}
				res, err := a.Resolver.ScanAndMap(cmd.Context(), source, target, force)
				if err != nil {
					return WrapExitError(ExitFailure, "scan failed", err)
				}
				for _, d := range res.Details {
					out.VerboseLog("%s", d)
				}
				return out.Success(res, func(w io.Writer) {
					printScan(w, res)
				})
			})
		},
	}
	cmd.Flags().UintVar(&source, "source", 0, "source store id (required)")
	cmd.Flags().UintVar(&target, "target", 0, "target store id (required)")
	cmd.Flags().BoolVar(&force, "force", false, "rewrite existing active mappings")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newDuplicatesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicates",
		Short: "List references shared by more than one product or variant",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			return opts.withApp(func(a *app.App) error {
				report, err := a.Resolver.CheckDuplicates(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "duplicate check failed", err)
				}
				if err := out.Success(report, func(w io.Writer) { printDuplicates(w, report) }); err != nil {
					return err
				}
				if report.HasDuplicates() {
					return WrapExitError(ExitFailure, fmt.Sprintf("%d duplicate reference(s)", report.TotalCount), nil)
				}
				return nil
			})
		},
	}
}

func newDiscrepanciesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discrepancies",
		Short: "Compare quantities with every active peer (read-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			return opts.withApp(func(a *app.App) error {
				found, err := a.Engine.CheckDiscrepancies(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "audit failed", err)
				}
				return out.Success(found, func(w io.Writer) { printDiscrepancies(w, found) })
			})
		},
	}
}

func newTestStoreCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-store ID",
		Short: "Check connectivity and authentication with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid store id", err)
			}
			out := opts.formatter(cmd)
			return opts.withApp(func(a *app.App) error {
				store, err := a.Registry.GetByID(cmd.Context(), uint(id))
				if err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("store %d", id), err)
				}
				res := a.Transport.TestConnectivity(cmd.Context(), transport.PeerFromStore(store))
				if err := out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "%s (%s): %s in %v\n", store.Name, store.BaseURL, res.Message, res.Latency.Round(time.Millisecond))
				}); err != nil {
					return err
				}
				if !res.Success {
					return WrapExitError(ExitFailure, "connectivity test failed", nil)
				}
				return nil
			})
		},
	}
}

// Stats is the combined statistics report
type Stats struct {
	Queue    queue.Stats             `json:"queue"`
	Log      *synclog.Stats          `json:"log"`
	Mappings *reference.MappingStats `json:"mappings"`
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue, log and mapping statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			return opts.withApp(func(a *app.App) error {
				ctx := cmd.Context()
				var s Stats
				var err error
				if s.Queue, err = a.Queue.Statistics(ctx, hours); err != nil {
					return WrapExitError(ExitFailure, "queue statistics", err)
				}
				if s.Log, err = a.Log.Statistics(ctx, time.Duration(hours)*time.Hour); err != nil {
					return WrapExitError(ExitFailure, "log statistics", err)
				}
				if s.Mappings, err = a.Resolver.Statistics(ctx); err != nil {
					return WrapExitError(ExitFailure, "mapping statistics", err)
				}
				return out.Success(s, func(w io.Writer) { printStats(w, &s) })
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "window in hours (0 = all time)")
	return cmd
}

func newGenKeyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gen-key",
		Short: "Generate a random shared secret for a new peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := stores.GenerateAPIKey()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to generate key", err)
			}
			return opts.formatter(cmd).Success(map[string]string{"api_key": key}, func(w io.Writer) {
				fmt.Fprintln(w, key)
			})
		},
	}
}

func printRun(w io.Writer, run *sync.RunResult) {
	fmt.Fprintf(w, "Queue run %s: %d synchronized, %d failed, %d skipped (%v)\n",
		run.RunID, run.Success, run.Failed, run.Skipped, run.Duration.Round(time.Millisecond))
}

func printScan(w io.Writer, res *reference.ScanResult) {
	fmt.Fprintf(w, "Scanned %d reference(s): %d new, %d updated, %d failed\n",
		res.TotalScanned, res.NewMappings, res.UpdatedMappings, res.FailedMappings)
}

func printDuplicates(w io.Writer, report *reference.DuplicateReport) {
	if !report.HasDuplicates() {
		fmt.Fprintln(w, "No duplicate references")
		return
	}
	for _, groups := range [][]reference.DuplicateGroup{report.Products, report.Variants, report.Cross} {
		for _, g := range groups {
			fmt.Fprintf(w, "%-8s %s: %d items\n", g.Namespace, g.Reference, len(g.Items))
		}
	}
	fmt.Fprintf(w, "%d duplicate reference(s)\n", report.TotalCount)
}

func printDiscrepancies(w io.Writer, found []sync.Discrepancy) {
	if len(found) == 0 {
		fmt.Fprintln(w, "All stores agree")
		return
	}
	for _, d := range found {
		fmt.Fprintf(w, "%s:", d.Reference)
		ids := make([]uint, 0, len(d.Quantities))
		for id := range d.Quantities {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			q := d.Quantities[id]
			if q.Available {
				fmt.Fprintf(w, " %s=%g", q.StoreName, q.Quantity)
			} else {
				fmt.Fprintf(w, " %s=n/a", q.StoreName)
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d discrepancy(ies)\n", len(found))
}

func printStats(w io.Writer, s *Stats) {
	q := s.Queue
	fmt.Fprintf(w, "Queue:    %d total, %d pending, %d processing, %d completed, %d failed, %d skipped (avg %.2fs)\n",
		q.Total, q.Pending, q.Processing, q.Completed, q.Failed, q.Skipped, q.AvgCompletionSeconds)
	fmt.Fprintf(w, "Log:      %d entries\n", s.Log.Total)
	fmt.Fprintf(w, "Mappings: %d total, %d active\n", s.Mappings.Total, s.Mappings.Active)
}
