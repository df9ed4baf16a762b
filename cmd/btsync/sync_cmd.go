package main

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/openmined/btsync/internal/btsdk"
	btsync "github.com/openmined/btsync/internal/sync"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull remote rows to disk, push local rows back, or inspect a checkpoint",
	}
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("filter", "", "filter expression applied to the query")
	cmd.Flags().Int("traces", 0, "limit by distinct traces")
	cmd.Flags().Int("spans", 0, "limit by rows")
	cmd.Flags().Int("page-size", btsync.DefaultPageSize, "rows per request")
	cmd.Flags().String("root", btsync.DefaultRootDir, "directory holding sync state")
}

// optionalInt returns nil unless the flag was given on the command line.
func optionalInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <object_ref>",
		Short: "Download rows of project_logs:<id>, experiment:<id> or dataset:<id>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			cursor, _ := cmd.Flags().GetString("cursor")
			fresh, _ := cmd.Flags().GetBool("fresh")
			root, _ := cmd.Flags().GetString("root")
			workers, _ := cmd.Flags().GetInt("workers")
			asJSON, _ := cmd.Flags().GetBool("json")

			opts := &btsync.PullOptions{
				ObjectRef: args[0],
				Filter:    filter,
				Traces:    optionalInt(cmd, "traces"),
				Spans:     optionalInt(cmd, "spans"),
				PageSize:  pageSize,
				Cursor:    cursor,
				Fresh:     fresh,
				Root:      root,
				Workers:   workers,
			}
			if _, err := btsync.ParseObjectRef(opts.ObjectRef); err != nil {
				return err
			}
			if _, _, err := btsync.ResolvePullScope(opts.Traces, opts.Spans); err != nil {
				return err
			}

			sdk, err := newSDK(cmd)
			if err != nil {
				return err
			}
			defer sdk.Close()
			cmd.SilenceUsage = true

			opts.OrgName = sdk.OrgName()
			progress := newProgressPrinter(os.Stderr, !asJSON)
			opts.Progress = progress.Update

			res, err := btsync.NewPullEngine(sdk.Query, btsync.DefaultRetryPolicy).Run(cmd.Context(), opts)
			progress.Done()
			if err != nil {
				return err
			}
			slog.Debug("pull http", "stats", sdk.Stats())

			if asJSON {
				return printJSON(cmd.OutOrStdout(), pullSummary(res, progress.Elapsed()))
			}
			renderPull(cmd.OutOrStdout(), res, progress.Elapsed())
			return nil
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().String("cursor", "", "start a spans pull from this cursor (implies --fresh)")
	cmd.Flags().Bool("fresh", false, "discard existing state and output for this spec")
	cmd.Flags().Int("workers", btsync.DefaultWorkers, "concurrent trace chunk fetches")
	return cmd
}

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <object_ref>",
		Short: "Upload local JSONL rows into project_logs:<id>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("in")
			filter, _ := cmd.Flags().GetString("filter")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			fresh, _ := cmd.Flags().GetBool("fresh")
			root, _ := cmd.Flags().GetString("root")
			workers, _ := cmd.Flags().GetInt("workers")
			asJSON, _ := cmd.Flags().GetBool("json")

			opts := &btsync.PushOptions{
				ObjectRef: args[0],
				Input:     input,
				Filter:    filter,
				Traces:    optionalInt(cmd, "traces"),
				Spans:     optionalInt(cmd, "spans"),
				PageSize:  pageSize,
				Fresh:     fresh,
				Root:      root,
				Workers:   workers,
			}
			if _, err := btsync.ParseObjectRef(opts.ObjectRef); err != nil {
				return err
			}
			if _, _, err := btsync.ResolvePushScope(opts.Traces, opts.Spans); err != nil {
				return err
			}

			sdk, err := newSDK(cmd)
			if err != nil {
				return err
			}
			defer sdk.Close()
			cmd.SilenceUsage = true

			progress := newProgressPrinter(os.Stderr, !asJSON)
			opts.Progress = progress.Update

			res, err := btsync.NewPushEngine(sdk.Ingest).Run(cmd.Context(), opts)
			progress.Done()
			if err != nil {
				return err
			}
			slog.Debug("push http", "stats", sdk.Stats())

			if asJSON {
				return printJSON(cmd.OutOrStdout(), pushSummary(res, progress.Elapsed()))
			}
			renderPush(cmd.OutOrStdout(), res, progress.Elapsed())
			return nil
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().String("in", "", "input file or directory (default: output of the latest completed pull)")
	cmd.Flags().Bool("fresh", false, "discard existing push state for this spec")
	cmd.Flags().Int("workers", btsync.DefaultWorkers, "concurrent batch uploads")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <object_ref>",
		Short: "Show the checkpoint of the pull or push the same flags would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directionFlag, _ := cmd.Flags().GetString("direction")
			filter, _ := cmd.Flags().GetString("filter")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			root, _ := cmd.Flags().GetString("root")
			asJSON, _ := cmd.Flags().GetBool("json")

			direction, err := btsync.ParseDirection(directionFlag)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			report, err := btsync.Status(&btsync.StatusOptions{
				ObjectRef: args[0],
				Direction: direction,
				Filter:    filter,
				Traces:    optionalInt(cmd, "traces"),
				Spans:     optionalInt(cmd, "spans"),
				PageSize:  pageSize,
				Root:      root,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			renderStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}

	addScopeFlags(cmd)
	cmd.Flags().String("direction", string(btsync.DirectionPull), "pull or push")
	return cmd
}

func newSDK(cmd *cobra.Command) (*btsdk.BTSDK, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return btsdk.New(cfg.SDKConfig())
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
