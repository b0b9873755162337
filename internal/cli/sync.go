package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// SyncSummary is the printed result of the sync command.
type SyncSummary struct {
	Cycles  int   `json:"cycles"`
	Rows    int   `json:"rows"`
	Synced  int64 `json:"synced"`
	Pending int64 `json:"pending"`
}

func (s SyncSummary) String() string {
	return fmt.Sprintf("synced %d entries (%d rows) in %d cycles, %d pending", s.Synced, s.Rows, s.Cycles, s.Pending)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the oplog into the remote store",
		Long: `Run drain cycles until the oplog has nothing left to push.

Exits with status 1 when the remote store rejects a write; the entries stay
pending and are retried by the next sync or by a running serve.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, err := rootOpts.connect(cmd)
			if err != nil {
				return err
			}
			defer closeClient(client, logger)
			out := rootOpts.formatter(cmd)

			res, err := client.ForceSync(cmd.Context())
			if err != nil {
				return out.Fail("sync failed", err)
			}
			stats, err := client.OplogStats(cmd.Context())
			if err != nil {
				return out.Fail("sync failed", err)
			}
			return out.Success(SyncSummary{
				Cycles:  res.Cycles,
				Rows:    res.Rows,
				Synced:  res.Synced,
				Pending: stats.Pending,
			})
		},
	}
}

// NewOplogCommand creates the oplog command.
func NewOplogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "oplog",
		Short:         "Show oplog counters",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, err := rootOpts.connect(cmd)
			if err != nil {
				return err
			}
			defer closeClient(client, logger)
			out := rootOpts.formatter(cmd)

			stats, err := client.OplogStats(cmd.Context())
			if err != nil {
				return out.Fail("oplog stats failed", err)
			}
			if out.Format == "json" {
				return out.Success(stats)
			}
			return out.Success(fmt.Sprintf("pending: %d\nsynced: %d\nlast seq: %d\ncursor: %d",
				stats.Pending, stats.Synced, stats.LastSeq, stats.Cursor))
		},
	}
}

// NewTxCommand creates the tx command group.
func NewTxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Manage staged transactions",
	}
	cmd.AddCommand(newTxCleanupCommand(rootOpts))
	return cmd
}

// CleanupSummary is the printed result of tx cleanup.
type CleanupSummary struct {
	Cleaned bool  `json:"cleaned"`
	Removed int64 `json:"removed"`
}

func (s CleanupSummary) String() string {
	return fmt.Sprintf("removed %d staged rows", s.Removed)
}

func newTxCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove staged rows of expired transactions",
		Long: `Remove every staged row of a pending transaction whose deadline passed
more than the grace period ago. Rolled-back transactions are removed the same
way once their deadline passes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, logger, err := rootOpts.connect(cmd)
			if err != nil {
				return err
			}
			defer closeClient(client, logger)
			out := rootOpts.formatter(cmd)

			if cmd.Flags().Changed("grace") {
				client.Config().Transactions.CleanupGrace = grace
			}
			res, err := client.CleanupExpired(cmd.Context())
			if err != nil {
				return out.Fail("cleanup failed", err)
			}
			return out.Success(CleanupSummary{Cleaned: res.Cleaned, Removed: res.Removed})
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "override transactions.cleanup_grace")
	return cmd
}
