package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"vesu-liquidator/internal/app"
)

var (
	reindexFrom   uint64
	reindexTo     uint64
	reindexFresh  bool
	reindexDryRun bool
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the position snapshot from chain events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reindexTo != 0 && reindexFrom > reindexTo {
			return fmt.Errorf("--from must not be after --to")
		}

		opts := app.ReindexOptions{
			From:   reindexFrom,
			To:     reindexTo,
			Fresh:  reindexFresh,
			DryRun: reindexDryRun,
		}

		return getApp().Reindex(cmd.Context(), opts)
	},
}

func init() {
	reindexCmd.Flags().Uint64Var(&reindexFrom, "from", 0, "First block (defaults to the stored block or indexer.start_block)")
	reindexCmd.Flags().Uint64Var(&reindexTo, "to", 0, "Last block (defaults to the confirmed head)")
	reindexCmd.Flags().BoolVar(&reindexFresh, "fresh", false, "Ignore the stored snapshot")
	reindexCmd.Flags().BoolVar(&reindexDryRun, "dry-run", false, "Run without writing the snapshot")
}
